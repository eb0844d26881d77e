package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct{ pgx.Tx }

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Errorf("expected nil tx for wrong type, got %v", tx)
	}
}

func TestWithTx_NestedReusesOuter(t *testing.T) {
	outer := &fakeTx{}
	ctx := ContextWithTx(context.Background(), outer)

	// No pool: a nested call must not try to begin a new transaction.
	r := NewTxRunner(nil)
	var seen pgx.Tx
	err := r.WithTx(ctx, func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != outer {
		t.Error("expected nested unit of work to see the outer transaction")
	}
}

func TestWithTx_NestedPropagatesError(t *testing.T) {
	ctx := ContextWithTx(context.Background(), &fakeTx{})
	want := errors.New("boom")
	err := NewTxRunner(nil).WithTx(ctx, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
