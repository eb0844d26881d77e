package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinica/clinic/pkg/apperr"
)

type Service struct {
	patients PatientRepository
	now      func() time.Time
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients, now: time.Now}
}

func (s *Service) validate(p *Patient) error {
	p.DocumentNumber = strings.TrimSpace(p.DocumentNumber)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.DocumentNumber == "" {
		return apperr.Validation("document_number is required")
	}
	if p.FirstName == "" || p.LastName == "" {
		return apperr.Validation("first_name and last_name are required")
	}
	if p.Gender == "" {
		p.Gender = GenderUnknown
	}
	p.Gender = strings.ToLower(p.Gender)
	if !validGenders[p.Gender] {
		return apperr.Validation("invalid gender: %s", p.Gender)
	}
	if p.BirthDate != nil && p.BirthDate.After(s.now()) {
		return apperr.Validation("birth_date cannot be in the future")
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	existing, err := s.patients.GetByDocument(ctx, p.DocumentNumber)
	if err == nil && existing != nil {
		return apperr.New(apperr.TypeConflict, "a patient with document %s already exists", p.DocumentNumber)
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := s.validate(p); err != nil {
		return err
	}
	existing, err := s.patients.GetByDocument(ctx, p.DocumentNumber)
	if err == nil && existing != nil && existing.ID != p.ID {
		return apperr.New(apperr.TypeConflict, "a patient with document %s already exists", p.DocumentNumber)
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) SearchPatients(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, params, limit, offset)
}

// ActivePolicyID returns the insurance policy on the patient's record, or nil.
// Inactive patients cannot be billed.
func (s *Service) ActivePolicyID(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, apperr.Validation("patient %s is inactive", p.DocumentNumber)
	}
	return p.InsurancePolicyID, nil
}
