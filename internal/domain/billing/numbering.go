package billing

import (
	"fmt"
	"strings"
)

// FormatNumber renders an invoice number as PREFIX-YYYY-NNNNNN.
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", strings.ToUpper(prefix), year, seq)
}
