package invoice

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberGenerator produces an invoice number for an invoice issued at now.
type NumberGenerator func(now time.Time) string

const (
	numberPrefix = "INV-"
	suffixLen    = 10
)

// NewNumber returns "INV-YYYYMM-XXXXXXXXXX": the UTC year and month of now
// followed by ten upper-case hex characters from a random (v4) UUID.
func NewNumber(now time.Time) string {
	u := uuid.New()
	suffix := strings.ToUpper(hex.EncodeToString(u[:suffixLen/2]))
	return fmt.Sprintf("%s%s-%s", numberPrefix, now.UTC().Format("200601"), suffix)
}

// ValidNumber reports whether s has the shape produced by NewNumber.
func ValidNumber(s string) bool {
	rest, ok := strings.CutPrefix(s, numberPrefix)
	if !ok || len(rest) != 6+1+suffixLen || rest[6] != '-' {
		return false
	}
	if _, err := time.Parse("200601", rest[:6]); err != nil {
		return false
	}
	for _, r := range rest[7:] {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}
