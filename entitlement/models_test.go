package entitlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/atelier/entitlement"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		used      int64
		limit     int64
		allowed   bool
		remaining int64
	}{
		{"room left", 3, 5, true, 2},
		{"at limit", 5, 5, false, 0},
		{"over limit", 7, 5, false, 0},
		{"zero limit", 0, 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := entitlement.Check(entitlement.FeatureArtworks, tt.used, tt.limit)
			assert.Equal(t, tt.allowed, r.Allowed)
			assert.Equal(t, tt.remaining, r.Remaining)
			assert.Equal(t, entitlement.FeatureArtworks, r.Feature)
			if !tt.allowed {
				assert.NotEmpty(t, r.Reason)
			}
		})
	}
}
