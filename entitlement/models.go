// Package entitlement describes the outcome of a plan limit check.
package entitlement

const (
	FeatureArtworks         = "artworks"
	FeatureFeaturedArtworks = "featured_artworks"
)

type Result struct {
	Allowed   bool   `json:"allowed"`
	Feature   string `json:"feature"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

// Check builds a Result for a hard limit.
func Check(feature string, used, limit int64) *Result {
	r := &Result{
		Feature:   feature,
		Used:      used,
		Limit:     limit,
		Remaining: max(limit-used, 0),
	}
	r.Allowed = used < limit
	if !r.Allowed {
		r.Reason = "limit reached"
	}
	return r
}

// Deny returns a Result rejecting feature for reason.
func Deny(feature, reason string) *Result {
	return &Result{Feature: feature, Reason: reason}
}
