package domain

import (
	"encoding/json"
	"fmt"
)

// Filters is the optional conjunctive predicate of an export.
// A nil field means the filter is absent.
type Filters struct {
	CountryCode      *string  `json:"country_code,omitempty"`
	SubscriptionTier *string  `json:"subscription_tier,omitempty"`
	MinLifetimeValue *float64 `json:"min_ltv,omitempty"`
}

// Encode serializes the filters for storage on the job record
func (f Filters) Encode() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode filters: %w", err)
	}
	return string(data), nil
}

// DecodeFilters parses filters stored on a job record
func DecodeFilters(raw string) (Filters, error) {
	var f Filters
	if raw == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return f, fmt.Errorf("failed to decode filters: %w", err)
	}
	return f, nil
}
