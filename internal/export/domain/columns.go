package domain

import (
	"fmt"
	"strings"
)

// Exportable column names, in declared order
const (
	ColumnID               = "id"
	ColumnName             = "name"
	ColumnEmail            = "email"
	ColumnSignupDate       = "signup_date"
	ColumnCountryCode      = "country_code"
	ColumnSubscriptionTier = "subscription_tier"
	ColumnLifetimeValue    = "lifetime_value"
)

// ColumnPolicy decides what happens to requested columns outside the whitelist
type ColumnPolicy string

const (
	// ColumnPolicyDrop silently drops unknown columns
	ColumnPolicyDrop ColumnPolicy = "drop"
	// ColumnPolicyReject turns unknown columns into a validation error
	ColumnPolicyReject ColumnPolicy = "reject"
)

var columnWhitelist = []string{
	ColumnID,
	ColumnName,
	ColumnEmail,
	ColumnSignupDate,
	ColumnCountryCode,
	ColumnSubscriptionTier,
	ColumnLifetimeValue,
}

// AllColumns returns a copy of the column whitelist in declared order
func AllColumns() []string {
	out := make([]string, len(columnWhitelist))
	copy(out, columnWhitelist)
	return out
}

// IsExportableColumn reports whether name is in the whitelist
func IsExportableColumn(name string) bool {
	for _, c := range columnWhitelist {
		if c == name {
			return true
		}
	}
	return false
}

// ResolveColumns turns a comma-separated column list into the output columns.
// Requested order is kept. When nothing valid is requested the full whitelist
// is returned.
func ResolveColumns(raw string, policy ColumnPolicy) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return AllColumns(), nil
	}

	var resolved, unknown []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if IsExportableColumn(name) {
			resolved = append(resolved, name)
			continue
		}
		unknown = append(unknown, name)
	}

	if len(unknown) > 0 && policy == ColumnPolicyReject {
		return nil, &ValidationError{
			Field:  "columns",
			Reason: fmt.Sprintf("unknown columns: %s", strings.Join(unknown, ", ")),
		}
	}

	if len(resolved) == 0 {
		return AllColumns(), nil
	}
	return resolved, nil
}
