package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveColumns(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		policy   ColumnPolicy
		expected []string
		wantErr  bool
	}{
		{
			name:     "empty falls back to whitelist",
			raw:      "",
			policy:   ColumnPolicyDrop,
			expected: AllColumns(),
		},
		{
			name:     "requested order is kept",
			raw:      "email, id",
			policy:   ColumnPolicyDrop,
			expected: []string{"email", "id"},
		},
		{
			name:     "unknown columns are dropped",
			raw:      "id,password,country_code",
			policy:   ColumnPolicyDrop,
			expected: []string{"id", "country_code"},
		},
		{
			name:     "only unknown columns falls back to whitelist",
			raw:      "password,ssn",
			policy:   ColumnPolicyDrop,
			expected: AllColumns(),
		},
		{
			name:    "reject policy fails on unknown column",
			raw:     "id,password",
			policy:  ColumnPolicyReject,
			wantErr: true,
		},
		{
			name:     "reject policy accepts known columns",
			raw:      "name,lifetime_value",
			policy:   ColumnPolicyReject,
			expected: []string{"name", "lifetime_value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, err := ResolveColumns(tt.raw, tt.policy)
			if tt.wantErr {
				require.Error(t, err)
				var validationErr *ValidationError
				assert.True(t, errors.As(err, &validationErr))
				assert.Equal(t, "columns", validationErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cols)
		})
	}
}

func TestAllColumns_DeclaredOrder(t *testing.T) {
	assert.Equal(t, []string{
		"id", "name", "email", "signup_date", "country_code", "subscription_tier", "lifetime_value",
	}, AllColumns())

	cols := AllColumns()
	cols[0] = "changed"
	assert.Equal(t, "id", AllColumns()[0])
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		processed, total int64
		expected         int
	}{
		{0, 0, 0},
		{5000, 12000, 41},
		{10000, 12000, 83},
		{12000, 12000, 100},
		{42, 42, 100},
		{1, 3, 33},
		{13000, 12000, 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.processed, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.expected, Percentage(tt.processed, tt.total))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestFilters_RoundTrip(t *testing.T) {
	f := Filters{CountryCode: Ptr("US"), MinLifetimeValue: Ptr(0.0)}

	raw, err := f.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"country_code":"US","min_ltv":0}`, raw)

	decoded, err := DecodeFilters(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.CountryCode)
	assert.Equal(t, "US", *decoded.CountryCode)
	assert.Nil(t, decoded.SubscriptionTier)
	require.NotNil(t, decoded.MinLifetimeValue)
	assert.Equal(t, 0.0, *decoded.MinLifetimeValue)
}

func TestFailureKindOf(t *testing.T) {
	storageErr := NewExportError(FailureStorage, "write row", errors.New("disk full"))
	assert.Equal(t, FailureStorage, FailureKindOf(fmt.Errorf("wrapped: %w", storageErr)))
	assert.Equal(t, "write row: disk full", storageErr.Error())

	assert.Equal(t, FailureValidation, FailureKindOf(&ValidationError{Field: "delimiter", Reason: "x"}))
	assert.Equal(t, FailureDataSource, FailureKindOf(errors.New("boom")))
}
