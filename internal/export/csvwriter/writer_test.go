package csvwriter

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_MinimalQuoting(t *testing.T) {
	tests := []struct {
		name     string
		comma    rune
		quote    rune
		record   []string
		expected string
	}{
		{
			name:     "plain fields",
			comma:    ',',
			quote:    '"',
			record:   []string{"1", "Alice", "alice@example.com"},
			expected: "1,Alice,alice@example.com\r\n",
		},
		{
			name:     "field with delimiter",
			comma:    ',',
			quote:    '"',
			record:   []string{"Doe, John", "US"},
			expected: "\"Doe, John\",US\r\n",
		},
		{
			name:     "field with quote char is doubled",
			comma:    ',',
			quote:    '"',
			record:   []string{`say "hi"`},
			expected: "\"say \"\"hi\"\"\"\r\n",
		},
		{
			name:     "field with line break",
			comma:    ',',
			quote:    '"',
			record:   []string{"line1\nline2", "x"},
			expected: "\"line1\nline2\",x\r\n",
		},
		{
			name:     "semicolon delimiter leaves commas alone",
			comma:    ';',
			quote:    '"',
			record:   []string{"Doe, John", "a;b"},
			expected: "Doe, John;\"a;b\"\r\n",
		},
		{
			name:     "custom quote char",
			comma:    '|',
			quote:    '\'',
			record:   []string{"O'Brien", "a|b", `"plain"`},
			expected: "'O''Brien'|'a|b'|\"plain\"\r\n",
		},
		{
			name:     "multibyte delimiter",
			comma:    '§',
			quote:    '"',
			record:   []string{"a", "b§c"},
			expected: "a§\"b§c\"\r\n",
		},
		{
			name:     "empty fields are not quoted",
			comma:    ',',
			quote:    '"',
			record:   []string{"", "x", ""},
			expected: ",x,\r\n",
		},
		{
			name:     "single empty field is quoted",
			comma:    ',',
			quote:    '"',
			record:   []string{""},
			expected: "\"\"\r\n",
		},
		{
			name:     "single empty field with custom quote char",
			comma:    ';',
			quote:    '\'',
			record:   []string{""},
			expected: "''\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, tt.comma, tt.quote)
			require.NoError(t, err)

			require.NoError(t, w.Write(tt.record))
			require.NoError(t, w.Flush())

			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestWriter_OutputParsesBack(t *testing.T) {
	records := [][]string{
		{"id", "name", "email"},
		{"1", "Doe, John", "john@example.com"},
		{"2", `Quote "Q" Person`, "q@example.com"},
		{"3", "Multi\nLine", "m@example.com"},
	}

	var buf bytes.Buffer
	w, err := NewWriter(&buf, ';', '"')
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Flush())

	reader := csv.NewReader(strings.NewReader(buf.String()))
	reader.Comma = ';'
	parsed, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, records, parsed)
}

func TestWriter_SingleColumnEmptyValuesParseBack(t *testing.T) {
	records := [][]string{{"name"}, {""}, {"bob"}, {""}}

	var buf bytes.Buffer
	w, err := NewWriter(&buf, ',', '"')
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Flush())

	parsed, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, records, parsed)
}

func TestValidateDialect(t *testing.T) {
	assert.NoError(t, ValidateDialect(',', '"'))
	assert.NoError(t, ValidateDialect('\t', '\''))
	assert.ErrorIs(t, ValidateDialect(',', ','), errSameRunes)
	assert.ErrorIs(t, ValidateDialect('\n', '"'), errInvalidDelim)
	assert.ErrorIs(t, ValidateDialect(',', '\r'), errInvalidQuote)
	assert.ErrorIs(t, ValidateDialect(0, '"'), errInvalidDelim)

	_, err := NewWriter(&bytes.Buffer{}, '"', '"')
	assert.Error(t, err)
}
