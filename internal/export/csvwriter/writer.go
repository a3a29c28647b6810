// Package csvwriter encodes records as delimited text with a configurable
// field delimiter and quote character, quoting fields only when needed.
package csvwriter

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	errInvalidDelim = errors.New("csvwriter: invalid field delimiter")
	errInvalidQuote = errors.New("csvwriter: invalid quote character")
	errSameRunes    = errors.New("csvwriter: delimiter and quote character must differ")
)

// Writer writes delimited records through a buffered writer
type Writer struct {
	comma rune
	quote rune
	w     *bufio.Writer
}

// ValidateDialect checks that delimiter and quote character can encode records unambiguously
func ValidateDialect(comma, quote rune) error {
	if !validRune(comma) {
		return errInvalidDelim
	}
	if !validRune(quote) {
		return errInvalidQuote
	}
	if comma == quote {
		return errSameRunes
	}
	return nil
}

func validRune(r rune) bool {
	return r != 0 && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

// NewWriter returns a Writer terminating records with CRLF
func NewWriter(w io.Writer, comma, quote rune) (*Writer, error) {
	if err := ValidateDialect(comma, quote); err != nil {
		return nil, err
	}
	return &Writer{
		comma: comma,
		quote: quote,
		w:     bufio.NewWriterSize(w, 64*1024),
	}, nil
}

// Write encodes one record
func (w *Writer) Write(record []string) error {
	// a lone empty field would otherwise read back as a blank line
	if len(record) == 1 && record[0] == "" {
		_, err := w.w.WriteString(string([]rune{w.quote, w.quote}) + "\r\n")
		return err
	}

	for i, field := range record {
		if i > 0 {
			if _, err := w.w.WriteRune(w.comma); err != nil {
				return err
			}
		}
		if err := w.writeField(field); err != nil {
			return err
		}
	}

	_, err := w.w.WriteString("\r\n")
	return err
}

func (w *Writer) writeField(field string) error {
	if !w.needsQuotes(field) {
		_, err := w.w.WriteString(field)
		return err
	}

	if _, err := w.w.WriteRune(w.quote); err != nil {
		return err
	}
	for _, r := range field {
		// quote runes are escaped by doubling
		if r == w.quote {
			if _, err := w.w.WriteRune(w.quote); err != nil {
				return err
			}
		}
		if _, err := w.w.WriteRune(r); err != nil {
			return err
		}
	}
	_, err := w.w.WriteRune(w.quote)
	return err
}

func (w *Writer) needsQuotes(field string) bool {
	if field == "" {
		return false
	}
	return strings.ContainsRune(field, w.comma) ||
		strings.ContainsRune(field, w.quote) ||
		strings.ContainsAny(field, "\r\n")
}

// Flush writes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.w.Flush()
}
