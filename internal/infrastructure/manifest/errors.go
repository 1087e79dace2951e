package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// Row error codes
const (
	ErrCodeMalformedRow    = "ERR_MANIFEST_MALFORMED_ROW"
	ErrCodeRequiredField   = "ERR_MANIFEST_REQUIRED_FIELD"
	ErrCodeInvalidFormat   = "ERR_MANIFEST_INVALID_FORMAT"
	ErrCodeDuplicateInFile = "ERR_MANIFEST_DUPLICATE_IN_FILE"
	ErrCodeRejected        = "ERR_MANIFEST_REJECTED"
)

var (
	// ErrEmptyFile is returned when the manifest has no content
	ErrEmptyFile = errors.New("manifest is empty")

	// ErrInvalidEncoding is returned when the manifest is not UTF-8
	ErrInvalidEncoding = errors.New("manifest is not valid UTF-8")

	// ErrMissingHeader is returned when the manifest has no header row
	ErrMissingHeader = errors.New("manifest missing header row")
)

// RowError describes why one manifest line was not received
type RowError struct {
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("line %d, column '%s': %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ErrorCollection keeps the first maxErrors row errors and counts the rest
type ErrorCollection struct {
	errors     []RowError
	maxErrors  int
	totalCount int
}

// NewErrorCollection creates a collection; non-positive limits default to 100
func NewErrorCollection(maxErrors int) *ErrorCollection {
	if maxErrors <= 0 {
		maxErrors = 100
	}
	return &ErrorCollection{maxErrors: maxErrors}
}

// Add records err
func (ec *ErrorCollection) Add(err RowError) {
	ec.totalCount++
	if len(ec.errors) < ec.maxErrors {
		ec.errors = append(ec.errors, err)
	}
}

func (ec *ErrorCollection) addRequired(line int, column string) {
	ec.Add(RowError{Line: line, Column: column, Code: ErrCodeRequiredField,
		Message: fmt.Sprintf("field '%s' is required", column)})
}

func (ec *ErrorCollection) addFormat(line int, column, expected, value string) {
	ec.Add(RowError{Line: line, Column: column, Code: ErrCodeInvalidFormat,
		Message: fmt.Sprintf("invalid format, expected %s", expected), Value: value})
}

// Errors returns the kept errors
func (ec *ErrorCollection) Errors() []RowError {
	return ec.errors
}

// TotalCount includes errors dropped past the limit
func (ec *ErrorCollection) TotalCount() int {
	return ec.totalCount
}

// IsTruncated reports whether errors were dropped
func (ec *ErrorCollection) IsTruncated() bool {
	return ec.totalCount > ec.maxErrors
}

func (ec *ErrorCollection) String() string {
	if ec.totalCount == 0 {
		return "no errors"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d error(s) found", ec.totalCount)
	if ec.IsTruncated() {
		fmt.Fprintf(&sb, " (showing first %d)", ec.maxErrors)
	}
	sb.WriteString(":\n")
	for _, err := range ec.errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}
