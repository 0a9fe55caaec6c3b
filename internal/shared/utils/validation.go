package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	DefaultMaxSourceSize = 64 * 1024 // submitted program text
	MaxMessageSize       = 1 << 20   // one inbound WebSocket message
	MaxIDLength          = 128
)

var (
	ErrSourceTooLarge = errors.New("source exceeds size limit")
	ErrSourceEncoding = errors.New("source is not valid text")
)

// SafeIDPattern allows alphanumeric, hyphens, underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SourceValidator checks program text before it reaches a sandbox.
type SourceValidator struct {
	maxSize int
}

// NewSourceValidator creates a validator; maxSize <= 0 uses the default.
func NewSourceValidator(maxSize int) *SourceValidator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSourceSize
	}
	return &SourceValidator{maxSize: maxSize}
}

// MaxSize returns the byte limit.
func (v *SourceValidator) MaxSize() int {
	return v.maxSize
}

// Validate rejects oversized, non-UTF-8 or NUL-containing source. Empty
// source is allowed and traces as an empty program.
func (v *SourceValidator) Validate(code string) error {
	if len(code) > v.maxSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d bytes", ErrSourceTooLarge, len(code), v.maxSize)
	}
	if !utf8.ValidString(code) {
		return fmt.Errorf("%w: invalid UTF-8", ErrSourceEncoding)
	}
	if strings.ContainsRune(code, 0) {
		return fmt.Errorf("%w: contains NUL", ErrSourceEncoding)
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID path parameter
func ValidateID(id, fieldName string) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, true); err != nil {
		return err
	}

	if !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}
