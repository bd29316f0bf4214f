package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrSelection     = errors.New("selection failed")
	ErrStorage       = errors.New("storage unavailable")
	ErrBusy          = errors.New("another run holds the lock")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
)

// Wrap builds an error message that includes workflow context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, mode, operation, message string, err error) error {
	detail := buildDetail(mode, operation, message)
	if marker == nil {
		marker = ErrStorage
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Aborts reports whether err ends a whole workflow rather than a single record.
func Aborts(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSelection), errors.Is(err, ErrStorage),
		errors.Is(err, ErrConfiguration), errors.Is(err, ErrBusy):
		return true
	default:
		return false
	}
}

func buildDetail(mode, operation, message string) string {
	parts := make([]string, 0, 3)
	if mode = strings.TrimSpace(mode); mode != "" {
		parts = append(parts, mode)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "workflow failure"
	}
	return strings.Join(parts, ": ")
}
