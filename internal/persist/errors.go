package persist

import (
	"errors"
	"fmt"

	"github.com/ryanbastic/go-fieldmap/internal/draft"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
)

// StoreError wraps a failure reported by the external store. The draft or
// edit that caused it is left intact so the caller can retry or cancel.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err is a user-correctable validation failure.
func IsValidation(err error) bool {
	return draft.IsValidation(err) ||
		errors.Is(err, schema.ErrMissingCategory) ||
		errors.Is(err, schema.ErrUnknownCategory) ||
		errors.Is(err, schema.ErrMissingRequiredField) ||
		errors.Is(err, schema.ErrInvalidValue) ||
		errors.Is(err, schema.ErrInvalidDefinition) ||
		errors.Is(err, ErrInvalidMapConfiguration)
}
