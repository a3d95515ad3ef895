// Package apperr defines the error taxonomy shared by the flag, entitlement
// and metering services.
//
// Validation and configuration failures are concrete types so handlers can
// surface their messages verbatim. Not-found, conflict and transient storage
// failures are marks applied with cockroachdb/errors so the original cause
// stays attached for logging.
package apperr

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/tollgate/pkg/db"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("not_found")
	ErrConflict  = errors.New("conflict")
	ErrTransient = errors.New("transient_storage_error")
)

// ValidationError rejects a write before it reaches storage.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// ConfigurationError reports a malformed scope or request context. It is a
// programmer or operator error and must never be read as "feature off".
type ConfigurationError struct {
	Message string `json:"message"`
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

func Validation(field, code, message string) error {
	return &ValidationError{Field: field, Code: code, Message: message}
}

func Configuration(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) error {
	return errors.Mark(errors.Newf("%s not found", what), ErrNotFound)
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "storage unavailable"), ErrTransient)
}

// Storage classifies an error returned by a repository call.
func Storage(err error) error {
	switch {
	case err == nil:
		return nil
	case IsValidation(err), IsConfiguration(err), IsNotFound(err), IsConflict(err), IsTransient(err):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Mark(err, ErrNotFound)
	case db.IsDuplicateKeyErr(err):
		return errors.Mark(errors.Wrap(err, "duplicate natural key"), ErrConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Mark(err, ErrTransient)
	default:
		return Transient(err)
	}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// AsValidation returns the validation error carried by err, if any.
func AsValidation(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) && target != nil {
		return target, true
	}
	return nil, false
}
