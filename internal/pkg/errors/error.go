package xerrors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the ledger, catalog and dispatchers. Transport code maps them to
// protocol responses with KindOf.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("conflict: resource already exists")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrTrialAlreadyUsed  = errors.New("trial already used")
	ErrMultiCategoryDemo = errors.New("demo tariff can be requested for a single category only")
	ErrOperationFailed   = errors.New("operation failed")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrForbidden         = errors.New("forbidden")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrConflict,
	ErrInvalidState,
	ErrTrialAlreadyUsed,
	ErrMultiCategoryDemo,
	ErrUnauthorized,
	ErrForbidden,
	ErrOperationFailed,
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Fail marks err as a storage-layer failure. Errors that already carry a kind keep it.
func Fail(err error, message string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != ErrOperationFailed {
		return Wrap(err, message)
	}
	if errors.Is(err, ErrOperationFailed) {
		return Wrap(err, message)
	}
	return fmt.Errorf("%s: %w: %w", message, ErrOperationFailed, err)
}

// KindOf returns the sentinel kind carried by err. Unknown errors are reported as
// ErrOperationFailed; nil is returned for a nil error.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrOperationFailed
}

var codes = map[error]string{
	ErrValidation:        "validation_error",
	ErrNotFound:          "not_found",
	ErrConflict:          "conflict",
	ErrInvalidState:      "invalid_state",
	ErrTrialAlreadyUsed:  "trial_already_used",
	ErrMultiCategoryDemo: "multi_category_demo",
	ErrUnauthorized:      "unauthorized",
	ErrForbidden:         "forbidden",
	ErrOperationFailed:   "operation_failed",
}

// Code is the stable machine-readable name of err's kind.
func Code(err error) string {
	if err == nil {
		return ""
	}
	return codes[KindOf(err)]
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
