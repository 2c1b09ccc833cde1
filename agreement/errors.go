package agreement

import (
	"errors"
	"fmt"
)

// Error categories. Callers classify failures with errors.Is against these.
var (
	ErrValidation     = errors.New("agreement: validation failed")
	ErrUnauthorized   = errors.New("agreement: actor not permitted")
	ErrStateConflict  = errors.New("agreement: state conflict")
	ErrNotFound       = errors.New("agreement: not found")
	ErrReconciliation = errors.New("agreement: blockchain id reconciliation failed")
)

var (
	ErrUnsupportedAgreementType = fmt.Errorf("%w: unsupported agreement type", ErrValidation)
	ErrInvalidAgreementTerms    = fmt.Errorf("%w: invalid agreement terms", ErrValidation)
	ErrUnsupportedAction        = fmt.Errorf("%w: action not available for agreement type", ErrValidation)
	// ErrConcurrentUpdate is returned when a compare-and-swap lost to another writer.
	ErrConcurrentUpdate = fmt.Errorf("%w: concurrent update", ErrStateConflict)
)
