package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrConfiguration marks connection parameters that are missing or outside
	// their allowed values, and adapters that do not satisfy the contract.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectivity marks a source system that cannot be reached or rejected
	// the supplied credentials.
	ErrConnectivity = errors.New("connectivity error")

	// ErrPrecondition marks a job phase whose predecessor did not reach done.
	ErrPrecondition = errors.New("precondition failed")

	// ErrLockAcquisition marks a status update that could not obtain the
	// per-source lock within its retry budget.
	ErrLockAcquisition = errors.New("lock acquisition failed")

	// ErrData marks malformed or unreadable source data.
	ErrData = errors.New("data error")
)
