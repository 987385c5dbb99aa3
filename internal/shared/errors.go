package shared

import "errors"

// Sentinel errors for the failure taxonomy surfaced to command callers.
// Event-path failures are logged and swallowed instead (see services).
var (
	ErrNotFound         = errors.New("not found")
	ErrOwnerNotPresent  = errors.New("new owner is not in the channel")
	ErrPermissionDenied = errors.New("permission denied")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCleanupRunning   = errors.New("cleanup already running")
	ErrValidation       = errors.New("validation failed")
)
