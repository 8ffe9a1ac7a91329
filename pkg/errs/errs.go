// Package errs defines the sentinel error kinds shared across OARS
// services, so callers can classify a failure with errors.Is instead of
// matching on message text.
package errs

import "errors"

var (
	// ErrNotFound means the requested entity does not exist for the tenant.
	ErrNotFound = errors.New("oars: not found")

	// ErrConflict means the request collided with existing state (an
	// idempotency key reused with a different body, a duplicate pending
	// job for an action, a stale policy version).
	ErrConflict = errors.New("oars: conflict")

	// ErrInvalidInput means the caller supplied a malformed or
	// schema-violating request.
	ErrInvalidInput = errors.New("oars: invalid input")

	// ErrForbidden means the caller is authenticated but not entitled to
	// the requested operation, tenant, or scope.
	ErrForbidden = errors.New("oars: forbidden")

	// ErrUnauthorized means the caller's credentials could not be verified.
	ErrUnauthorized = errors.New("oars: unauthorized")

	// ErrRateLimited means the caller exceeded its tenant rate budget.
	ErrRateLimited = errors.New("oars: rate limited")

	// ErrStepUpRequired means a step-up authentication challenge must be
	// completed before the operation can proceed.
	ErrStepUpRequired = errors.New("oars: step-up authentication required")

	// ErrPolicyDenied means a policy evaluation returned a deny decision.
	ErrPolicyDenied = errors.New("oars: denied by policy")

	// ErrLedgerIntegrity means a hash-chain verification failed.
	ErrLedgerIntegrity = errors.New("oars: ledger integrity violation")

	// ErrUnsupported means the operation is recognized but not available
	// in the current configuration (e.g. a connector kind not registered).
	ErrUnsupported = errors.New("oars: unsupported")

	// ErrUnavailable means a dependency (store, queue, SIEM target) could
	// not be reached; callers may retry.
	ErrUnavailable = errors.New("oars: unavailable")
)
