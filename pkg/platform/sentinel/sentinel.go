package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the ledger return
// these (optionally wrapped) so services can translate them into domain
// errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrAlreadyUsed: a uniqueness key (email, wallet, content hash) is taken
// - ErrInvalidState: record is deactivated and refuses further mutation
// - ErrUnavailable: backend temporarily unreachable
// - ErrTampered: a ledger block no longer recomputes to its stored hash
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrTampered     = errors.New("tampered")
)
