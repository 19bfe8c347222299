// Package store persists identity records. Implementations are
// interface-driven so the registry behaves identically over Postgres and the
// in-memory fallback; the conformance suite in memory_test.go runs against
// both.
package store

import (
	"context"
	"fmt"

	"veriledger/internal/identity/models"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
)

// Store is the registry's persistence port.
//
// The two mutating methods are single critical sections: the uniqueness
// check and the write happen under one lock (mutex or row lock plus unique
// indexes), never as separate check-then-write steps.
type Store interface {
	// CreateIfUnique inserts the record if none of its uniqueness keys
	// (email, content hash, wallet among non-deactivated records) is taken.
	// Returns a DuplicateError naming the colliding field otherwise.
	CreateIfUnique(ctx context.Context, ident *models.Identity) error

	// Execute atomically loads the record, runs validate, applies mutate,
	// re-checks the uniqueness keys, and persists. The lock is held for the
	// whole sequence. Returns a copy of the committed record.
	Execute(ctx context.Context, identityID id.IdentityID,
		validate func(*models.Identity) error,
		mutate func(*models.Identity) error) (*models.Identity, error)

	// FindByID returns any record, regardless of lifecycle state.
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)

	// FindByWallet returns the non-deactivated record holding the wallet.
	FindByWallet(ctx context.Context, walletAddress string) (*models.Identity, error)
}

// DuplicateError reports which uniqueness key a write collided on.
// Field uses the request field names: "email", "walletAddress",
// "contentHash".
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already used", e.Field)
}

func (e *DuplicateError) Unwrap() error { return sentinel.ErrAlreadyUsed }
