package store

import (
	"context"
	"sync"

	"veriledger/internal/identity/models"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
)

// InMemory is the fallback store used when Postgres is unconfigured or
// unreachable at startup. It keeps secondary indexes for every uniqueness
// key so checks stay O(1) under the single mutex.
type InMemory struct {
	mu        sync.RWMutex
	byID      map[id.IdentityID]*models.Identity
	byEmail   map[string]id.IdentityID
	byContent map[string]id.IdentityID
	byWallet  map[string]id.IdentityID // non-deactivated records only
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:      make(map[id.IdentityID]*models.Identity),
		byEmail:   make(map[string]id.IdentityID),
		byContent: make(map[string]id.IdentityID),
		byWallet:  make(map[string]id.IdentityID),
	}
}

func (s *InMemory) CreateIfUnique(_ context.Context, ident *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueLocked(ident, id.IdentityID{}); err != nil {
		return err
	}

	stored := ident.Copy()
	s.byID[stored.ID] = stored
	s.indexLocked(stored)
	return nil
}

func (s *InMemory) Execute(_ context.Context, identityID id.IdentityID,
	validate func(*models.Identity) error,
	mutate func(*models.Identity) error) (*models.Identity, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Work on a copy so a failing validate or mutate leaves the committed
	// record untouched and concurrent readers never observe partial writes.
	working := current.Copy()
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	if err := mutate(working); err != nil {
		return nil, err
	}
	if err := s.checkUniqueLocked(working, identityID); err != nil {
		return nil, err
	}

	s.unindexLocked(current)
	s.byID[identityID] = working
	s.indexLocked(working)
	return working.Copy(), nil
}

func (s *InMemory) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ident, ok := s.byID[identityID]; ok {
		return ident.Copy(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByWallet(_ context.Context, walletAddress string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if identityID, ok := s.byWallet[walletAddress]; ok {
		return s.byID[identityID].Copy(), nil
	}
	return nil, sentinel.ErrNotFound
}

// checkUniqueLocked enforces the uniqueness invariants, ignoring the record
// identified by self (for updates). Email and content hash are unique across
// all records; the wallet only among non-deactivated ones.
func (s *InMemory) checkUniqueLocked(ident *models.Identity, self id.IdentityID) error {
	if owner, ok := s.byEmail[ident.Email]; ok && owner != self {
		return &DuplicateError{Field: "email"}
	}
	if owner, ok := s.byContent[ident.ContentHash]; ok && owner != self {
		return &DuplicateError{Field: "contentHash"}
	}
	if ident.Active {
		if owner, ok := s.byWallet[ident.WalletAddress]; ok && owner != self {
			return &DuplicateError{Field: "walletAddress"}
		}
	}
	return nil
}

func (s *InMemory) indexLocked(ident *models.Identity) {
	s.byEmail[ident.Email] = ident.ID
	s.byContent[ident.ContentHash] = ident.ID
	if ident.Active {
		s.byWallet[ident.WalletAddress] = ident.ID
	}
}

func (s *InMemory) unindexLocked(ident *models.Identity) {
	delete(s.byEmail, ident.Email)
	delete(s.byContent, ident.ContentHash)
	if owner, ok := s.byWallet[ident.WalletAddress]; ok && owner == ident.ID {
		delete(s.byWallet, ident.WalletAddress)
	}
}
