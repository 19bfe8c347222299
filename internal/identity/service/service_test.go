package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"veriledger/internal/identity/models"
	"veriledger/internal/identity/service/mocks"
	"veriledger/internal/identity/store"
	"veriledger/internal/ledger"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
)

// RegistrySuite exercises the registry against the in-memory store and a real
// chain so every mutation's block actually gets minted and linked.
type RegistrySuite struct {
	suite.Suite
	registry *Registry
	chain    *ledger.Chain
	ctx      context.Context
	seq      int
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	chain, err := ledger.New(ledger.NewProofOfWork(0))
	s.Require().NoError(err)
	s.chain = chain
	s.registry = New(store.NewInMemory(), chain)
	s.ctx = context.Background()
}

func (s *RegistrySuite) createRequest() models.CreateRequest {
	s.seq++
	return models.CreateRequest{
		Name:          fmt.Sprintf("Traveler %d", s.seq),
		Email:         fmt.Sprintf("traveler%d@example.com", s.seq),
		Nationality:   "KE",
		Roles:         []string{"tourist"},
		WalletAddress: fmt.Sprintf("0x%040x", s.seq),
	}
}

func (s *RegistrySuite) TestCreate() {
	s.Run("creates a pending identity and mints a block", func() {
		before := s.chain.Len()
		result, err := s.registry.Create(s.ctx, s.createRequest())
		s.Require().NoError(err)

		s.Equal(models.StatusPending, result.Identity.Status())
		s.True(result.Identity.Active)
		s.False(result.Identity.Verified)
		s.NotEmpty(result.Identity.ContentHash)
		s.NotEmpty(result.BlockHash)
		s.Equal(before+1, s.chain.Len())
		s.Equal(result.BlockHash, s.chain.Tip().Hash)
	})

	s.Run("rejects a second identity on the same email", func() {
		req := s.createRequest()
		_, err := s.registry.Create(s.ctx, req)
		s.Require().NoError(err)

		clash := s.createRequest()
		clash.Email = req.Email
		_, err = s.registry.Create(s.ctx, clash)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal("email", dErrors.FieldOf(err))
	})

	s.Run("rejects an invalid wallet address", func() {
		req := s.createRequest()
		req.WalletAddress = "not-a-wallet"
		_, err := s.registry.Create(s.ctx, req)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Equal("walletAddress", dErrors.FieldOf(err))
	})
}

// TestConcurrentCreate races identical registrations: exactly one may win,
// whichever uniqueness key trips for the losers.
func (s *RegistrySuite) TestConcurrentCreate() {
	req := s.createRequest()

	var g errgroup.Group
	results := make([]error, 8)
	for i := range results {
		g.Go(func() error {
			_, err := s.registry.Create(s.ctx, req)
			results[i] = err
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	}
	s.Equal(1, succeeded)
	// One winner, one block.
	s.Equal(2, s.chain.Len())
}

func (s *RegistrySuite) TestUpdate() {
	s.Run("owner updates mutable fields", func() {
		created, err := s.registry.Create(s.ctx, s.createRequest())
		s.Require().NoError(err)

		name := "Asha Renamed"
		result, err := s.registry.Update(s.ctx, created.Identity.ID,
			models.UpdateRequest{Name: &name}, created.Identity.WalletAddress)
		s.Require().NoError(err)
		s.Equal("Asha Renamed", result.Identity.Name)
		s.NotEqual(created.Identity.ContentHash, result.Identity.ContentHash)
		s.NotEqual(created.BlockHash, result.BlockHash)
	})

	s.Run("non-owner is rejected", func() {
		created, err := s.registry.Create(s.ctx, s.createRequest())
		s.Require().NoError(err)

		name := "Mallory"
		_, err = s.registry.Update(s.ctx, created.Identity.ID,
			models.UpdateRequest{Name: &name}, fmt.Sprintf("0x%040x", 9999))
		s.Require().True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("email change into a taken address is rejected", func() {
		first, err := s.registry.Create(s.ctx, s.createRequest())
		s.Require().NoError(err)
		second, err := s.registry.Create(s.ctx, s.createRequest())
		s.Require().NoError(err)

		email := first.Identity.Email
		_, err = s.registry.Update(s.ctx, second.Identity.ID,
			models.UpdateRequest{Email: &email}, second.Identity.WalletAddress)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal("email", dErrors.FieldOf(err))
	})

	s.Run("unknown identity is NotFound", func() {
		name := "Nobody"
		_, err := s.registry.Update(s.ctx, id.NewIdentityID(),
			models.UpdateRequest{Name: &name}, fmt.Sprintf("0x%040x", 1))
		s.Require().True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// TestVerifyIsIdempotent encodes the verification policy: re-verifying
// replaces the current verifier and timestamp, and every verification event
// stays on the chain as its own block.
func (s *RegistrySuite) TestVerifyIsIdempotent() {
	created, err := s.registry.Create(s.ctx, s.createRequest())
	s.Require().NoError(err)

	firstVerifier := fmt.Sprintf("0x%040x", 501)
	secondVerifier := fmt.Sprintf("0x%040x", 502)

	r1, err := s.registry.Verify(s.ctx, created.Identity.ID, firstVerifier)
	s.Require().NoError(err)
	s.True(r1.Identity.Verified)
	s.Equal(firstVerifier, r1.Identity.VerifierAddress)

	r2, err := s.registry.Verify(s.ctx, created.Identity.ID, secondVerifier)
	s.Require().NoError(err)
	s.True(r2.Identity.Verified)
	s.Equal(secondVerifier, r2.Identity.VerifierAddress)
	s.NotEqual(r1.BlockHash, r2.BlockHash)

	// genesis + create + two verification events
	s.Equal(4, s.chain.Len())

	current, err := s.registry.ByID(s.ctx, created.Identity.ID)
	s.Require().NoError(err)
	s.Equal(secondVerifier, current.VerifierAddress)
}

// TestTerminalState: deactivation admits no further mutation of any kind.
func (s *RegistrySuite) TestTerminalState() {
	created, err := s.registry.Create(s.ctx, s.createRequest())
	s.Require().NoError(err)
	owner := created.Identity.WalletAddress

	result, err := s.registry.Deactivate(s.ctx, created.Identity.ID, owner)
	s.Require().NoError(err)
	s.False(result.Identity.Active)
	s.Equal(models.StatusDeactivated, result.Identity.Status())

	name := "too late"
	_, err = s.registry.Update(s.ctx, created.Identity.ID, models.UpdateRequest{Name: &name}, owner)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.registry.Verify(s.ctx, created.Identity.ID, fmt.Sprintf("0x%040x", 600))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.registry.AddRole(s.ctx, created.Identity.ID, "guide", owner)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.registry.RemoveRole(s.ctx, created.Identity.ID, "tourist", owner)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.registry.Deactivate(s.ctx, created.Identity.ID, owner)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	// The record stays readable by ID; the wallet no longer resolves.
	_, err = s.registry.ByID(s.ctx, created.Identity.ID)
	s.Require().NoError(err)
	_, err = s.registry.ByWallet(s.ctx, owner)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RegistrySuite) TestRoles() {
	created, err := s.registry.Create(s.ctx, s.createRequest())
	s.Require().NoError(err)
	owner := created.Identity.WalletAddress

	s.Run("grant and revoke keep set semantics", func() {
		result, err := s.registry.AddRole(s.ctx, created.Identity.ID, "guide", owner)
		s.Require().NoError(err)
		s.Equal([]string{"guide", "tourist"}, result.Identity.Roles)

		// Granting again changes nothing on the record but is still chained.
		before := s.chain.Len()
		result, err = s.registry.AddRole(s.ctx, created.Identity.ID, "guide", owner)
		s.Require().NoError(err)
		s.Equal([]string{"guide", "tourist"}, result.Identity.Roles)
		s.Equal(before+1, s.chain.Len())

		result, err = s.registry.RemoveRole(s.ctx, created.Identity.ID, "tourist", owner)
		s.Require().NoError(err)
		s.Equal([]string{"guide"}, result.Identity.Roles)

		result, err = s.registry.RemoveRole(s.ctx, created.Identity.ID, "tourist", owner)
		s.Require().NoError(err)
		s.Equal([]string{"guide"}, result.Identity.Roles)
	})

	s.Run("role mutations are ownership-checked", func() {
		_, err := s.registry.AddRole(s.ctx, created.Identity.ID, "guide", fmt.Sprintf("0x%040x", 9998))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("empty role name is rejected", func() {
		_, err := s.registry.AddRole(s.ctx, created.Identity.ID, "", owner)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *RegistrySuite) TestLookups() {
	created, err := s.registry.Create(s.ctx, s.createRequest())
	s.Require().NoError(err)

	s.Run("resolves by wallet in either case form", func() {
		upper := "0x" + fmt.Sprintf("%040X", s.seq)
		found, err := s.registry.ByWallet(s.ctx, upper)
		s.Require().NoError(err)
		s.Equal(created.Identity.ID, found.ID)
	})

	s.Run("unknown wallet is NotFound", func() {
		_, err := s.registry.ByWallet(s.ctx, fmt.Sprintf("0x%040x", 123456))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *RegistrySuite) TestValidateChain() {
	_, err := s.registry.Create(s.ctx, s.createRequest())
	s.Require().NoError(err)
	s.Require().NoError(s.registry.ValidateChain(s.ctx))
	s.False(s.registry.Halted())
}

// Halt behavior is tested against a mocked ledger so tampering can be
// simulated without reaching into chain internals.
func TestRegistryHaltsOnTamperedChain(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockLedger(ctrl)
	registry := New(store.NewInMemory(), chain)
	ctx := context.Background()

	chain.EXPECT().Validate().Return(&ledger.TamperError{Index: 2, Reason: "hash mismatch"})

	err := registry.ValidateChain(ctx)
	if !dErrors.HasCode(err, dErrors.CodeIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if !registry.Halted() {
		t.Fatal("expected registry to halt")
	}

	_, err = registry.Create(ctx, models.CreateRequest{
		Name:          "Blocked",
		Email:         "blocked@example.com",
		Nationality:   "KE",
		WalletAddress: fmt.Sprintf("0x%040x", 77),
	})
	if !dErrors.HasCode(err, dErrors.CodeIntegrity) {
		t.Fatalf("expected halted registry to refuse mutations, got %v", err)
	}

	registry.Resume()
	chain.EXPECT().Validate().Return(nil)
	if err := registry.ValidateChain(ctx); err != nil {
		t.Fatalf("expected resumed registry to validate, got %v", err)
	}
	if registry.Halted() {
		t.Fatal("expected registry to stay live after resume")
	}
}

func TestRegistryMintFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := mocks.NewMockLedger(ctrl)
	registry := New(store.NewInMemory(), chain)

	chain.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("archive unreachable"))

	_, err := registry.Create(context.Background(), models.CreateRequest{
		Name:          "Asha",
		Email:         "asha@example.com",
		Nationality:   "KE",
		WalletAddress: fmt.Sprintf("0x%040x", 88),
	})
	if !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("expected internal error on mint failure, got %v", err)
	}
}
