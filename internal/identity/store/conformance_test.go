package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"veriledger/internal/identity/models"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
)

// StoreSuite is the conformance suite both implementations must pass: the
// registry relies on identical error kinds and identical invariant
// enforcement whichever backend was selected at startup.
type StoreSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
	seq      int
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func (s *StoreSuite) newIdentity(email, walletAddr string) *models.Identity {
	s.seq++
	ident, err := models.NewIdentity(id.NewIdentityID(), id.NewUserID(), models.CreateRequest{
		Name:          fmt.Sprintf("Traveler %d", s.seq),
		Email:         email,
		Nationality:   "KE",
		Roles:         []string{"tourist"},
		WalletAddress: walletAddr,
	}, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return ident
}

func walletAddr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

// TestCreationAndLookups verifies the store correctly creates and retrieves
// identities.
func (s *StoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds identity by ID and wallet", func() {
		ident := s.newIdentity("asha@example.com", walletAddr(1))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, ident))

		found, err := s.store.FindByID(s.ctx, ident.ID)
		s.Require().NoError(err)
		s.Equal(ident.Email, found.Email)
		s.Equal([]string{"tourist"}, found.Roles)

		found, err = s.store.FindByWallet(s.ctx, ident.WalletAddress)
		s.Require().NoError(err)
		s.Equal(ident.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewIdentityID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns ErrNotFound for unknown wallet", func() {
		_, err := s.store.FindByWallet(s.ctx, walletAddr(999))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestUniqueness verifies the atomic check-and-insert across all three
// uniqueness keys.
func (s *StoreSuite) TestUniqueness() {
	s.Run("rejects duplicate email", func() {
		first := s.newIdentity("dup@example.com", walletAddr(10))
		second := s.newIdentity("dup@example.com", walletAddr(11))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, first))

		err := s.store.CreateIfUnique(s.ctx, second)
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
		var dup *DuplicateError
		s.Require().ErrorAs(err, &dup)
		s.Equal("email", dup.Field)
	})

	s.Run("rejects duplicate wallet among non-deactivated records", func() {
		first := s.newIdentity("w1@example.com", walletAddr(20))
		second := s.newIdentity("w2@example.com", walletAddr(20))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, first))

		err := s.store.CreateIfUnique(s.ctx, second)
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
		var dup *DuplicateError
		s.Require().ErrorAs(err, &dup)
		s.Equal("walletAddress", dup.Field)
	})

	s.Run("deactivation frees the wallet but not the content hash", func() {
		first := s.newIdentity("gone@example.com", walletAddr(30))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, first))

		_, err := s.store.Execute(s.ctx, first.ID, nil, func(ident *models.Identity) error {
			ident.ApplyDeactivation(time.Now().UTC())
			return nil
		})
		s.Require().NoError(err)

		// Same canonical content, different email: content hash collides.
		twin := s.newIdentity("back@example.com", walletAddr(30))
		twin.Name = first.Name
		twin.ContentHash = twin.ComputeContentHash()
		err = s.store.CreateIfUnique(s.ctx, twin)
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
		var dup *DuplicateError
		s.Require().ErrorAs(err, &dup)
		s.Equal("contentHash", dup.Field)

		// Different content on the freed wallet is accepted.
		fresh := s.newIdentity("fresh@example.com", walletAddr(30))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, fresh))

		found, err := s.store.FindByWallet(s.ctx, walletAddr(30))
		s.Require().NoError(err)
		s.Equal(fresh.ID, found.ID)
	})
}

// TestExecute verifies the atomic validate-then-mutate path.
func (s *StoreSuite) TestExecute() {
	s.Run("returns ErrNotFound for unknown identity", func() {
		_, err := s.store.Execute(s.ctx, id.NewIdentityID(), nil, func(*models.Identity) error {
			return nil
		})
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("persists mutations", func() {
		ident := s.newIdentity("mutate@example.com", walletAddr(40))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, ident))

		updated, err := s.store.Execute(s.ctx, ident.ID, nil, func(i *models.Identity) error {
			i.ApplyVerification(walletAddr(41), time.Now().UTC().Truncate(time.Microsecond))
			return nil
		})
		s.Require().NoError(err)
		s.True(updated.Verified)

		found, err := s.store.FindByID(s.ctx, ident.ID)
		s.Require().NoError(err)
		s.True(found.Verified)
		s.Equal(walletAddr(41), found.VerifierAddress)
		s.Require().NotNil(found.VerificationDate)
	})

	s.Run("failing validate leaves the record unchanged", func() {
		ident := s.newIdentity("guard@example.com", walletAddr(50))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, ident))

		boom := errors.New("rejected")
		_, err := s.store.Execute(s.ctx, ident.ID,
			func(*models.Identity) error { return boom },
			func(i *models.Identity) error {
				i.Name = "should not happen"
				return nil
			})
		s.Require().ErrorIs(err, boom)

		found, err := s.store.FindByID(s.ctx, ident.ID)
		s.Require().NoError(err)
		s.Equal(ident.Name, found.Name)
	})

	s.Run("email change into a taken address is rejected", func() {
		first := s.newIdentity("taken@example.com", walletAddr(60))
		second := s.newIdentity("movable@example.com", walletAddr(61))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, first))
		s.Require().NoError(s.store.CreateIfUnique(s.ctx, second))

		_, err := s.store.Execute(s.ctx, second.ID, nil, func(i *models.Identity) error {
			i.Email = "taken@example.com"
			return nil
		})
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
		var dup *DuplicateError
		s.Require().ErrorAs(err, &dup)
		s.Equal("email", dup.Field)

		found, err := s.store.FindByID(s.ctx, second.ID)
		s.Require().NoError(err)
		s.Equal("movable@example.com", found.Email)
	})
}
