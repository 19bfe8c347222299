package models

import (
	"encoding/hex"
	"net/mail"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	pstrings "veriledger/pkg/platform/strings"
	"veriledger/pkg/wallet"
)

// Status is the lifecycle state of an identity record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusVerified    Status = "verified"
	StatusDeactivated Status = "deactivated"
)

// Identity is the aggregate root for one registered identity.
//
// Invariants:
//   - Email is stored case-normalized and is unique across all records
//   - WalletAddress is canonical 0x-hex form and unique among non-deactivated
//     records
//   - ContentHash digests the canonical identity fields and is unique
//   - Roles is a duplicate-free, sorted set
//   - Deactivated is terminal: no mutation is permitted afterwards
type Identity struct {
	ID               id.IdentityID `json:"id"`
	UserID           id.UserID     `json:"user_id"`
	Name             string        `json:"name"`
	Email            string        `json:"email"`
	Nationality      string        `json:"nationality"`
	WalletAddress    string        `json:"wallet_address"`
	NationalIDHash   string        `json:"national_id_hash,omitempty"`
	EmergencyContact string        `json:"emergency_contact,omitempty"`
	ContentHash      string        `json:"content_hash"`
	Roles            []string      `json:"roles"`
	Verified         bool          `json:"verified"`
	Active           bool          `json:"active"`
	VerifierAddress  string        `json:"verifier_address,omitempty"`
	VerificationDate *time.Time    `json:"verification_date,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewIdentity canonicalizes and validates a create request into a pending
// identity record.
func NewIdentity(identityID id.IdentityID, userID id.UserID, req CreateRequest, now time.Time) (*Identity, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "name", "name is required")
	}
	if len(name) > 128 {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "name", "name must be 128 characters or less")
	}

	email, err := CanonicalEmail(req.Email)
	if err != nil {
		return nil, err
	}

	addr, err := wallet.Normalize(req.WalletAddress)
	if err != nil {
		return nil, err
	}

	ident := &Identity{
		ID:               identityID,
		UserID:           userID,
		Name:             name,
		Email:            email,
		Nationality:      strings.TrimSpace(req.Nationality),
		WalletAddress:    addr,
		NationalIDHash:   strings.TrimSpace(req.NationalIDHash),
		EmergencyContact: strings.TrimSpace(req.EmergencyContact),
		Roles:            normalizeRoles(req.Roles),
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ident.ContentHash = ident.ComputeContentHash()
	return ident, nil
}

// Status derives the lifecycle state from the record's flags.
func (i *Identity) Status() Status {
	switch {
	case !i.Active:
		return StatusDeactivated
	case i.Verified:
		return StatusVerified
	default:
		return StatusPending
	}
}

// CanMutate checks the terminal-state invariant: a deactivated identity
// refuses every further mutation.
func (i *Identity) CanMutate() error {
	if !i.Active {
		return dErrors.New(dErrors.CodeInvalidState, "identity is deactivated")
	}
	return nil
}

// ApplyUpdate overwrites the mutable fields present in the request and
// recomputes the content hash. Call CanMutate first.
func (i *Identity) ApplyUpdate(req UpdateRequest, now time.Time) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return dErrors.NewField(dErrors.CodeInvalidInput, "name", "name is required")
		}
		i.Name = name
	}
	if req.Email != nil {
		email, err := CanonicalEmail(*req.Email)
		if err != nil {
			return err
		}
		i.Email = email
	}
	if req.Nationality != nil {
		i.Nationality = strings.TrimSpace(*req.Nationality)
	}
	if req.EmergencyContact != nil {
		i.EmergencyContact = strings.TrimSpace(*req.EmergencyContact)
	}
	i.ContentHash = i.ComputeContentHash()
	i.UpdatedAt = now
	return nil
}

// ApplyVerification marks the record verified by the given verifier.
// Verification is idempotent: a repeat overwrites the verifier and date, and
// the ledger keeps both events.
func (i *Identity) ApplyVerification(verifier string, now time.Time) {
	i.Verified = true
	i.VerifierAddress = verifier
	verifiedAt := now
	i.VerificationDate = &verifiedAt
	i.UpdatedAt = now
}

// ApplyDeactivation transitions the record to its terminal state.
func (i *Identity) ApplyDeactivation(now time.Time) {
	i.Active = false
	i.UpdatedAt = now
}

// HasRole reports whether the role set contains role.
func (i *Identity) HasRole(role string) bool {
	_, found := slices.BinarySearch(i.Roles, role)
	return found
}

// AddRole inserts role into the set. Adding a present role is a no-op; the
// return value reports whether the set changed.
func (i *Identity) AddRole(role string, now time.Time) bool {
	role = strings.TrimSpace(role)
	if role == "" || i.HasRole(role) {
		return false
	}
	idx, _ := slices.BinarySearch(i.Roles, role)
	i.Roles = slices.Insert(i.Roles, idx, role)
	i.UpdatedAt = now
	return true
}

// RemoveRole deletes role from the set by value. Removing an absent role is
// a no-op; the return value reports whether the set changed.
func (i *Identity) RemoveRole(role string, now time.Time) bool {
	idx, found := slices.BinarySearch(i.Roles, strings.TrimSpace(role))
	if !found {
		return false
	}
	i.Roles = slices.Delete(i.Roles, idx, idx+1)
	i.UpdatedAt = now
	return true
}

// ComputeContentHash digests the canonical identity fields. Email is covered
// by its own uniqueness key and stays out of the digest, so the content hash
// detects the same person re-registering under a different address.
func (i *Identity) ComputeContentHash() string {
	fields := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(i.Name)),
		strings.ToLower(strings.TrimSpace(i.Nationality)),
		i.NationalIDHash,
		i.WalletAddress,
	}, "\n")
	sum := sha3.Sum256([]byte(fields))
	return hex.EncodeToString(sum[:])
}

// Copy returns a deep copy so store internals never leak to callers.
func (i *Identity) Copy() *Identity {
	c := *i
	c.Roles = append([]string(nil), i.Roles...)
	if i.VerificationDate != nil {
		d := *i.VerificationDate
		c.VerificationDate = &d
	}
	return &c
}

// CanonicalEmail lowercases and trims an email address and rejects malformed
// ones.
func CanonicalEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "email", "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "email", "email is malformed")
	}
	return email, nil
}

func normalizeRoles(roles []string) []string {
	return pstrings.SortedSet(roles)
}
