// Package qr encodes identity facts as compact signed tokens suitable for QR
// transport and offline hand-off. Tokens are derived values: they are
// regenerated on demand and never persisted.
package qr

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"veriledger/internal/identity/models"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	"veriledger/pkg/wallet"
)

// TokenType discriminates the token variants.
type TokenType string

const (
	TypeDigitalID   TokenType = "digital_id"
	TypeWallet      TokenType = "wallet"
	TypeTransaction TokenType = "transaction"
)

func (t TokenType) valid() bool {
	switch t {
	case TypeDigitalID, TypeWallet, TypeTransaction:
		return true
	}
	return false
}

// QRToken is the decoded token content.
type QRToken struct {
	Version   int       `json:"version"`
	Type      TokenType `json:"type"`
	SubjectID string    `json:"subject_id"`
	Wallet    string    `json:"wallet"`
	// Reference carries the type-specific payload, e.g. a transaction
	// reference for the transaction variant.
	Reference string    `json:"reference,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// ValidationResult reports the outcome of validating a presented token.
// Validation never fails with an error: any mismatch means Valid=false.
type ValidationResult struct {
	Valid    bool
	Identity *models.Identity
}

const tokenVersion = 1

// Registry is the codec's read-only view of identity records.
type Registry interface {
	ByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
}

type claims struct {
	Version   int       `json:"ver"`
	TokenType TokenType `json:"typ"`
	Wallet    string    `json:"wlt"`
	Reference string    `json:"ref,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with an HMAC key shared across service
// instances.
type Codec struct {
	signingKey []byte
	registry   Registry
}

func NewCodec(signingKey string, registry Registry) *Codec {
	return &Codec{signingKey: []byte(signingKey), registry: registry}
}

// Generate issues a token for the identity's current record.
func (c *Codec) Generate(ctx context.Context, identityID id.IdentityID, tokenType TokenType, reference string) (string, error) {
	if !tokenType.valid() {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "type", "unknown token type")
	}
	ident, err := c.registry.ByID(ctx, identityID)
	if err != nil {
		return "", err
	}
	return c.Encode(QRToken{
		Version:   tokenVersion,
		Type:      tokenType,
		SubjectID: ident.ID.String(),
		Wallet:    ident.WalletAddress,
		Reference: reference,
		IssuedAt:  time.Now().UTC(),
	})
}

// Encode signs a token. The issue time is carried at second precision, the
// resolution of the JWT NumericDate claim.
func (c *Codec) Encode(token QRToken) (string, error) {
	if !token.Type.valid() {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "type", "unknown token type")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Version:   token.Version,
		TokenType: token.Type,
		Wallet:    token.Wallet,
		Reference: token.Reference,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  token.SubjectID,
			IssuedAt: jwt.NewNumericDate(token.IssuedAt),
		},
	}).SignedString(c.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Decode verifies the signature and reconstructs the token. Malformed
// structure, a bad signature, and an unknown type all fail as parse errors.
func (c *Codec) Decode(raw string) (*QRToken, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.signingKey, nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeParse, "malformed token")
	}
	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeParse, "malformed token")
	}
	if !cl.TokenType.valid() {
		return nil, dErrors.NewField(dErrors.CodeParse, "type", "unknown token type")
	}
	if cl.IssuedAt == nil {
		return nil, dErrors.NewField(dErrors.CodeParse, "issued_at", "missing issue time")
	}
	return &QRToken{
		Version:   cl.Version,
		Type:      cl.TokenType,
		SubjectID: cl.Subject,
		Wallet:    cl.Wallet,
		Reference: cl.Reference,
		IssuedAt:  cl.IssuedAt.Time.UTC(),
	}, nil
}

// Validate checks a presented token against the registry's current record.
// It never returns an error: decode failures, unknown subjects, and any
// field mismatch all yield Valid=false.
func (c *Codec) Validate(ctx context.Context, raw string) ValidationResult {
	token, err := c.Decode(raw)
	if err != nil {
		return ValidationResult{}
	}
	identityID, err := id.ParseIdentityID(token.SubjectID)
	if err != nil {
		return ValidationResult{}
	}
	ident, err := c.registry.ByID(ctx, identityID)
	if err != nil {
		return ValidationResult{}
	}
	if !ident.Active {
		return ValidationResult{}
	}
	if !wallet.Equal(ident.WalletAddress, token.Wallet) {
		return ValidationResult{}
	}
	return ValidationResult{Valid: true, Identity: ident}
}
