package qr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriledger/internal/identity/models"
	"veriledger/internal/identity/service"
	"veriledger/internal/identity/store"
	"veriledger/internal/ledger"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
)

type CodecSuite struct {
	suite.Suite
	registry *service.Registry
	codec    *Codec
	ctx      context.Context
}

func TestCodecSuite(t *testing.T) {
	suite.Run(t, new(CodecSuite))
}

func (s *CodecSuite) SetupTest() {
	chain, err := ledger.New(ledger.NewProofOfWork(0))
	s.Require().NoError(err)
	s.registry = service.New(store.NewInMemory(), chain)
	s.codec = NewCodec("test-signing-key", s.registry)
	s.ctx = context.Background()
}

func (s *CodecSuite) createIdentity() *models.Identity {
	result, err := s.registry.Create(s.ctx, models.CreateRequest{
		Name:          "Asha",
		Email:         "asha@example.com",
		Nationality:   "KE",
		Roles:         []string{"tourist"},
		WalletAddress: "0x" + strings.Repeat("a1", 20),
	})
	s.Require().NoError(err)
	return result.Identity
}

// TestRoundTrip: decoding an encoded token yields the token back, for every
// variant.
func (s *CodecSuite) TestRoundTrip() {
	issued := time.Now().UTC().Truncate(time.Second)
	for _, token := range []QRToken{
		{Version: 1, Type: TypeDigitalID, SubjectID: id.NewIdentityID().String(), Wallet: "0x" + strings.Repeat("ab", 20), IssuedAt: issued},
		{Version: 1, Type: TypeWallet, Wallet: "0x" + strings.Repeat("cd", 20), IssuedAt: issued},
		{Version: 1, Type: TypeTransaction, SubjectID: id.NewIdentityID().String(), Wallet: "0x" + strings.Repeat("ef", 20), Reference: "tx-778", IssuedAt: issued},
	} {
		s.Run(string(token.Type), func() {
			raw, err := s.codec.Encode(token)
			s.Require().NoError(err)

			decoded, err := s.codec.Decode(raw)
			s.Require().NoError(err)
			s.Equal(token, *decoded)
		})
	}
}

func (s *CodecSuite) TestDecodeRejectsMalformedTokens() {
	s.Run("garbage input", func() {
		_, err := s.codec.Decode("not-a-token")
		s.Require().True(dErrors.HasCode(err, dErrors.CodeParse))
	})

	s.Run("wrong signing key", func() {
		other := NewCodec("other-key", s.registry)
		raw, err := other.Encode(QRToken{Version: 1, Type: TypeWallet, Wallet: "0x" + strings.Repeat("aa", 20), IssuedAt: time.Now()})
		s.Require().NoError(err)

		_, err = s.codec.Decode(raw)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeParse))
	})

	s.Run("unknown type rejected at encode", func() {
		_, err := s.codec.Encode(QRToken{Version: 1, Type: TokenType("boarding_pass"), IssuedAt: time.Now()})
		s.Require().True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *CodecSuite) TestGenerateAndValidate() {
	ident := s.createIdentity()

	s.Run("issued token validates against the live record", func() {
		raw, err := s.codec.Generate(s.ctx, ident.ID, TypeDigitalID, "")
		s.Require().NoError(err)

		result := s.codec.Validate(s.ctx, raw)
		s.Require().True(result.Valid)
		s.Equal(ident.ID, result.Identity.ID)
	})

	s.Run("unknown subject fails NotFound at generation", func() {
		_, err := s.codec.Generate(s.ctx, id.NewIdentityID(), TypeDigitalID, "")
		s.Require().True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("tampered wallet claim is invalid", func() {
		raw, err := s.codec.Generate(s.ctx, ident.ID, TypeDigitalID, "")
		s.Require().NoError(err)

		s.False(s.codec.Validate(s.ctx, tamperWallet(s.T(), raw)).Valid)
	})

	s.Run("resigned token for a different wallet is invalid", func() {
		raw, err := s.codec.Encode(QRToken{
			Version:   1,
			Type:      TypeDigitalID,
			SubjectID: ident.ID.String(),
			Wallet:    "0x" + strings.Repeat("ff", 20),
			IssuedAt:  time.Now().UTC(),
		})
		s.Require().NoError(err)

		s.False(s.codec.Validate(s.ctx, raw).Valid)
	})

	s.Run("token for a deactivated identity is invalid", func() {
		raw, err := s.codec.Generate(s.ctx, ident.ID, TypeDigitalID, "")
		s.Require().NoError(err)

		_, err = s.registry.Deactivate(s.ctx, ident.ID, ident.WalletAddress)
		s.Require().NoError(err)

		s.False(s.codec.Validate(s.ctx, raw).Valid)
	})

	s.Run("garbage never errors, only invalidates", func() {
		s.False(s.codec.Validate(s.ctx, "????").Valid)
	})
}

// tamperWallet rewrites the wallet claim in place without re-signing, the
// equivalent of editing a QR payload by hand.
func tamperWallet(t *testing.T, raw string) string {
	t.Helper()
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %s", raw)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatal(err)
	}
	body["wlt"] = "0x" + strings.Repeat("99", 20)
	edited, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	parts[1] = base64.RawURLEncoding.EncodeToString(edited)
	return strings.Join(parts, ".")
}
