package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"veriledger/internal/identity/models"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
)

// Postgres is the durable store. Uniqueness is enforced by unique indexes,
// so the insert itself is the atomic check-and-write; the partial index on
// wallet_address frees a wallet when its record is deactivated.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the identities table and its uniqueness indexes when
// missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id                UUID PRIMARY KEY,
			user_id           UUID NOT NULL,
			name              TEXT NOT NULL,
			email             TEXT NOT NULL,
			nationality       TEXT NOT NULL DEFAULT '',
			wallet_address    TEXT NOT NULL,
			national_id_hash  TEXT NOT NULL DEFAULT '',
			emergency_contact TEXT NOT NULL DEFAULT '',
			content_hash      TEXT NOT NULL,
			roles             TEXT[] NOT NULL DEFAULT '{}',
			verified          BOOLEAN NOT NULL DEFAULT FALSE,
			active            BOOLEAN NOT NULL DEFAULT TRUE,
			verifier_address  TEXT NOT NULL DEFAULT '',
			verification_date TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS identities_email_key ON identities (email)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS identities_content_hash_key ON identities (content_hash)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS identities_wallet_active_key ON identities (wallet_address) WHERE active`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure identities schema: %w", err)
		}
	}
	return nil
}

const identityColumns = `id, user_id, name, email, nationality, wallet_address,
	national_id_hash, emergency_contact, content_hash, roles, verified, active,
	verifier_address, verification_date, created_at, updated_at`

func (s *Postgres) CreateIfUnique(ctx context.Context, ident *models.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, ident.ID.String(), ident.UserID.String(), ident.Name, ident.Email,
		ident.Nationality, ident.WalletAddress, ident.NationalIDHash,
		ident.EmergencyContact, ident.ContentHash, pq.Array(ident.Roles),
		ident.Verified, ident.Active, ident.VerifierAddress,
		ident.VerificationDate, ident.CreatedAt, ident.UpdatedAt)
	if err != nil {
		if dup := duplicateField(err); dup != nil {
			return dup
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *Postgres) Execute(ctx context.Context, identityID id.IdentityID,
	validate func(*models.Identity) error,
	mutate func(*models.Identity) error) (*models.Identity, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE id = $1 FOR UPDATE
	`, identityID.String())
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(ident); err != nil {
			return nil, err
		}
	}
	if err := mutate(ident); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE identities SET
			name = $2, email = $3, nationality = $4, national_id_hash = $5,
			emergency_contact = $6, content_hash = $7, roles = $8,
			verified = $9, active = $10, verifier_address = $11,
			verification_date = $12, updated_at = $13
		WHERE id = $1
	`, identityID.String(), ident.Name, ident.Email, ident.Nationality,
		ident.NationalIDHash, ident.EmergencyContact, ident.ContentHash,
		pq.Array(ident.Roles), ident.Verified, ident.Active,
		ident.VerifierAddress, ident.VerificationDate, ident.UpdatedAt)
	if err != nil {
		if dup := duplicateField(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("update identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit identity update: %w", err)
	}
	return ident, nil
}

func (s *Postgres) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE id = $1
	`, identityID.String())
	return scanIdentity(row)
}

func (s *Postgres) FindByWallet(ctx context.Context, walletAddress string) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities
		WHERE wallet_address = $1 AND active
	`, walletAddress)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*models.Identity, error) {
	var (
		ident            models.Identity
		rawID, rawUserID string
		roles            pq.StringArray
		verificationDate sql.NullTime
	)
	err := row.Scan(&rawID, &rawUserID, &ident.Name, &ident.Email,
		&ident.Nationality, &ident.WalletAddress, &ident.NationalIDHash,
		&ident.EmergencyContact, &ident.ContentHash, &roles, &ident.Verified,
		&ident.Active, &ident.VerifierAddress, &verificationDate,
		&ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	identityID, err := id.ParseIdentityID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored identity id: %w", err)
	}
	userID, err := id.ParseUserID(rawUserID)
	if err != nil {
		return nil, fmt.Errorf("stored user id: %w", err)
	}
	ident.ID = identityID
	ident.UserID = userID
	ident.Roles = []string(roles)
	if verificationDate.Valid {
		t := verificationDate.Time.UTC()
		ident.VerificationDate = &t
	}
	ident.CreatedAt = ident.CreatedAt.UTC()
	ident.UpdatedAt = ident.UpdatedAt.UTC()
	return &ident, nil
}

// duplicateField maps a Postgres unique violation to the colliding request
// field, keeping error kinds identical to the in-memory store.
func duplicateField(err error) *DuplicateError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	switch pqErr.Constraint {
	case "identities_email_key":
		return &DuplicateError{Field: "email"}
	case "identities_content_hash_key":
		return &DuplicateError{Field: "contentHash"}
	case "identities_wallet_active_key":
		return &DuplicateError{Field: "walletAddress"}
	default:
		return &DuplicateError{Field: pqErr.Constraint}
	}
}
