package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Archive persists minted blocks so the chain survives a restart. The
// in-process chain stays authoritative; the archive is durability only.
type Archive interface {
	Append(ctx context.Context, b *Block) error
	LoadAll(ctx context.Context) ([]*Block, error)
}

// PostgresArchive stores blocks in the ledger_blocks table.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// EnsureSchema creates the archive table when it does not exist yet.
// Timestamps are stored as nanoseconds so the block digest recomputes
// byte-for-byte after a reload.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_blocks (
			idx       BIGINT PRIMARY KEY,
			ts_nanos  BIGINT NOT NULL,
			payload   BYTEA NOT NULL,
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL,
			nonce     BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Append(ctx context.Context, b *Block) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO ledger_blocks (idx, ts_nanos, payload, prev_hash, hash, nonce)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, int64(b.Index), b.Timestamp.UnixNano(), b.Payload, b.PrevHash, b.Hash, int64(b.Nonce))
	if err != nil {
		return fmt.Errorf("archive block %d: %w", b.Index, err)
	}
	return nil
}

func (a *PostgresArchive) LoadAll(ctx context.Context) ([]*Block, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT idx, ts_nanos, payload, prev_hash, hash, nonce
		FROM ledger_blocks ORDER BY idx
	`)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		var (
			idx, tsNanos, nonce int64
			b                   Block
		)
		if err := rows.Scan(&idx, &tsNanos, &b.Payload, &b.PrevHash, &b.Hash, &nonce); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Index = uint64(idx)
		b.Nonce = uint64(nonce)
		b.Timestamp = time.Unix(0, tsNanos).UTC()
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}
