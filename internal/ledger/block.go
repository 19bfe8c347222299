package ledger

import (
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"
)

// Block is an immutable record in the ledger, hash-linked to its predecessor.
//
// Invariants:
//   - Hash is derived from Index, Timestamp, Payload, PrevHash, and Nonce
//   - Hash satisfies the chain's admission policy
//   - Blocks are never mutated or removed once appended
type Block struct {
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Payload   []byte    `json:"payload"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Nonce     uint64    `json:"nonce"`
}

// digestInput serializes the hashed fields deterministically. Any change to a
// stored block changes this byte sequence and therefore fails admission.
func (b *Block) digestInput() []byte {
	buf := make([]byte, 0, len(b.Payload)+len(b.PrevHash)+48)
	buf = strconv.AppendUint(buf, b.Index, 10)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, b.Timestamp.UnixNano(), 10)
	buf = append(buf, '|')
	buf = append(buf, b.Payload...)
	buf = append(buf, '|')
	buf = append(buf, b.PrevHash...)
	buf = append(buf, '|')
	buf = strconv.AppendUint(buf, b.Nonce, 10)
	return buf
}

// digest returns the hex SHA3-256 over the block's hashed fields.
func (b *Block) digest() string {
	sum := sha3.Sum256(b.digestInput())
	return hex.EncodeToString(sum[:])
}

// Copy returns a deep copy so callers can never reach into chain state.
func (b *Block) Copy() *Block {
	c := *b
	c.Payload = append([]byte(nil), b.Payload...)
	return &c
}
