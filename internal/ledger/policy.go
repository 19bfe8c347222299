package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strings"
)

// Policy is the rule a new block's hash must satisfy before it may be
// appended. Proof-of-work is one instantiation; the tamper-evidence invariant
// does not depend on which policy is active.
type Policy interface {
	// Seal fills the block's Nonce and Hash so the block is admissible.
	Seal(b *Block) error
	// Admit recomputes the hash from the block's fields and reports whether
	// the stored hash is both correct and admissible.
	Admit(b *Block) bool
}

// ProofOfWork admits blocks whose SHA3-256 digest starts with Difficulty
// zero hex nibbles. At the shipped difficulty (<=2) the expected nonce search
// is short enough to run synchronously.
type ProofOfWork struct {
	Difficulty int
}

func NewProofOfWork(difficulty int) ProofOfWork {
	if difficulty < 0 {
		difficulty = 0
	}
	return ProofOfWork{Difficulty: difficulty}
}

func (p ProofOfWork) prefix() string {
	return strings.Repeat("0", p.Difficulty)
}

// Seal searches the nonce space until the digest carries the required
// prefix. The search is unbounded in principle; with a fixed low difficulty
// and a uniform hash it terminates quickly and deterministically enough for
// tests.
func (p ProofOfWork) Seal(b *Block) error {
	prefix := p.prefix()
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		hash := b.digest()
		if strings.HasPrefix(hash, prefix) {
			b.Hash = hash
			return nil
		}
		if nonce == math.MaxUint64 {
			return errors.New("nonce space exhausted")
		}
	}
}

func (p ProofOfWork) Admit(b *Block) bool {
	return b.Hash == b.digest() && strings.HasPrefix(b.Hash, p.prefix())
}

// CounterSeal is the non-mining admission policy: the nonce is the block
// index (monotonic counter) and the hash is an HMAC-SHA256 over the block's
// fields. Sealing is constant time, and tampering is detected exactly as
// under proof-of-work because the keyed digest recomputes from the fields.
type CounterSeal struct {
	key []byte
}

func NewCounterSeal(key []byte) CounterSeal {
	return CounterSeal{key: append([]byte(nil), key...)}
}

func (p CounterSeal) Seal(b *Block) error {
	b.Nonce = b.Index
	b.Hash = p.mac(b)
	return nil
}

func (p CounterSeal) Admit(b *Block) bool {
	if b.Nonce != b.Index {
		return false
	}
	return hmac.Equal([]byte(b.Hash), []byte(p.mac(b)))
}

func (p CounterSeal) mac(b *Block) string {
	h := hmac.New(sha256.New, p.key)
	h.Write(b.digestInput())
	return hex.EncodeToString(h.Sum(nil))
}
