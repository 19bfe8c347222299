package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veriledger/internal/ledger/metrics"
	"veriledger/pkg/platform/sentinel"
)

// genesisPrevHash is the conventional predecessor of the first block.
const genesisPrevHash = "0"

// Chain maintains an ordered, hash-linked sequence of blocks. It is the
// single logical writer for its process instance: Append serializes under
// the chain mutex, reads return copies of committed blocks.
type Chain struct {
	mu      sync.RWMutex
	blocks  []*Block
	policy  Policy
	archive Archive
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Chain.
type Option func(*Chain)

// WithArchive persists minted blocks to a durable archive and allows Load to
// rebuild the chain after a restart.
func WithArchive(a Archive) Option {
	return func(c *Chain) { c.archive = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Chain) { c.metrics = m }
}

// New constructs a chain under the given admission policy and seals the
// genesis block.
func New(policy Policy, opts ...Option) (*Chain, error) {
	c := &Chain{
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	genesis := &Block{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Payload:   []byte("genesis"),
		PrevHash:  genesisPrevHash,
	}
	if err := policy.Seal(genesis); err != nil {
		return nil, fmt.Errorf("seal genesis: %w", err)
	}
	c.blocks = []*Block{genesis}
	return c, nil
}

// Load replaces the in-process chain with the archived one, when an archive
// is configured and holds blocks. An empty archive receives the current
// genesis instead. The loaded chain is validated end to end before adoption.
func (c *Chain) Load(ctx context.Context) error {
	if c.archive == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.archive.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load archived chain: %w", err)
	}
	if len(stored) == 0 {
		if err := c.archive.Append(ctx, c.blocks[0]); err != nil {
			return fmt.Errorf("archive genesis: %w", err)
		}
		return nil
	}

	if err := c.validateLocked(stored); err != nil {
		return err
	}
	c.blocks = stored
	c.logger.Info("ledger chain restored from archive", "blocks", len(stored))
	return nil
}

// Append mints a new block carrying payload. It runs the admission policy
// search, links the block to the current tip, and appends it. Mining retries
// until success by design; the only failure paths are policy exhaustion and
// context cancellation of the archive write.
func (c *Chain) Append(ctx context.Context, payload []byte) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	block := &Block{
		Index:     tip.Index + 1,
		Timestamp: time.Now().UTC(),
		Payload:   append([]byte(nil), payload...),
		PrevHash:  tip.Hash,
	}

	start := time.Now()
	if err := c.policy.Seal(block); err != nil {
		return nil, fmt.Errorf("seal block %d: %w", block.Index, err)
	}
	if c.metrics != nil {
		c.metrics.ObserveMint(start)
	}

	c.blocks = append(c.blocks, block)

	// The in-process chain is authoritative; archive failures reduce
	// durability, not correctness.
	if c.archive != nil {
		if err := c.archive.Append(ctx, block); err != nil {
			c.logger.Warn("failed to archive block", "index", block.Index, "error", err)
		}
	}

	return block.Copy(), nil
}

// Validate recomputes every block's hash from its fields and checks prevHash
// linkage across the whole chain. It returns a TamperError wrapping
// sentinel.ErrTampered on the first mismatch; callers decide whether to halt
// writes.
func (c *Chain) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	err := c.validateLocked(c.blocks)
	if c.metrics != nil {
		c.metrics.IncrementValidation(err == nil)
	}
	return err
}

func (c *Chain) validateLocked(blocks []*Block) error {
	for i, b := range blocks {
		if b.Index != uint64(i) {
			return &TamperError{Index: b.Index, Reason: "index out of sequence"}
		}
		if i == 0 {
			if b.PrevHash != genesisPrevHash {
				return &TamperError{Index: 0, Reason: "genesis prev hash altered"}
			}
		} else if b.PrevHash != blocks[i-1].Hash {
			return &TamperError{Index: b.Index, Reason: "broken link to previous block"}
		}
		if !c.policy.Admit(b) {
			return &TamperError{Index: b.Index, Reason: "hash does not recompute from fields"}
		}
	}
	return nil
}

// Tip returns a copy of the most recently minted block.
func (c *Chain) Tip() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1].Copy()
}

// ByIndex returns a copy of the block at index i, if it exists.
func (c *Chain) ByIndex(i uint64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i >= uint64(len(c.blocks)) {
		return nil, false
	}
	return c.blocks[i].Copy(), true
}

// Len returns the number of blocks in the chain, genesis included.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// TamperError reports the first block at which chain validation failed.
type TamperError struct {
	Index  uint64
	Reason string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("chain tampered at block %d: %s", e.Index, e.Reason)
}

func (e *TamperError) Unwrap() error { return sentinel.ErrTampered }
