// Package service implements the identity registry: the single writer for
// identity records and the sole producer of ledger blocks.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veriledger/internal/audit"
	"veriledger/internal/identity/cache"
	identitymetrics "veriledger/internal/identity/metrics"
	"veriledger/internal/identity/models"
	"veriledger/internal/identity/store"
	"veriledger/internal/ledger"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	"veriledger/pkg/platform/sentinel"
	"veriledger/pkg/requestcontext"
	"veriledger/pkg/wallet"
)

var tracer = otel.Tracer("veriledger/internal/identity/service")

// Ledger is the registry's view of the chain: every committed mutation is
// recorded as one appended block.
type Ledger interface {
	Append(ctx context.Context, payload []byte) (*ledger.Block, error)
	Validate() error
}

// MutationResult pairs the post-mutation record with the hash of the block
// that recorded it.
type MutationResult struct {
	Identity  *models.Identity
	BlockHash string
}

// Registry orchestrates the identity lifecycle. Mutations are serialized so
// the ledger records them in commit order.
type Registry struct {
	identities store.Store
	chain      Ledger
	cache      *cache.Cache
	publisher  audit.Publisher
	metrics    *identitymetrics.Metrics
	logger     *slog.Logger

	// mu serializes mutations: the store commit and the block mint must be
	// observed in the same order.
	mu sync.Mutex

	// halted is set when chain validation detects tampering. All further
	// mutations are refused until an operator resolves the discrepancy.
	halted atomic.Bool
}

type Option func(r *Registry)

func WithCache(c *cache.Cache) Option {
	return func(r *Registry) {
		r.cache = c
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(r *Registry) {
		r.publisher = publisher
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New constructs a Registry.
func New(identities store.Store, chain Ledger, opts ...Option) *Registry {
	r := &Registry{identities: identities, chain: chain, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// blockRecord is the JSON payload minted into each ledger block.
type blockRecord struct {
	Kind        string `json:"kind"`
	IdentityID  string `json:"identity_id"`
	ContentHash string `json:"content_hash,omitempty"`
	Wallet      string `json:"wallet,omitempty"`
	Verifier    string `json:"verifier,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Create registers a new identity and mints its genesis-of-record block.
// All three uniqueness keys are enforced atomically by the store.
func (r *Registry) Create(ctx context.Context, req models.CreateRequest) (*MutationResult, error) {
	ctx, span := tracer.Start(ctx, "registry.Create")
	defer span.End()
	start := time.Now()

	if err := r.refuseIfHalted(); err != nil {
		return nil, err
	}

	userID := id.NewUserID()
	if req.UserID != "" {
		parsed, err := id.ParseUserID(req.UserID)
		if err != nil {
			return nil, err
		}
		userID = parsed
	}

	ident, err := models.NewIdentity(id.NewIdentityID(), userID, req, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("identity.id", ident.ID.String()))

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.identities.CreateIfUnique(ctx, ident); err != nil {
		return nil, r.translateStoreErr(err)
	}

	block, err := r.mint(ctx, blockRecord{
		Kind:        "created",
		IdentityID:  ident.ID.String(),
		ContentHash: ident.ContentHash,
		Wallet:      ident.WalletAddress,
	})
	if err != nil {
		return nil, err
	}

	r.cache.Store(ctx, ident)
	r.emitAudit(ctx, audit.Event{
		Action:     audit.ActionIdentityCreated,
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
		BlockHash:  block.Hash,
	})
	if r.metrics != nil {
		r.metrics.IdentitiesCreated.Inc()
		r.metrics.ObserveMutation("create", start)
	}
	return &MutationResult{Identity: ident, BlockHash: block.Hash}, nil
}

// Update applies a partial update to an identity the requester owns.
func (r *Registry) Update(ctx context.Context, identityID id.IdentityID, req models.UpdateRequest, requesterWallet string) (*MutationResult, error) {
	ctx, span := tracer.Start(ctx, "registry.Update", trace.WithAttributes(
		attribute.String("identity.id", identityID.String()),
	))
	defer span.End()
	start := time.Now()

	if err := r.refuseIfHalted(); err != nil {
		return nil, err
	}
	requester, err := wallet.Normalize(requesterWallet)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.identities.Execute(ctx, identityID,
		func(i *models.Identity) error {
			if err := i.CanMutate(); err != nil {
				return err
			}
			return requireOwner(i, requester)
		},
		func(i *models.Identity) error {
			return i.ApplyUpdate(req, now)
		},
	)
	if err != nil {
		return nil, r.translateStoreErr(err)
	}

	block, err := r.mint(ctx, blockRecord{
		Kind:        "updated",
		IdentityID:  ident.ID.String(),
		ContentHash: ident.ContentHash,
		Wallet:      ident.WalletAddress,
	})
	if err != nil {
		return nil, err
	}

	r.cache.Store(ctx, ident)
	r.emitAudit(ctx, audit.Event{
		Action:     audit.ActionIdentityUpdated,
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
		BlockHash:  block.Hash,
	})
	if r.metrics != nil {
		r.metrics.ObserveMutation("update", start)
	}
	return &MutationResult{Identity: ident, BlockHash: block.Hash}, nil
}

// Verify records a verification event by a third-party verifier. Verification
// is idempotent: re-verifying replaces the verifier and timestamp on the
// record, and each call mints its own block, so the chain keeps every event.
func (r *Registry) Verify(ctx context.Context, identityID id.IdentityID, verifierWallet string) (*MutationResult, error) {
	ctx, span := tracer.Start(ctx, "registry.Verify", trace.WithAttributes(
		attribute.String("identity.id", identityID.String()),
	))
	defer span.End()
	start := time.Now()

	if err := r.refuseIfHalted(); err != nil {
		return nil, err
	}
	verifier, err := wallet.Normalize(verifierWallet)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.identities.Execute(ctx, identityID,
		func(i *models.Identity) error {
			return i.CanMutate()
		},
		func(i *models.Identity) error {
			i.ApplyVerification(verifier, now)
			return nil
		},
	)
	if err != nil {
		return nil, r.translateStoreErr(err)
	}

	block, err := r.mint(ctx, blockRecord{
		Kind:       "verified",
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
		Verifier:   verifier,
	})
	if err != nil {
		return nil, err
	}

	r.cache.Store(ctx, ident)
	r.emitAudit(ctx, audit.Event{
		Action:     audit.ActionIdentityVerified,
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
		BlockHash:  block.Hash,
		Detail:     verifier,
	})
	if r.metrics != nil {
		r.metrics.IdentitiesVerified.Inc()
		r.metrics.ObserveMutation("verify", start)
	}
	return &MutationResult{Identity: ident, BlockHash: block.Hash}, nil
}

// Deactivate retires an identity. The state is terminal; the wallet address
// becomes available for a future registration, the content hash does not.
func (r *Registry) Deactivate(ctx context.Context, identityID id.IdentityID, requesterWallet string) (*MutationResult, error) {
	ctx, span := tracer.Start(ctx, "registry.Deactivate", trace.WithAttributes(
		attribute.String("identity.id", identityID.String()),
	))
	defer span.End()
	start := time.Now()

	if err := r.refuseIfHalted(); err != nil {
		return nil, err
	}
	requester, err := wallet.Normalize(requesterWallet)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.identities.Execute(ctx, identityID,
		func(i *models.Identity) error {
			if err := i.CanMutate(); err != nil {
				return err
			}
			return requireOwner(i, requester)
		},
		func(i *models.Identity) error {
			i.ApplyDeactivation(now)
			return nil
		},
	)
	if err != nil {
		return nil, r.translateStoreErr(err)
	}

	block, err := r.mint(ctx, blockRecord{
		Kind:       "deactivated",
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
	})
	if err != nil {
		return nil, err
	}

	r.cache.Store(ctx, ident)
	r.emitAudit(ctx, audit.Event{
		Action:     audit.ActionIdentityDeactivated,
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
		BlockHash:  block.Hash,
	})
	if r.metrics != nil {
		r.metrics.IdentitiesDeactivated.Inc()
		r.metrics.ObserveMutation("deactivate", start)
	}
	return &MutationResult{Identity: ident, BlockHash: block.Hash}, nil
}

// AddRole grants a role. Roles are a set: granting a role the identity
// already holds changes nothing on the record, but the request is still
// recorded on the chain.
func (r *Registry) AddRole(ctx context.Context, identityID id.IdentityID, role, requesterWallet string) (*MutationResult, error) {
	return r.mutateRole(ctx, identityID, role, requesterWallet, true)
}

// RemoveRole revokes a role. Removing an absent role is a no-op on the
// record, recorded on the chain like any other mutation.
func (r *Registry) RemoveRole(ctx context.Context, identityID id.IdentityID, role, requesterWallet string) (*MutationResult, error) {
	return r.mutateRole(ctx, identityID, role, requesterWallet, false)
}

func (r *Registry) mutateRole(ctx context.Context, identityID id.IdentityID, role, requesterWallet string, grant bool) (*MutationResult, error) {
	operation := "add_role"
	kind := "role_added"
	action := audit.ActionRoleAdded
	if !grant {
		operation = "remove_role"
		kind = "role_removed"
		action = audit.ActionRoleRemoved
	}
	ctx, span := tracer.Start(ctx, "registry."+operation, trace.WithAttributes(
		attribute.String("identity.id", identityID.String()),
		attribute.String("identity.role", role),
	))
	defer span.End()
	start := time.Now()

	if err := r.refuseIfHalted(); err != nil {
		return nil, err
	}
	if role == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "role", "role is required")
	}
	requester, err := wallet.Normalize(requesterWallet)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, err := r.identities.Execute(ctx, identityID,
		func(i *models.Identity) error {
			if err := i.CanMutate(); err != nil {
				return err
			}
			return requireOwner(i, requester)
		},
		func(i *models.Identity) error {
			if grant {
				i.AddRole(role, now)
			} else {
				i.RemoveRole(role, now)
			}
			return nil
		},
	)
	if err != nil {
		return nil, r.translateStoreErr(err)
	}

	block, err := r.mint(ctx, blockRecord{
		Kind:       kind,
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
		Role:       role,
	})
	if err != nil {
		return nil, err
	}

	r.cache.Store(ctx, ident)
	r.emitAudit(ctx, audit.Event{
		Action:     action,
		IdentityID: ident.ID.String(),
		Wallet:     ident.WalletAddress,
		BlockHash:  block.Hash,
		Detail:     role,
	})
	if r.metrics != nil {
		r.metrics.ObserveMutation(operation, start)
	}
	return &MutationResult{Identity: ident, BlockHash: block.Hash}, nil
}

// ByID returns an identity in any lifecycle state.
func (r *Registry) ByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	ctx, span := tracer.Start(ctx, "registry.ByID")
	defer span.End()

	if ident, ok := r.cache.GetByID(ctx, identityID); ok {
		return ident, nil
	}
	ident, err := r.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, r.translateStoreErr(err)
	}
	r.cache.Fill(ctx, ident)
	return ident, nil
}

// ByWallet resolves the non-deactivated identity holding the wallet address.
func (r *Registry) ByWallet(ctx context.Context, walletAddress string) (*models.Identity, error) {
	ctx, span := tracer.Start(ctx, "registry.ByWallet")
	defer span.End()

	addr, err := wallet.Normalize(walletAddress)
	if err != nil {
		return nil, err
	}
	if ident, ok := r.cache.GetByWallet(ctx, addr); ok {
		return ident, nil
	}
	ident, err := r.identities.FindByWallet(ctx, addr)
	if err != nil {
		return nil, r.translateStoreErr(err)
	}
	r.cache.Fill(ctx, ident)
	return ident, nil
}

// ValidateChain audits the full ledger. On tamper detection the registry
// halts: every mutation fails until Resume is called. Reads stay available.
func (r *Registry) ValidateChain(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "registry.ValidateChain")
	defer span.End()

	if err := r.chain.Validate(); err != nil {
		r.halted.Store(true)
		r.logger.ErrorContext(ctx, "chain validation failed, registry halted", "error", err)
		r.emitAudit(ctx, audit.Event{
			Action: audit.ActionChainTampered,
			Detail: err.Error(),
		})
		return dErrors.Wrap(err, dErrors.CodeIntegrity, "ledger integrity violated")
	}
	return nil
}

// Halted reports whether mutations are currently refused.
func (r *Registry) Halted() bool {
	return r.halted.Load()
}

// Resume lifts the halt after an operator has restored the chain. The next
// ValidateChain failure halts again.
func (r *Registry) Resume() {
	r.halted.Store(false)
}

func (r *Registry) refuseIfHalted() error {
	if r.halted.Load() {
		return dErrors.New(dErrors.CodeIntegrity, "registry is halted pending ledger repair")
	}
	return nil
}

// mint appends one block recording a committed mutation. Callers hold r.mu.
func (r *Registry) mint(ctx context.Context, record blockRecord) (*ledger.Block, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode block payload")
	}
	block, err := r.chain.Append(ctx, payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint block")
	}
	return block, nil
}

func requireOwner(ident *models.Identity, requester string) error {
	if !wallet.Equal(ident.WalletAddress, requester) {
		return dErrors.New(dErrors.CodeUnauthorized, "requester does not own this identity")
	}
	return nil
}

// translateStoreErr maps storage sentinels to coded domain errors at the
// service boundary. Already-coded errors pass through untouched.
func (r *Registry) translateStoreErr(err error) error {
	var dup *store.DuplicateError
	if errors.As(err, &dup) {
		if r.metrics != nil {
			r.metrics.IncrementDuplicateRejected(dup.Field)
		}
		return dErrors.NewField(dErrors.CodeConflict, dup.Field, "identity already registered with this "+dup.Field)
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	var coded *dErrors.DomainError
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "identity storage failure")
}

func (r *Registry) emitAudit(ctx context.Context, event audit.Event) {
	if r.publisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.Timestamp = requestcontext.Now(ctx)
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "audit publish failed", "action", event.Action, "error", err)
	}
}
