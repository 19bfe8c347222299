package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"veriledger/internal/identity/models"
	"veriledger/internal/identity/service"
	"veriledger/internal/ledger"
	"veriledger/internal/qr"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	"veriledger/pkg/platform/httputil"
	"veriledger/pkg/requestcontext"
)

// RegistryService is the handler's view of the identity registry.
type RegistryService interface {
	Create(ctx context.Context, req models.CreateRequest) (*service.MutationResult, error)
	Update(ctx context.Context, identityID id.IdentityID, req models.UpdateRequest, requesterWallet string) (*service.MutationResult, error)
	Verify(ctx context.Context, identityID id.IdentityID, verifierWallet string) (*service.MutationResult, error)
	Deactivate(ctx context.Context, identityID id.IdentityID, requesterWallet string) (*service.MutationResult, error)
	AddRole(ctx context.Context, identityID id.IdentityID, role, requesterWallet string) (*service.MutationResult, error)
	RemoveRole(ctx context.Context, identityID id.IdentityID, role, requesterWallet string) (*service.MutationResult, error)
	ByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	ByWallet(ctx context.Context, walletAddress string) (*models.Identity, error)
	ValidateChain(ctx context.Context) error
}

// TokenCodec issues and checks QR tokens.
type TokenCodec interface {
	Generate(ctx context.Context, identityID id.IdentityID, tokenType qr.TokenType, reference string) (string, error)
	Validate(ctx context.Context, raw string) qr.ValidationResult
}

// ChainReader exposes read-only chain inspection.
type ChainReader interface {
	Tip() *ledger.Block
	ByIndex(i uint64) (*ledger.Block, bool)
	Len() int
}

// Handler wires the registry, codec, and chain to their endpoints.
type Handler struct {
	registry RegistryService
	codec    TokenCodec
	chain    ChainReader
	logger   *slog.Logger
}

func NewHandler(registry RegistryService, codec TokenCodec, chain ChainReader, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, codec: codec, chain: chain, logger: logger}
}

// Register mounts all domain endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/identities", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}", h.HandleUpdate)
		r.Post("/{id}/verify", h.HandleVerify)
		r.Post("/{id}/deactivate", h.HandleDeactivate)
		r.Post("/{id}/roles", h.HandleAddRole)
		r.Delete("/{id}/roles/{role}", h.HandleRemoveRole)
		r.Get("/wallet/{address}", h.HandleGetByWallet)
	})
	r.Route("/qr", func(r chi.Router) {
		r.Post("/generate", h.HandleGenerateToken)
		r.Post("/validate", h.HandleValidateToken)
	})
	r.Route("/chain", func(r chi.Router) {
		r.Get("/validate", h.HandleValidateChain)
		r.Get("/tip", h.HandleChainTip)
		r.Get("/blocks/{index}", h.HandleChainBlock)
	})
}

type mutationResponse struct {
	Identity  *models.Identity `json:"identity"`
	BlockHash string           `json:"block_hash"`
}

// HandleCreate handles POST /identities.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[models.CreateRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.registry.Create(ctx, req)
	if err != nil {
		h.logError(ctx, "identity creation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, mutationResponse{
		Identity:  result.Identity,
		BlockHash: result.BlockHash,
	})
}

// HandleGet handles GET /identities/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ident, err := h.registry.ByID(r.Context(), identityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ident)
}

// HandleGetByWallet handles GET /identities/wallet/{address}.
func (h *Handler) HandleGetByWallet(w http.ResponseWriter, r *http.Request) {
	ident, err := h.registry.ByWallet(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ident)
}

type updateRequest struct {
	models.UpdateRequest
	RequesterWallet string `json:"requester_wallet"`
}

// HandleUpdate handles PATCH /identities/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.Decode[updateRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.registry.Update(ctx, identityID, req.UpdateRequest, req.RequesterWallet)
	if err != nil {
		h.logError(ctx, "identity update failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{
		Identity:  result.Identity,
		BlockHash: result.BlockHash,
	})
}

type verifyRequest struct {
	VerifierWallet string `json:"verifier_wallet"`
}

// HandleVerify handles POST /identities/{id}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.Decode[verifyRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.registry.Verify(ctx, identityID, req.VerifierWallet)
	if err != nil {
		h.logError(ctx, "identity verification failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{
		Identity:  result.Identity,
		BlockHash: result.BlockHash,
	})
}

type requesterRequest struct {
	RequesterWallet string `json:"requester_wallet"`
}

// HandleDeactivate handles POST /identities/{id}/deactivate.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.Decode[requesterRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.registry.Deactivate(ctx, identityID, req.RequesterWallet)
	if err != nil {
		h.logError(ctx, "identity deactivation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{
		Identity:  result.Identity,
		BlockHash: result.BlockHash,
	})
}

type addRoleRequest struct {
	Role            string `json:"role"`
	RequesterWallet string `json:"requester_wallet"`
}

// HandleAddRole handles POST /identities/{id}/roles.
func (h *Handler) HandleAddRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.Decode[addRoleRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.registry.AddRole(ctx, identityID, req.Role, req.RequesterWallet)
	if err != nil {
		h.logError(ctx, "role grant failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{
		Identity:  result.Identity,
		BlockHash: result.BlockHash,
	})
}

// HandleRemoveRole handles DELETE /identities/{id}/roles/{role}. The
// requester wallet travels as a query parameter because DELETE bodies are
// routinely dropped by intermediaries.
func (h *Handler) HandleRemoveRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.registry.RemoveRole(ctx, identityID, chi.URLParam(r, "role"), r.URL.Query().Get("requester_wallet"))
	if err != nil {
		h.logError(ctx, "role revocation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mutationResponse{
		Identity:  result.Identity,
		BlockHash: result.BlockHash,
	})
}

type generateTokenRequest struct {
	IdentityID string `json:"identity_id"`
	Type       string `json:"type"`
	Reference  string `json:"reference,omitempty"`
}

// HandleGenerateToken handles POST /qr/generate.
func (h *Handler) HandleGenerateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[generateTokenRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identityID, err := id.ParseIdentityID(req.IdentityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tokenType := qr.TypeDigitalID
	if req.Type != "" {
		tokenType = qr.TokenType(req.Type)
	}

	token, err := h.codec.Generate(ctx, identityID, tokenType, req.Reference)
	if err != nil {
		h.logError(ctx, "token generation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	Valid    bool             `json:"valid"`
	Identity *models.Identity `json:"identity,omitempty"`
}

// HandleValidateToken handles POST /qr/validate. Invalid tokens are a normal
// outcome, not an error: the response is always 200.
func (h *Handler) HandleValidateToken(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[validateTokenRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result := h.codec.Validate(r.Context(), req.Token)
	httputil.WriteJSON(w, http.StatusOK, validateTokenResponse{
		Valid:    result.Valid,
		Identity: result.Identity,
	})
}

// HandleValidateChain handles GET /chain/validate. A tampered chain halts the
// registry as a side effect; the response still reports the outcome rather
// than failing the request.
func (h *Handler) HandleValidateChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.registry.ValidateChain(ctx); err != nil {
		if dErrors.HasCode(err, dErrors.CodeIntegrity) {
			h.logError(ctx, "chain validation failed", err)
			httputil.WriteJSON(w, http.StatusOK, map[string]bool{"valid": false})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// HandleChainTip handles GET /chain/tip.
func (h *Handler) HandleChainTip(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"length": h.chain.Len(),
		"tip":    h.chain.Tip(),
	})
}

// HandleChainBlock handles GET /chain/blocks/{index}.
func (h *Handler) HandleChainBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.NewField(dErrors.CodeBadRequest, "index", "index must be a non-negative integer"))
		return
	}
	block, ok := h.chain.ByIndex(index)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "block not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, block)
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
