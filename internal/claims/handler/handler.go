// Package handler exposes the claim registry over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"claimreg/internal/claims/models"
	"claimreg/internal/platform/middleware"
	"claimreg/pkg/domain"
	dErrors "claimreg/pkg/domain-errors"
	"claimreg/pkg/platform/httputil"
	"claimreg/pkg/requestcontext"
)

// Response headers carrying the dispatch outcome.
const (
	HeaderWeight = "X-Dispatch-Weight"
	HeaderBlock  = "X-Block-Number"
)

// Ledger applies mutating commands.
type Ledger interface {
	Apply(ctx context.Context, cmd models.Command) (models.Result, error)
}

// Reader serves claim lookups.
type Reader interface {
	GetClaim(ctx context.Context, key domain.ClaimKey) (*models.Claim, error)
}

type Handler struct {
	ledger    Ledger
	reader    Reader
	validator middleware.TokenValidator
	logger    *slog.Logger
}

func New(ledger Ledger, reader Reader, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, reader: reader, validator: validator, logger: logger}
}

// Register mounts the claim routes. Reads are public; writes need a bearer
// token naming the calling account.
func (h *Handler) Register(r chi.Router) {
	r.Route("/claims", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Get("/{claim}", h.handleGetClaim)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.validator, h.logger))
			r.Post("/", h.handleCreateClaim)
			r.Delete("/{claim}", h.handleRevokeClaim)
			r.Post("/{claim}/transfer", h.handleTransferClaim)
		})
	})
}

type CreateClaimRequest struct {
	Claim string `json:"claim"`
}

type TransferClaimRequest struct {
	Destination string `json:"destination"`
}

type ClaimResponse struct {
	Claim string `json:"claim"`
	Owner string `json:"owner"`
	Block uint64 `json:"block"`
}

func toResponse(c *models.Claim) ClaimResponse {
	return ClaimResponse{Claim: c.Key.Hex(), Owner: c.Owner.String(), Block: uint64(c.Block)}
}

func (h *Handler) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, err := httputil.DecodeJSON[CreateClaimRequest](r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	key, err := domain.ParseClaimKey(req.Claim)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.ledger.Apply(ctx, models.CreateClaim{Caller: caller, Claim: key})
	writeDispatch(w, res)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/claims/"+key.Hex())
	httputil.WriteJSON(w, http.StatusCreated, ClaimResponse{Claim: key.Hex(), Owner: caller.String(), Block: uint64(res.Block)})
}

func (h *Handler) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := domain.ParseClaimKey(chi.URLParam(r, "claim"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	claim, err := h.reader.GetClaim(ctx, key)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(claim))
}

func (h *Handler) handleRevokeClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, err := domain.ParseClaimKey(chi.URLParam(r, "claim"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.ledger.Apply(ctx, models.RevokeClaim{Caller: caller, Claim: key})
	writeDispatch(w, res)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransferClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	key, err := domain.ParseClaimKey(chi.URLParam(r, "claim"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	req, err := httputil.DecodeJSON[TransferClaimRequest](r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	dest, err := domain.ParseAccountID(req.Destination)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.ledger.Apply(ctx, models.TransferClaim{Caller: caller, Claim: key, Destination: dest})
	writeDispatch(w, res)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.AccountID, bool) {
	caller, ok := requestcontext.Caller(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "caller missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return domain.AccountID{}, false
	}
	return caller, true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "claim request failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

// writeDispatch reports the block and weight of an applied command. Commands
// rejected before a block was produced carry no headers.
func writeDispatch(w http.ResponseWriter, res models.Result) {
	if res.Weight == 0 {
		return
	}
	w.Header().Set(HeaderWeight, strconv.FormatUint(res.Weight, 10))
	w.Header().Set(HeaderBlock, res.Block.String())
}
