/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes redemption, the caller's ledger views and operator tooling over
  REST. Handlers parse and validate, delegate to the ledger packages and
  map errors by kind.

ENDPOINTS:
  Client (bearer token):
    POST   /api/redeem                         Redeem a reward
    GET    /api/me                             Profile and balance
    POST   /api/me                             Create profile with zero totals
    GET    /api/me/earnings?limit=             Earnings, newest first
    GET    /api/me/redemptions?limit=          Redemptions, newest first
    GET    /api/me/notifications?limit=        Notifications, newest first
    POST   /api/me/notifications/{id}/read     Mark one read
    GET    /api/rewards?category=              Active rewards for the caller

  Admin (X-Admin-Token):
    POST   /api/admin/catalog/seed             Seed built-in or posted YAML catalog
    POST   /api/admin/rewards/{id}/codes       Import codes into a pool
    POST   /api/admin/reclaim                  Run a reclaim sweep now
    GET    /api/admin/scenarios                List demo scenarios
    POST   /api/admin/scenarios/load           Load a demo scenario

ERROR HANDLING:
  Errors are returned as {"error": {kind, code, message, details}}:
  - 400: invalid_argument
  - 401: unauthenticated
  - 403: permission_denied (banned or locked)
  - 404: not_found
  - 412: failed_precondition (inactive, out_of_stock, insufficient_balance,
         region_unavailable)
  - 500: internal

SEE ALSO:
  - dto.go: Request/response data structures
  - respond.go: writeJSON / writeError
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/earnly/credit-engine/catalog"
	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/reclaimer"
	"github.com/earnly/credit-engine/redemption"
	"github.com/earnly/credit-engine/webhook"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the collaborators of the API. Nil fields get defaults over Store.
type Deps struct {
	Store     ledger.Store
	Engine    *redemption.Engine
	Reclaimer *reclaimer.Reclaimer
	Ingestor  *webhook.Ingestor
	Catalog   *catalog.File // seeded by POST /api/admin/catalog/seed
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	store     ledger.Store
	engine    *redemption.Engine
	reclaimer *reclaimer.Reclaimer
	ingestor  *webhook.Ingestor
	catalog   catalog.File
	validate  *validator.Validate
}

// NewHandler creates a handler.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		store:     d.Store,
		engine:    d.Engine,
		reclaimer: d.Reclaimer,
		ingestor:  d.Ingestor,
		validate:  validator.New(),
	}
	if h.engine == nil {
		h.engine = redemption.NewEngine(d.Store)
	}
	if h.reclaimer == nil {
		h.reclaimer = reclaimer.New(d.Store, reclaimer.Config{})
	}
	if h.ingestor == nil {
		h.ingestor = webhook.NewIngestor(d.Store)
	}
	if d.Catalog != nil {
		h.catalog = *d.Catalog
	} else {
		h.catalog = catalog.Default()
	}
	return h
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem exchanges credits for a gift code.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := h.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.Redeem(r.Context(), UserID(r.Context()), req.RewardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedeemResponse(res))
}

// =============================================================================
// PROFILE
// =============================================================================

// GetProfile returns the caller's profile and balance.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(u))
}

// CreateProfile initializes the caller's financial fields to zero. An
// existing profile is returned unchanged.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := h.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	uid := UserID(ctx)
	created, err := h.store.CreateUser(ctx, ledger.User{
		ID:      uid,
		Email:   req.Email,
		Name:    req.Name,
		Country: strings.ToUpper(req.Country),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.store.GetUser(ctx, uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toProfileDTO(u))
}

// =============================================================================
// HISTORY
// =============================================================================

const maxListLimit = 100

// parseLimit reads ?limit=, defaulting to def and capping at maxListLimit.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", ledger.ErrInvalidArgument)
	}
	return min(n, maxListLimit), nil
}

// ListEarnings returns the caller's earnings history.
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.store.ListEarnings(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEarningDTOs(entries))
}

// ListRedemptions returns the caller's redemptions.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.ListRedemptions(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(list))
}

// ListNotifications returns the caller's notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.ListNotifications(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationDTOs(list))
}

// MarkNotificationRead marks one of the caller's notifications read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.MarkNotificationRead(r.Context(), UserID(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REWARDS
// =============================================================================

// ListRewards returns active rewards the caller can redeem in their
// country, optionally narrowed to one category.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := ledger.RewardFilter{ActiveOnly: true}

	if c := r.URL.Query().Get("category"); c != "" {
		if err := h.validate.Var(c, "oneof=giftcard paypal crypto cashout"); err != nil {
			writeError(w, r, fmt.Errorf("%w: unknown category %q", ledger.ErrInvalidArgument, c))
			return
		}
		filter.Category = ledger.Category(c)
	}

	rewards, err := h.store.ListRewards(ctx, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Callers without a profile see the unfiltered catalog.
	u, err := h.store.GetUser(ctx, UserID(ctx))
	switch {
	case err == nil:
		rewards = slices.DeleteFunc(rewards, func(rw ledger.Reward) bool {
			return !rw.AvailableIn(u.Country)
		})
	case !ledger.IsNotFound(err):
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTOs(rewards))
}

// =============================================================================
// ADMIN
// =============================================================================

// SeedCatalog seeds the configured catalog, or a YAML catalog posted with
// Content-Type application/yaml.
func (h *Handler) SeedCatalog(w http.ResponseWriter, r *http.Request) {
	f := h.catalog
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: reading body: %v", ledger.ErrInvalidArgument, err))
			return
		}
		if f, err = catalog.Parse(data); err != nil {
			writeError(w, r, err)
			return
		}
	}

	report, err := catalog.Seed(r.Context(), h.store, f, h.store.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// AddCodes imports externally purchased codes into a reward's pool.
func (h *Handler) AddCodes(w http.ResponseWriter, r *http.Request) {
	rewardID := chi.URLParam(r, "id")
	var req AddCodesRequest
	if err := h.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	batch := req.Batch
	if batch == "" {
		batch = "manual"
	}
	codes := make([]ledger.GiftCode, len(req.Codes))
	for i, c := range req.Codes {
		codes[i] = ledger.GiftCode{Code: strings.TrimSpace(c), Batch: batch, ExpiresAt: req.ExpiresAt}
	}

	ctx := r.Context()
	if err := h.store.AddCodes(ctx, rewardID, codes); err != nil {
		writeError(w, r, err)
		return
	}
	reward, err := h.store.GetReward(ctx, rewardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AddCodesResponse{RewardID: rewardID, Added: len(codes), Stock: reward.Stock})
}

// TriggerReclaim runs a reclaim sweep immediately.
func (h *Handler) TriggerReclaim(w http.ResponseWriter, r *http.Request) {
	report := h.reclaimer.RunNow(r.Context())
	writeJSON(w, http.StatusOK, toReclaimResponse(report))
}

// Healthz reports that the store answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListRewards(r.Context(), ledger.RewardFilter{Category: "-"}); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
