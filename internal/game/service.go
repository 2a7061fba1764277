package game

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/overlord-community/backend/internal/auth"
	"github.com/overlord-community/backend/internal/metrics"
	"github.com/overlord-community/backend/internal/model"
	"github.com/overlord-community/backend/internal/store"
)

const defaultHistoryLimit = 10

// Service exposes the wager pool, draw, settings, and admin endpoints.
type Service struct {
	store  store.Store
	engine *Engine
}

// NewService creates the game HTTP service.
func NewService(st store.Store, engine *Engine) *Service {
	return &Service{store: st, engine: engine}
}

// PlaceWagerRequest is the JSON body for POST /wagers. Tickets defaults to 1.
type PlaceWagerRequest struct {
	FrameID int             `json:"frame_id"`
	Amount  decimal.Decimal `json:"amount"`
	Tickets int             `json:"tickets"`
}

// PlaceWager handles POST /api/v1/wagers. The balance debit and the wager
// insert commit together.
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !ValidFrame(req.FrameID) {
		writeError(w, "frame_id must be between 1 and 20", http.StatusBadRequest)
		return
	}
	if req.Tickets == 0 {
		req.Tickets = 1
	}
	if req.Tickets < 1 {
		writeError(w, "tickets must be at least 1", http.StatusBadRequest)
		return
	}

	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Amount.LessThan(settings.MinWager) {
		writeError(w, "amount is below the minimum wager of "+settings.MinWager.String(), http.StatusBadRequest)
		return
	}
	if req.Amount.GreaterThan(settings.MaxWager) {
		writeError(w, "amount exceeds the maximum wager of "+settings.MaxWager.String(), http.StatusBadRequest)
		return
	}

	wager := &model.Wager{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		UserName:  user.Name,
		FrameID:   req.FrameID,
		FrameName: FrameName(req.FrameID),
		Amount:    req.Amount,
		Tickets:   req.Tickets,
		CreatedAt: time.Now().UTC(),
	}

	var newBalance decimal.Decimal
	err = s.store.RunAtomic(r.Context(), func(tx store.Store) error {
		balance, err := tx.DebitBalance(r.Context(), user.ID, req.Amount)
		if err != nil {
			return err
		}
		newBalance = balance
		return tx.CreateWager(r.Context(), wager)
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			writeError(w, "insufficient balance", http.StatusPaymentRequired)
			return
		}
		writeStoreError(w, err)
		return
	}

	metrics.WagersPlaced.Inc()
	staked, _ := req.Amount.Float64()
	metrics.StakedTotal.Add(staked)

	slog.Info("wager placed",
		"user_id", user.ID, "frame_id", wager.FrameID, "amount", wager.Amount)

	writeJSON(w, http.StatusCreated, map[string]any{
		"wager":   wager,
		"balance": newBalance,
	})
}

// MyWagers handles GET /api/v1/wagers.
func (s *Service) MyWagers(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())
	wagers, err := s.store.GetWagersByUser(r.Context(), user.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"wagers": wagers})
}

// AllWagers handles GET /api/v1/wagers/all (admin). Returns the whole open
// pool in placement order plus the staked total.
func (s *Service) AllWagers(w http.ResponseWriter, r *http.Request) {
	wagers, err := s.store.GetOpenWagers(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total := decimal.Zero
	for _, wg := range wagers {
		total = total.Add(wg.Amount)
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wagers":       wagers,
		"total_staked": total,
	})
}

// ClearWagers handles DELETE /api/v1/wagers/all (admin). Discards the open
// pool without refunds or settlement.
func (s *Service) ClearWagers(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearOpenWagers(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	slog.Info("open pool cleared", "wagers", n)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// RunDraw handles POST /api/v1/game/draw (admin).
func (s *Service) RunDraw(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Settle(r.Context())
	if err != nil {
		if errors.Is(err, ErrNoOpenWagers) {
			writeError(w, "no open wagers to draw on", http.StatusConflict)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// History handles GET /api/v1/game/history. Accepts ?limit=, capped at 100.
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 100)
	}
	records, err := s.store.ListDrawRecords(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []model.DrawRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"draws": records})
}

// GetSettings handles GET /api/v1/game/settings (admin).
func (s *Service) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettingsRequest is the JSON body for PUT /game/settings.
type UpdateSettingsRequest struct {
	BasePrize  decimal.Decimal `json:"base_prize"`
	Multiplier decimal.Decimal `json:"multiplier"`
	MinWager   decimal.Decimal `json:"min_wager"`
	MaxWager   decimal.Decimal `json:"max_wager"`
}

// UpdateSettings handles PUT /api/v1/game/settings (admin). The last-draw
// timestamp is preserved.
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BasePrize.IsNegative() {
		writeError(w, "base_prize must not be negative", http.StatusBadRequest)
		return
	}
	if req.Multiplier.LessThan(decimal.NewFromInt(1)) {
		writeError(w, "multiplier must be at least 1", http.StatusBadRequest)
		return
	}
	if !req.MinWager.IsPositive() {
		writeError(w, "min_wager must be positive", http.StatusBadRequest)
		return
	}
	if req.MaxWager.LessThan(req.MinWager) {
		writeError(w, "max_wager must not be below min_wager", http.StatusBadRequest)
		return
	}

	current, err := s.engine.Settings(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	next := &model.Settings{
		BasePrize:  req.BasePrize,
		Multiplier: req.Multiplier,
		MinWager:   req.MinWager,
		MaxWager:   req.MaxWager,
		LastDraw:   current.LastDraw,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.UpsertSettings(r.Context(), next); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("settings updated",
		"base_prize", next.BasePrize, "multiplier", next.Multiplier,
		"min_wager", next.MinWager, "max_wager", next.MaxWager)

	writeJSON(w, http.StatusOK, next)
}

// ListFrames handles GET /api/v1/game/frames.
func (s *Service) ListFrames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"frames": Frames()})
}

// ListUsers handles GET /api/v1/users (admin).
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// GrantBalanceRequest is the JSON body for PUT /users/{email}/balance.
type GrantBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// GrantBalance handles PUT /api/v1/users/{email}/balance (admin).
func (s *Service) GrantBalance(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	var req GrantBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	user, err := s.store.GrantBalanceByEmail(r.Context(), email, req.Amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeStoreError(w, err)
		return
	}

	granter := auth.UserFrom(r.Context())
	slog.Info("balance granted",
		"admin_id", granter.ID, "user_id", user.ID, "amount", req.Amount)

	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store failures to HTTP statuses. Unreachable stores
// are reported retryable; everything else is an internal error.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, "storage unavailable, retry later", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrCommitAborted):
		writeError(w, "operation aborted, no changes were made", http.StatusConflict)
	default:
		slog.Error("store operation failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
