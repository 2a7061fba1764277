// Package community implements the tournament roster, battle results, and
// shared equipment builds.
package community

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/overlord-community/backend/internal/auth"
	"github.com/overlord-community/backend/internal/game"
	"github.com/overlord-community/backend/internal/model"
	"github.com/overlord-community/backend/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service exposes the community endpoints.
type Service struct {
	store    store.Store
	validate *validator.Validate
}

// NewService creates the community HTTP service.
func NewService(st store.Store) *Service {
	return &Service{
		store:    st,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// TournamentRequest is the JSON body for POST /tournament/register.
type TournamentRequest struct {
	Nickname     string   `json:"nickname" validate:"required,min=2,max=32"`
	MasteryRank  int      `json:"mastery_rank" validate:"min=0,max=40"`
	Platform     string   `json:"platform" validate:"required,oneof=pc psn xbox switch"`
	Discord      string   `json:"discord" validate:"required,min=2,max=64"`
	Frame        string   `json:"frame" validate:"required"`
	Weapons      []string `json:"weapons" validate:"required,min=1,max=3,dive,required"`
	Event        string   `json:"event" validate:"required"`
	AgreeToRules bool     `json:"agree_to_rules" validate:"required"`
}

// RegisterTournament handles POST /api/v1/tournament/register. One
// registration per account, nickname, and discord handle.
func (s *Service) RegisterTournament(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req TournamentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	conflict, err := s.store.HasTournamentConflict(r.Context(), req.Nickname, req.Discord, user.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if conflict {
		writeError(w, "already registered for this tournament", http.StatusConflict)
		return
	}

	entry := &model.TournamentEntry{
		ID:            uuid.New().String(),
		UserID:        user.ID,
		Nickname:      req.Nickname,
		MasteryRank:   req.MasteryRank,
		Platform:      req.Platform,
		Discord:       req.Discord,
		Frame:         req.Frame,
		Weapons:       req.Weapons,
		Event:         req.Event,
		AgreedToRules: req.AgreeToRules,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateTournamentEntry(r.Context(), entry); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("tournament registration",
		"user_id", user.ID, "nickname", entry.Nickname, "event", entry.Event)

	writeJSON(w, http.StatusCreated, entry)
}

// ListRegistrations handles GET /api/v1/tournament/registrations.
func (s *Service) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	entries, total, err := s.store.ListTournamentEntries(r.Context(), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []model.TournamentEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registrations": entries,
		"total":         total,
	})
}

// BattleRequest is the JSON body for POST /battles.
type BattleRequest struct {
	Round          int    `json:"round" validate:"required,min=1"`
	WinnerNickname string `json:"winner_nickname" validate:"required"`
	LoserNickname  string `json:"loser_nickname" validate:"required,nefield=WinnerNickname"`
	Notes          string `json:"notes" validate:"max=500"`
}

// CreateBattle handles POST /api/v1/battles (admin).
func (s *Service) CreateBattle(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req BattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	battle := &model.BattleResult{
		ID:             uuid.New().String(),
		Round:          req.Round,
		WinnerNickname: req.WinnerNickname,
		LoserNickname:  req.LoserNickname,
		Notes:          req.Notes,
		RecordedBy:     user.ID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateBattleResult(r.Context(), battle); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("battle recorded",
		"round", battle.Round, "winner", battle.WinnerNickname, "loser", battle.LoserNickname)

	writeJSON(w, http.StatusCreated, battle)
}

// ListBattles handles GET /api/v1/battles.
func (s *Service) ListBattles(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	battles, total, err := s.store.ListBattleResults(r.Context(), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if battles == nil {
		battles = []model.BattleResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battles": battles,
		"total":   total,
	})
}

// BuildRequest is the JSON body for POST and PUT /builds.
type BuildRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=64"`
	FrameID     int      `json:"frame_id" validate:"required,min=1,max=20"`
	Description string   `json:"description" validate:"max=2000"`
	Mods        []string `json:"mods" validate:"max=12,dive,required"`
}

// CreateBuild handles POST /api/v1/builds.
func (s *Service) CreateBuild(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	build := &model.Build{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		AuthorName:  user.Name,
		Name:        req.Name,
		FrameID:     req.FrameID,
		FrameName:   game.FrameName(req.FrameID),
		Description: req.Description,
		Mods:        req.Mods,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if build.Mods == nil {
		build.Mods = []string{}
	}
	if err := s.store.CreateBuild(r.Context(), build); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("build shared", "user_id", user.ID, "build_id", build.ID, "frame", build.FrameName)

	writeJSON(w, http.StatusCreated, build)
}

// ListBuilds handles GET /api/v1/builds. Accepts ?frame= to filter.
func (s *Service) ListBuilds(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	frameID := 0
	if raw := r.URL.Query().Get("frame"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !game.ValidFrame(n) {
			writeError(w, "frame must be a frame id between 1 and 20", http.StatusBadRequest)
			return
		}
		frameID = n
	}

	builds, total, err := s.store.ListBuilds(r.Context(), frameID, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if builds == nil {
		builds = []model.Build{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"builds": builds,
		"total":  total,
	})
}

// GetBuild handles GET /api/v1/builds/{id}.
func (s *Service) GetBuild(w http.ResponseWriter, r *http.Request) {
	build, err := s.store.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "build not found", http.StatusNotFound)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// UpdateBuild handles PUT /api/v1/builds/{id}. Only the author or an admin
// may update.
func (s *Service) UpdateBuild(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	build, err := s.store.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "build not found", http.StatusNotFound)
			return
		}
		writeStoreError(w, err)
		return
	}
	if build.UserID != user.ID && !user.IsAdmin {
		writeError(w, "not your build", http.StatusForbidden)
		return
	}

	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	build.Name = req.Name
	build.FrameID = req.FrameID
	build.FrameName = game.FrameName(req.FrameID)
	build.Description = req.Description
	build.Mods = req.Mods
	if build.Mods == nil {
		build.Mods = []string{}
	}
	build.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateBuild(r.Context(), build); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// DeleteBuild handles DELETE /api/v1/builds/{id}. Only the author or an
// admin may delete.
func (s *Service) DeleteBuild(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFrom(r.Context())

	build, err := s.store.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "build not found", http.StatusNotFound)
			return
		}
		writeStoreError(w, err)
		return
	}
	if build.UserID != user.ID && !user.IsAdmin {
		writeError(w, "not your build", http.StatusForbidden)
		return
	}

	if err := s.store.DeleteBuild(r.Context(), build.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pagination parses ?limit and ?offset, writing a 400 on bad input.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "offset must not be negative", http.StatusBadRequest)
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// validationMessage flattens a validator error into a readable message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

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
