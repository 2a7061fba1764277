package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/overlord-community/backend/internal/model"
	"github.com/overlord-community/backend/internal/store"
)

// startingBalance is the platinum granted to every new account.
var startingBalance = decimal.NewFromInt(5)

// Service handles registration and login.
type Service struct {
	store  store.Store
	tokens *Tokens
}

// NewService creates a new auth service.
func NewService(st store.Store, tokens *Tokens) *Service {
	return &Service{store: st, tokens: tokens}
}

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned from both register and login.
type SessionResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Register handles POST /api/v1/auth/register.
// The first account ever created becomes the site admin.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, "name, email and password are required", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, "invalid email address", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 6 {
		writeError(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Balance:      startingBalance,
		IsAdmin:      count == 0,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			writeError(w, "email already registered", http.StatusConflict)
			return
		}
		slog.Error("create user failed", "err", err)
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	slog.Info("user registered", "id", user.ID, "email", user.Email, "admin", user.IsAdmin)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SessionResponse{Token: token, User: user})
}

// Login handles POST /api/v1/auth/login.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, "email and password are required", http.StatusBadRequest)
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Same response as a bad password; no account enumeration.
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, "login failed", http.StatusInternalServerError)
		return
	}

	slog.Info("user logged in", "id", user.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SessionResponse{Token: token, User: user})
}

// Me handles GET /api/v1/user/me.
func (s *Service) Me(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
