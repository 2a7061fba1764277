// Package store defines the persistence interface for the backend.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/overlord-community/backend/internal/model"
)

// Sentinel errors shared by all implementations. Handlers translate these to
// HTTP statuses; everything else is treated as an internal failure.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrEmailExists is returned when creating a user with a taken email.
	ErrEmailExists = errors.New("email already registered")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrNoSettings is returned when the settings row has not been created.
	ErrNoSettings = errors.New("settings not initialized")

	// ErrUnavailable wraps failures to reach the store at all. Callers may
	// retry the whole operation.
	ErrUnavailable = errors.New("store unavailable")

	// ErrCommitAborted wraps a transaction that could not commit. No partial
	// effect of the enclosed operations is observable.
	ErrCommitAborted = errors.New("commit aborted")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users / ledger ---

	// CreateUser persists a new user. Returns ErrEmailExists on duplicates.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByEmail retrieves a user by lowercase email.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// ListUsers returns all users, newest first.
	ListUsers(ctx context.Context) ([]model.User, error)

	// CountUsers returns the total number of registered users.
	CountUsers(ctx context.Context) (int64, error)

	// CreditBalance adds amount to a user's balance and returns the new value.
	CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)

	// DebitBalance subtracts amount from a user's balance and returns the new
	// value. Returns ErrInsufficientFunds without mutating when the balance
	// would go negative.
	DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)

	// GrantBalanceByEmail credits a user addressed by email (admin grants).
	GrantBalanceByEmail(ctx context.Context, email string, amount decimal.Decimal) (*model.User, error)

	// --- Wager pool ---

	// CreateWager persists a new open wager.
	CreateWager(ctx context.Context, w *model.Wager) error

	// GetOpenWagers returns the entire open pool in placement order. Inside
	// RunAtomic the returned rows are locked, so competing settlements
	// serialize on the pool.
	GetOpenWagers(ctx context.Context) ([]model.Wager, error)

	// GetWagersByUser returns one user's open wagers, newest first.
	GetWagersByUser(ctx context.Context, userID string) ([]model.Wager, error)

	// DeleteWagers removes the identified wagers and returns how many were
	// deleted. Wagers placed after the caller's read are left alone.
	DeleteWagers(ctx context.Context, ids []string) (int64, error)

	// ClearOpenWagers deletes the entire open pool and returns the count.
	ClearOpenWagers(ctx context.Context) (int64, error)

	// --- Settings ---

	// GetSettings returns the singleton settings row, or ErrNoSettings.
	GetSettings(ctx context.Context) (*model.Settings, error)

	// UpsertSettings creates or replaces the singleton settings row.
	UpsertSettings(ctx context.Context, s *model.Settings) error

	// SetLastDraw updates only the last-draw timestamp.
	SetLastDraw(ctx context.Context, t time.Time) error

	// --- Draw history (append-only) ---

	// AppendDrawRecord inserts an immutable settlement snapshot.
	AppendDrawRecord(ctx context.Context, rec *model.DrawRecord) error

	// ListDrawRecords returns the most recent records, newest first.
	ListDrawRecords(ctx context.Context, limit int) ([]model.DrawRecord, error)

	// --- Tournament roster ---

	// CreateTournamentEntry persists a roster registration.
	CreateTournamentEntry(ctx context.Context, e *model.TournamentEntry) error

	// HasTournamentConflict reports whether a registration already exists for
	// the given nickname, discord handle, or user.
	HasTournamentConflict(ctx context.Context, nickname, discord, userID string) (bool, error)

	// ListTournamentEntries returns a page of registrations, newest first,
	// plus the total count.
	ListTournamentEntries(ctx context.Context, limit, offset int) ([]model.TournamentEntry, int64, error)

	// --- Builds ---

	// CreateBuild persists a shared build.
	CreateBuild(ctx context.Context, b *model.Build) error

	// GetBuild retrieves a build by ID.
	GetBuild(ctx context.Context, id string) (*model.Build, error)

	// ListBuilds returns a page of builds, newest first, optionally filtered
	// by frame (frameID > 0), plus the total count of the filtered set.
	ListBuilds(ctx context.Context, frameID, limit, offset int) ([]model.Build, int64, error)

	// UpdateBuild replaces the mutable fields of an existing build.
	UpdateBuild(ctx context.Context, b *model.Build) error

	// DeleteBuild removes a build.
	DeleteBuild(ctx context.Context, id string) error

	// --- Battle results ---

	// CreateBattleResult persists a tournament battle outcome.
	CreateBattleResult(ctx context.Context, b *model.BattleResult) error

	// ListBattleResults returns a page of battle results, newest first, plus
	// the total count.
	ListBattleResults(ctx context.Context, limit, offset int) ([]model.BattleResult, int64, error)

	// --- Transactions ---

	// RunAtomic executes fn against a transactional view of the store. All
	// mutations made through fn's Store commit together or not at all. An
	// error from fn aborts with that error; a failed commit returns an error
	// wrapping ErrCommitAborted.
	RunAtomic(ctx context.Context, fn func(Store) error) error
}
