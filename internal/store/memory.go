package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/overlord-community/backend/internal/model"
)

// MemoryStore implements Store with in-memory state. Used for testing and
// development. Not suitable for production (no persistence).
//
// RunAtomic gets real all-or-nothing semantics by running the callback
// against a deep copy of the state and swapping it in only on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users      map[string]model.User
	wagers     []model.Wager
	settings   *model.Settings
	draws      []model.DrawRecord
	tournament []model.TournamentEntry
	builds     []model.Build
	battles    []model.BattleResult
}

func (st *memState) clone() *memState {
	c := &memState{
		users:      make(map[string]model.User, len(st.users)),
		wagers:     append([]model.Wager(nil), st.wagers...),
		draws:      append([]model.DrawRecord(nil), st.draws...),
		tournament: append([]model.TournamentEntry(nil), st.tournament...),
		builds:     append([]model.Build(nil), st.builds...),
		battles:    append([]model.BattleResult(nil), st.battles...),
	}
	for id, u := range st.users {
		c.users[id] = u
	}
	if st.settings != nil {
		s := *st.settings
		c.settings = &s
	}
	return c
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{users: make(map[string]model.User)}}
}

// --- Users / ledger ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	for _, existing := range s.state.users {
		if existing.Email == email {
			return ErrEmailExists
		}
	}
	stored := *u
	stored.Email = email
	s.state.users[u.ID] = stored
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.state.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range s.state.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.state.users))
	for _, u := range s.state.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.state.users)), nil
}

func (s *MemoryStore) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.state.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	u.Balance = u.Balance.Add(amount)
	s.state.users[userID] = u
	return u.Balance, nil
}

func (s *MemoryStore) DebitBalance(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.state.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if u.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	u.Balance = u.Balance.Sub(amount)
	s.state.users[userID] = u
	return u.Balance, nil
}

func (s *MemoryStore) GrantBalanceByEmail(_ context.Context, email string, amount decimal.Decimal) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for id, u := range s.state.users {
		if u.Email == email {
			u.Balance = u.Balance.Add(amount)
			s.state.users[id] = u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// --- Wager pool ---

func (s *MemoryStore) CreateWager(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.wagers = append(s.state.wagers, *w)
	return nil
}

func (s *MemoryStore) GetOpenWagers(_ context.Context) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Wager(nil), s.state.wagers...), nil
}

func (s *MemoryStore) GetWagersByUser(_ context.Context, userID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for i := len(s.state.wagers) - 1; i >= 0; i-- {
		if s.state.wagers[i].UserID == userID {
			result = append(result, s.state.wagers[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) DeleteWagers(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	var kept []model.Wager
	var n int64
	for _, w := range s.state.wagers {
		if _, ok := drop[w.ID]; ok {
			n++
			continue
		}
		kept = append(kept, w)
	}
	s.state.wagers = kept
	return n, nil
}

func (s *MemoryStore) ClearOpenWagers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.state.wagers))
	s.state.wagers = nil
	return n, nil
}

// --- Settings ---

func (s *MemoryStore) GetSettings(_ context.Context) (*model.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.settings == nil {
		return nil, ErrNoSettings
	}
	settings := *s.state.settings
	return &settings, nil
}

func (s *MemoryStore) UpsertSettings(_ context.Context, settings *model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *settings
	s.state.settings = &stored
	return nil
}

func (s *MemoryStore) SetLastDraw(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.settings == nil {
		return ErrNoSettings
	}
	s.state.settings.LastDraw = &t
	s.state.settings.UpdatedAt = t
	return nil
}

// --- Draw history ---

func (s *MemoryStore) AppendDrawRecord(_ context.Context, rec *model.DrawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.draws = append(s.state.draws, *rec)
	return nil
}

func (s *MemoryStore) ListDrawRecords(_ context.Context, limit int) ([]model.DrawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DrawRecord
	for i := len(s.state.draws) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.state.draws[i])
	}
	return result, nil
}

// --- Tournament roster ---

func (s *MemoryStore) CreateTournamentEntry(_ context.Context, e *model.TournamentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.tournament = append(s.state.tournament, *e)
	return nil
}

func (s *MemoryStore) HasTournamentConflict(_ context.Context, nickname, discord, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.state.tournament {
		if e.Nickname == nickname || e.Discord == discord || e.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListTournamentEntries(_ context.Context, limit, offset int) ([]model.TournamentEntry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(len(s.state.tournament))
	var result []model.TournamentEntry
	for i := len(s.state.tournament) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.state.tournament[i])
	}
	return result, total, nil
}

// --- Builds ---

func (s *MemoryStore) CreateBuild(_ context.Context, b *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.builds = append(s.state.builds, *b)
	return nil
}

func (s *MemoryStore) GetBuild(_ context.Context, id string) (*model.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.state.builds {
		if b.ID == id {
			build := b
			return &build, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListBuilds(_ context.Context, frameID, limit, offset int) ([]model.Build, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []model.Build
	for i := len(s.state.builds) - 1; i >= 0; i-- {
		if frameID > 0 && s.state.builds[i].FrameID != frameID {
			continue
		}
		filtered = append(filtered, s.state.builds[i])
	}
	total := int64(len(filtered))
	if offset >= len(filtered) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}

func (s *MemoryStore) UpdateBuild(_ context.Context, b *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.builds {
		if s.state.builds[i].ID == b.ID {
			s.state.builds[i] = *b
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) DeleteBuild(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.builds {
		if s.state.builds[i].ID == id {
			s.state.builds = append(s.state.builds[:i], s.state.builds[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// --- Battle results ---

func (s *MemoryStore) CreateBattleResult(_ context.Context, b *model.BattleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.battles = append(s.state.battles, *b)
	return nil
}

func (s *MemoryStore) ListBattleResults(_ context.Context, limit, offset int) ([]model.BattleResult, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(len(s.state.battles))
	var result []model.BattleResult
	for i := len(s.state.battles) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.state.battles[i])
	}
	return result, total, nil
}

// --- Transactions ---

// RunAtomic clones the state, runs fn against the clone, and swaps the clone
// in only when fn succeeds. Concurrent writers are excluded for the whole
// transaction, matching the serialization the Postgres store gets from
// row-level locks.
func (s *MemoryStore) RunAtomic(_ context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shadow := &MemoryStore{state: s.state.clone()}
	if err := fn(shadow); err != nil {
		return err
	}
	s.state = shadow.state
	return nil
}
