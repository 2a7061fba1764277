package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/overlord-community/backend/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the two hot public reads: game settings and draw history.
// Writes go to the primary store and invalidate the cache; reads check Redis
// first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func settingsKey() string { return "game:settings" }

func historyKey(limit int) string { return fmt.Sprintf("game:history:%d", limit) }

func (s *CachedStore) invalidateGame(ctx context.Context) {
	iter := s.rdb.Scan(ctx, 0, "game:history:*", 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	s.rdb.Del(ctx, settingsKey())
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	data, err := s.rdb.Get(ctx, settingsKey()).Bytes()
	if err == nil {
		var settings model.Settings
		if json.Unmarshal(data, &settings) == nil {
			return &settings, nil
		}
	}

	settings, err := s.primary.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(settings); err == nil {
		s.rdb.Set(ctx, settingsKey(), data, s.ttl)
	}
	return settings, nil
}

func (s *CachedStore) ListDrawRecords(ctx context.Context, limit int) ([]model.DrawRecord, error) {
	data, err := s.rdb.Get(ctx, historyKey(limit)).Bytes()
	if err == nil {
		var records []model.DrawRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.primary.ListDrawRecords(ctx, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, historyKey(limit), data, s.ttl)
	}
	return records, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertSettings(ctx context.Context, settings *model.Settings) error {
	if err := s.primary.UpsertSettings(ctx, settings); err != nil {
		return err
	}
	s.rdb.Del(ctx, settingsKey())
	return nil
}

func (s *CachedStore) SetLastDraw(ctx context.Context, t time.Time) error {
	if err := s.primary.SetLastDraw(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, settingsKey())
	return nil
}

func (s *CachedStore) AppendDrawRecord(ctx context.Context, rec *model.DrawRecord) error {
	if err := s.primary.AppendDrawRecord(ctx, rec); err != nil {
		return err
	}
	s.invalidateGame(ctx)
	return nil
}

// RunAtomic delegates to the primary store's transaction; fn sees the raw
// transactional store, never the cache. Both caches are invalidated after a
// successful commit since settlement touches settings and history.
func (s *CachedStore) RunAtomic(ctx context.Context, fn func(Store) error) error {
	if err := s.primary.RunAtomic(ctx, fn); err != nil {
		return err
	}
	s.invalidateGame(ctx)
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.primary.GetUserByEmail(ctx, email)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) CountUsers(ctx context.Context) (int64, error) {
	return s.primary.CountUsers(ctx)
}

func (s *CachedStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.primary.CreditBalance(ctx, userID, amount)
}

func (s *CachedStore) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.primary.DebitBalance(ctx, userID, amount)
}

func (s *CachedStore) GrantBalanceByEmail(ctx context.Context, email string, amount decimal.Decimal) (*model.User, error) {
	return s.primary.GrantBalanceByEmail(ctx, email, amount)
}

func (s *CachedStore) CreateWager(ctx context.Context, w *model.Wager) error {
	return s.primary.CreateWager(ctx, w)
}

func (s *CachedStore) GetOpenWagers(ctx context.Context) ([]model.Wager, error) {
	return s.primary.GetOpenWagers(ctx)
}

func (s *CachedStore) GetWagersByUser(ctx context.Context, userID string) ([]model.Wager, error) {
	return s.primary.GetWagersByUser(ctx, userID)
}

func (s *CachedStore) DeleteWagers(ctx context.Context, ids []string) (int64, error) {
	return s.primary.DeleteWagers(ctx, ids)
}

func (s *CachedStore) ClearOpenWagers(ctx context.Context) (int64, error) {
	return s.primary.ClearOpenWagers(ctx)
}

func (s *CachedStore) CreateTournamentEntry(ctx context.Context, e *model.TournamentEntry) error {
	return s.primary.CreateTournamentEntry(ctx, e)
}

func (s *CachedStore) HasTournamentConflict(ctx context.Context, nickname, discord, userID string) (bool, error) {
	return s.primary.HasTournamentConflict(ctx, nickname, discord, userID)
}

func (s *CachedStore) ListTournamentEntries(ctx context.Context, limit, offset int) ([]model.TournamentEntry, int64, error) {
	return s.primary.ListTournamentEntries(ctx, limit, offset)
}

func (s *CachedStore) CreateBuild(ctx context.Context, b *model.Build) error {
	return s.primary.CreateBuild(ctx, b)
}

func (s *CachedStore) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	return s.primary.GetBuild(ctx, id)
}

func (s *CachedStore) ListBuilds(ctx context.Context, frameID, limit, offset int) ([]model.Build, int64, error) {
	return s.primary.ListBuilds(ctx, frameID, limit, offset)
}

func (s *CachedStore) UpdateBuild(ctx context.Context, b *model.Build) error {
	return s.primary.UpdateBuild(ctx, b)
}

func (s *CachedStore) DeleteBuild(ctx context.Context, id string) error {
	return s.primary.DeleteBuild(ctx, id)
}

func (s *CachedStore) CreateBattleResult(ctx context.Context, b *model.BattleResult) error {
	return s.primary.CreateBattleResult(ctx, b)
}

func (s *CachedStore) ListBattleResults(ctx context.Context, limit, offset int) ([]model.BattleResult, int64, error) {
	return s.primary.ListBattleResults(ctx, limit, offset)
}
