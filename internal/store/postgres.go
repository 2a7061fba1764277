package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/overlord-community/backend/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// method works identically inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users / ledger ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, balance, is_admin, created_at)
		 VALUES ($1, $2, LOWER($3), $4, $5::NUMERIC, $6, $7)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Balance.String(), u.IsAdmin, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrEmailExists
	}
	return err
}

const userColumns = `id, name, email, password_hash, balance::TEXT, is_admin, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var balance string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &balance, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email))
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *PostgresStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := s.q.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC WHERE id = $1
		 RETURNING balance::TEXT`, userID, amount.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func (s *PostgresStore) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	// Conditional update doubles as the balance check: concurrent debits
	// serialize on the row lock, so no stale snapshot can pass.
	var balance string
	err := s.q.QueryRow(ctx,
		`UPDATE users SET balance = balance - $2::NUMERIC
		 WHERE id = $1 AND balance >= $2::NUMERIC
		 RETURNING balance::TEXT`, userID, amount.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.q.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return decimal.Zero, err
		}
		if !exists {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func (s *PostgresStore) GrantBalanceByEmail(ctx context.Context, email string, amount decimal.Decimal) (*model.User, error) {
	return scanUser(s.q.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC WHERE email = LOWER($1)
		 RETURNING `+userColumns, email, amount.String()))
}

// --- Wager pool ---

func (s *PostgresStore) CreateWager(ctx context.Context, w *model.Wager) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO wagers (id, user_id, user_name, frame_id, frame_name, amount, tickets, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		w.ID, w.UserID, w.UserName, w.FrameID, w.FrameName, w.Amount.String(), w.Tickets, w.CreatedAt,
	)
	return err
}

const wagerColumns = `id, user_id, user_name, frame_id, frame_name, amount::TEXT, tickets, created_at`

func scanWagers(rows pgx.Rows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		var w model.Wager
		var amount string
		if err := rows.Scan(&w.ID, &w.UserID, &w.UserName, &w.FrameID, &w.FrameName,
			&amount, &w.Tickets, &w.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		w.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse wager amount: %w", err)
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func (s *PostgresStore) GetOpenWagers(ctx context.Context) ([]model.Wager, error) {
	// FOR UPDATE makes a second settlement transaction block here and then
	// re-read an already drained pool instead of paying it out twice.
	rows, err := s.q.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers ORDER BY created_at, id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

func (s *PostgresStore) GetWagersByUser(ctx context.Context, userID string) ([]model.Wager, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

func (s *PostgresStore) DeleteWagers(ctx context.Context, ids []string) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM wagers WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ClearOpenWagers(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM wagers`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var settings model.Settings
	var basePrize, multiplier, minWager, maxWager string
	err := s.q.QueryRow(ctx,
		`SELECT base_prize::TEXT, multiplier::TEXT, min_wager::TEXT, max_wager::TEXT, last_draw, updated_at
		 FROM game_settings WHERE id = 1`).
		Scan(&basePrize, &multiplier, &minWager, &maxWager, &settings.LastDraw, &settings.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSettings
	}
	if err != nil {
		return nil, err
	}

	settings.BasePrize, _ = decimal.NewFromString(basePrize)
	settings.Multiplier, _ = decimal.NewFromString(multiplier)
	settings.MinWager, _ = decimal.NewFromString(minWager)
	settings.MaxWager, _ = decimal.NewFromString(maxWager)
	return &settings, nil
}

func (s *PostgresStore) UpsertSettings(ctx context.Context, settings *model.Settings) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO game_settings (id, base_prize, multiplier, min_wager, max_wager, last_draw, updated_at)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   base_prize = EXCLUDED.base_prize,
		   multiplier = EXCLUDED.multiplier,
		   min_wager  = EXCLUDED.min_wager,
		   max_wager  = EXCLUDED.max_wager,
		   last_draw  = EXCLUDED.last_draw,
		   updated_at = EXCLUDED.updated_at`,
		settings.BasePrize.String(), settings.Multiplier.String(),
		settings.MinWager.String(), settings.MaxWager.String(),
		settings.LastDraw, settings.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) SetLastDraw(ctx context.Context, t time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE game_settings SET last_draw = $1, updated_at = $1 WHERE id = 1`, t)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSettings
	}
	return nil
}

// --- Draw history ---

func (s *PostgresStore) AppendDrawRecord(ctx context.Context, rec *model.DrawRecord) error {
	var winnerID, winnerName, winnerAmount *string
	if rec.WinnerID != "" {
		winnerID = &rec.WinnerID
		winnerName = &rec.WinnerName
	}
	if rec.WinnerAmount != nil {
		s := rec.WinnerAmount.String()
		winnerAmount = &s
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO draw_history
		   (id, frame_id, frame_name, prize_pool, total_staked, participants,
		    winners_count, winner_id, winner_name, winner_amount, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10::NUMERIC, $11)`,
		rec.ID, rec.FrameID, rec.FrameName, rec.PrizePool.String(), rec.TotalStaked.String(),
		rec.Participants, rec.WinnersCount, winnerID, winnerName, winnerAmount, rec.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListDrawRecords(ctx context.Context, limit int) ([]model.DrawRecord, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, frame_id, frame_name, prize_pool::TEXT, total_staked::TEXT,
		        participants, winners_count, winner_id, winner_name, winner_amount::TEXT, created_at
		 FROM draw_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.DrawRecord
	for rows.Next() {
		var rec model.DrawRecord
		var prizePool, totalStaked string
		var winnerID, winnerName, winnerAmount *string
		if err := rows.Scan(&rec.ID, &rec.FrameID, &rec.FrameName, &prizePool, &totalStaked,
			&rec.Participants, &rec.WinnersCount, &winnerID, &winnerName, &winnerAmount,
			&rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.PrizePool, _ = decimal.NewFromString(prizePool)
		rec.TotalStaked, _ = decimal.NewFromString(totalStaked)
		if winnerID != nil {
			rec.WinnerID = *winnerID
		}
		if winnerName != nil {
			rec.WinnerName = *winnerName
		}
		if winnerAmount != nil {
			amount, err := decimal.NewFromString(*winnerAmount)
			if err != nil {
				return nil, fmt.Errorf("parse winner amount: %w", err)
			}
			rec.WinnerAmount = &amount
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Tournament roster ---

func (s *PostgresStore) CreateTournamentEntry(ctx context.Context, e *model.TournamentEntry) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO tournament_entries
		   (id, user_id, nickname, mastery_rank, platform, discord, frame, weapons,
		    event, agreed_to_rules, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.UserID, e.Nickname, e.MasteryRank, e.Platform, e.Discord, e.Frame,
		e.Weapons, e.Event, e.AgreedToRules, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) HasTournamentConflict(ctx context.Context, nickname, discord, userID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM tournament_entries
		   WHERE nickname = $1 OR discord = $2 OR user_id = $3)`,
		nickname, discord, userID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) ListTournamentEntries(ctx context.Context, limit, offset int) ([]model.TournamentEntry, int64, error) {
	var total int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM tournament_entries`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, nickname, mastery_rank, platform, discord, frame, weapons,
		        event, agreed_to_rules, created_at
		 FROM tournament_entries ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []model.TournamentEntry
	for rows.Next() {
		var e model.TournamentEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Nickname, &e.MasteryRank, &e.Platform,
			&e.Discord, &e.Frame, &e.Weapons, &e.Event, &e.AgreedToRules, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// --- Builds ---

func (s *PostgresStore) CreateBuild(ctx context.Context, b *model.Build) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO builds
		   (id, user_id, author_name, name, frame_id, frame_name, description, mods,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.UserID, b.AuthorName, b.Name, b.FrameID, b.FrameName, b.Description,
		b.Mods, b.CreatedAt, b.UpdatedAt,
	)
	return err
}

const buildColumns = `id, user_id, author_name, name, frame_id, frame_name, description, mods, created_at, updated_at`

func (s *PostgresStore) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	var b model.Build
	err := s.q.QueryRow(ctx,
		`SELECT `+buildColumns+` FROM builds WHERE id = $1`, id).
		Scan(&b.ID, &b.UserID, &b.AuthorName, &b.Name, &b.FrameID, &b.FrameName,
			&b.Description, &b.Mods, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) ListBuilds(ctx context.Context, frameID, limit, offset int) ([]model.Build, int64, error) {
	var total int64
	if err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM builds WHERE ($1 = 0 OR frame_id = $1)`, frameID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.q.Query(ctx,
		`SELECT `+buildColumns+` FROM builds
		 WHERE ($1 = 0 OR frame_id = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, frameID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var builds []model.Build
	for rows.Next() {
		var b model.Build
		if err := rows.Scan(&b.ID, &b.UserID, &b.AuthorName, &b.Name, &b.FrameID,
			&b.FrameName, &b.Description, &b.Mods, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, err
		}
		builds = append(builds, b)
	}
	return builds, total, rows.Err()
}

func (s *PostgresStore) UpdateBuild(ctx context.Context, b *model.Build) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE builds SET name = $2, frame_id = $3, frame_name = $4, description = $5,
		        mods = $6, updated_at = $7
		 WHERE id = $1`,
		b.ID, b.Name, b.FrameID, b.FrameName, b.Description, b.Mods, b.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteBuild(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM builds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Battle results ---

func (s *PostgresStore) CreateBattleResult(ctx context.Context, b *model.BattleResult) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO battle_results
		   (id, round, winner_nickname, loser_nickname, notes, recorded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.Round, b.WinnerNickname, b.LoserNickname, b.Notes, b.RecordedBy, b.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListBattleResults(ctx context.Context, limit, offset int) ([]model.BattleResult, int64, error) {
	var total int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM battle_results`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.q.Query(ctx,
		`SELECT id, round, winner_nickname, loser_nickname, notes, recorded_by, created_at
		 FROM battle_results ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var battles []model.BattleResult
	for rows.Next() {
		var b model.BattleResult
		if err := rows.Scan(&b.ID, &b.Round, &b.WinnerNickname, &b.LoserNickname,
			&b.Notes, &b.RecordedBy, &b.CreatedAt); err != nil {
			return nil, 0, err
		}
		battles = append(battles, b)
	}
	return battles, total, rows.Err()
}

// --- Transactions ---

// RunAtomic runs fn inside a single database transaction. A store already
// bound to a transaction reuses it, so nested envelopes flatten into one.
func (s *PostgresStore) RunAtomic(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitAborted, err)
	}
	return nil
}
