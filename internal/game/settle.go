// Package game implements the platinum wager pool and its settlement engine.
// A draw picks a uniformly random frame, builds a prize pool from the staked
// total, splits it pro rata among wagers backing the drawn frame, and commits
// the whole settlement atomically.
package game

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/overlord-community/backend/internal/metrics"
	"github.com/overlord-community/backend/internal/model"
	"github.com/overlord-community/backend/internal/store"
)

// ErrNoOpenWagers is returned when a draw is requested against an empty pool.
var ErrNoOpenWagers = errors.New("no open wagers")

// Default settings, applied when the singleton row does not exist yet.
var (
	defaultBasePrize  = decimal.NewFromInt(100)
	defaultMultiplier = decimal.NewFromInt(5)
	defaultMinWager   = decimal.NewFromInt(5)
	defaultMaxWager   = decimal.NewFromInt(1000)
)

// Engine runs draws. Settlements are serialized: one draw commits fully
// before the next can begin.
type Engine struct {
	store  store.Store
	mu     sync.Mutex
	drawFn func(n int) int
	notify func(*model.SettlementReport)
}

// NewEngine creates a settlement engine using crypto-free uniform randomness.
func NewEngine(st store.Store) *Engine {
	return &Engine{
		store:  st,
		drawFn: func(n int) int { return rand.Intn(n) + 1 },
		notify: func(*model.SettlementReport) {},
	}
}

// SetDrawFunc replaces the outcome source. fn must return a value in [1, n].
func (e *Engine) SetDrawFunc(fn func(n int) int) { e.drawFn = fn }

// SetNotify registers a callback invoked after each committed settlement.
func (e *Engine) SetNotify(fn func(*model.SettlementReport)) { e.notify = fn }

// Settings returns the current game settings, creating the defaults row on
// first access.
func (e *Engine) Settings(ctx context.Context) (*model.Settings, error) {
	return getOrCreateSettings(ctx, e.store)
}

func getOrCreateSettings(ctx context.Context, st store.Store) (*model.Settings, error) {
	s, err := st.GetSettings(ctx)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNoSettings) {
		return nil, err
	}
	s = &model.Settings{
		BasePrize:  defaultBasePrize,
		Multiplier: defaultMultiplier,
		MinWager:   defaultMinWager,
		MaxWager:   defaultMaxWager,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := st.UpsertSettings(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Settle runs one draw over the open pool and commits the result. On success
// the open pool is cleared, winners are credited, a history record is
// appended, and the last-draw timestamp is updated — all atomically. Returns
// ErrNoOpenWagers when the pool is empty; in that case nothing changes.
func (e *Engine) Settle(ctx context.Context) (*model.SettlementReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	var report *model.SettlementReport

	err := e.store.RunAtomic(ctx, func(tx store.Store) error {
		settings, err := getOrCreateSettings(ctx, tx)
		if err != nil {
			return err
		}

		wagers, err := tx.GetOpenWagers(ctx)
		if err != nil {
			return err
		}
		if len(wagers) == 0 {
			return ErrNoOpenWagers
		}

		totalStaked := decimal.Zero
		participants := map[string]struct{}{}
		for _, w := range wagers {
			totalStaked = totalStaked.Add(w.Amount)
			participants[w.UserID] = struct{}{}
		}

		drawn := e.drawFn(FrameCount)
		prizePool := settings.BasePrize.Add(settings.Multiplier.Mul(totalStaked))

		var winners []model.Wager
		for _, w := range wagers {
			if w.FrameID == drawn {
				winners = append(winners, w)
			}
		}

		shares := splitPrize(prizePool, winners)
		for _, sh := range shares {
			if _, err := tx.CreditBalance(ctx, sh.UserID, sh.Prize); err != nil {
				return err
			}
		}

		drawnAt := time.Now().UTC()
		rec := &model.DrawRecord{
			ID:           uuid.New().String(),
			FrameID:      drawn,
			FrameName:    FrameName(drawn),
			PrizePool:    prizePool,
			TotalStaked:  totalStaked,
			Participants: len(participants),
			WinnersCount: len(shares),
			CreatedAt:    drawnAt,
		}
		if top := topShare(shares); top != nil {
			rec.WinnerID = top.UserID
			rec.WinnerName = top.UserName
			amount := top.Prize
			rec.WinnerAmount = &amount
		}
		if err := tx.AppendDrawRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.SetLastDraw(ctx, drawnAt); err != nil {
			return err
		}

		// Consume exactly the wagers this settlement read. A wager placed
		// after the snapshot stays open for the next draw.
		ids := make([]string, len(wagers))
		for i, w := range wagers {
			ids[i] = w.ID
		}
		if _, err := tx.DeleteWagers(ctx, ids); err != nil {
			return err
		}

		report = &model.SettlementReport{
			FrameID:      drawn,
			FrameName:    FrameName(drawn),
			PrizePool:    prizePool,
			TotalStaked:  totalStaked,
			Participants: len(participants),
			WinnersCount: len(shares),
			Winners:      shares,
			DrawnAt:      drawnAt,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoOpenWagers) {
			metrics.DrawsTotal.WithLabelValues("failed").Inc()
		} else {
			metrics.DrawsTotal.WithLabelValues("empty").Inc()
		}
		return nil, err
	}

	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	if report.WinnersCount > 0 {
		metrics.DrawsTotal.WithLabelValues("won").Inc()
		paid, _ := report.PrizePool.Float64()
		metrics.PrizePaidTotal.Add(paid)
	} else {
		// Nobody backed the drawn frame; the pool is recorded but unpaid.
		metrics.DrawsTotal.WithLabelValues("sink").Inc()
	}

	slog.Info("draw settled",
		"frame_id", report.FrameID,
		"frame", report.FrameName,
		"prize_pool", report.PrizePool,
		"total_staked", report.TotalStaked,
		"participants", report.Participants,
		"winners", report.WinnersCount,
	)

	e.notify(report)
	return report, nil
}

// splitPrize divides pool among winning wagers proportionally to their
// stakes. Shares are rounded to two decimal places; the final winner absorbs
// the rounding remainder so the shares always sum to exactly pool.
func splitPrize(pool decimal.Decimal, winners []model.Wager) []model.WinnerShare {
	if len(winners) == 0 {
		return nil
	}

	winningStake := decimal.Zero
	for _, w := range winners {
		winningStake = winningStake.Add(w.Amount)
	}

	shares := make([]model.WinnerShare, len(winners))
	paid := decimal.Zero
	for i, w := range winners {
		var prize decimal.Decimal
		if i == len(winners)-1 {
			prize = pool.Sub(paid)
		} else {
			prize = pool.Mul(w.Amount).Div(winningStake).Round(2)
			paid = paid.Add(prize)
		}
		shares[i] = model.WinnerShare{
			UserID:   w.UserID,
			UserName: w.UserName,
			Staked:   w.Amount,
			Prize:    prize,
		}
	}
	return shares
}

// topShare returns the largest share, preferring the earliest on ties.
func topShare(shares []model.WinnerShare) *model.WinnerShare {
	var top *model.WinnerShare
	for i := range shares {
		if top == nil || shares[i].Prize.GreaterThan(top.Prize) {
			top = &shares[i]
		}
	}
	return top
}
