// Package model defines the core domain types shared across the backend.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a registered community member. Balance is platinum, the site's
// virtual currency, and only moves through wager debits, settlement credits,
// and admin grants.
type User struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	IsAdmin      bool            `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Wager is one user's open stake backing a single frame for the next draw.
// The owner's display name is denormalized onto the row so settlement
// reports and admin listings need no join.
type Wager struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	UserName  string          `json:"user_name" db:"user_name"`
	FrameID   int             `json:"frame_id" db:"frame_id"`
	FrameName string          `json:"frame_name" db:"frame_name"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Tickets   int             `json:"tickets" db:"tickets"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Settings is the singleton game configuration row. Created with defaults on
// first access; mutated only through the admin settings endpoint and the
// settlement engine's lastDraw update.
type Settings struct {
	BasePrize  decimal.Decimal `json:"base_prize" db:"base_prize"`
	Multiplier decimal.Decimal `json:"multiplier" db:"multiplier"`
	MinWager   decimal.Decimal `json:"min_wager" db:"min_wager"`
	MaxWager   decimal.Decimal `json:"max_wager" db:"max_wager"`
	LastDraw   *time.Time      `json:"last_draw,omitempty" db:"last_draw"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// DrawRecord is an immutable snapshot written once per settlement.
// Winner fields are absent when the drawn frame had no backing wagers.
type DrawRecord struct {
	ID           string           `json:"id" db:"id"`
	FrameID      int              `json:"frame_id" db:"frame_id"`
	FrameName    string           `json:"frame_name" db:"frame_name"`
	PrizePool    decimal.Decimal  `json:"prize_pool" db:"prize_pool"`
	TotalStaked  decimal.Decimal  `json:"total_staked" db:"total_staked"`
	Participants int              `json:"participants" db:"participants"`
	WinnersCount int              `json:"winners_count" db:"winners_count"`
	WinnerID     string           `json:"winner_id,omitempty" db:"winner_id"`
	WinnerName   string           `json:"winner_name,omitempty" db:"winner_name"`
	WinnerAmount *decimal.Decimal `json:"winner_amount,omitempty" db:"winner_amount"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// WinnerShare is one winning wager's slice of the prize pool.
type WinnerShare struct {
	UserID   string          `json:"user_id"`
	UserName string          `json:"user_name"`
	Staked   decimal.Decimal `json:"staked"`
	Prize    decimal.Decimal `json:"prize"`
}

// SettlementReport is returned from a successful draw. Winners are listed in
// pool order; Participants counts distinct bettors across the whole pool,
// winning or not.
type SettlementReport struct {
	FrameID      int             `json:"frame_id"`
	FrameName    string          `json:"frame_name"`
	PrizePool    decimal.Decimal `json:"prize_pool"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	Participants int             `json:"participants"`
	WinnersCount int             `json:"winners_count"`
	Winners      []WinnerShare   `json:"winners"`
	DrawnAt      time.Time       `json:"drawn_at"`
}

// TournamentEntry is a PvP tournament roster registration.
type TournamentEntry struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Nickname      string    `json:"nickname" db:"nickname"`
	MasteryRank   int       `json:"mastery_rank" db:"mastery_rank"`
	Platform      string    `json:"platform" db:"platform"`
	Discord       string    `json:"discord" db:"discord"`
	Frame         string    `json:"frame" db:"frame"`
	Weapons       []string  `json:"weapons" db:"weapons"`
	Event         string    `json:"event" db:"event"`
	AgreedToRules bool      `json:"agreed_to_rules" db:"agreed_to_rules"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Build is a shared equipment configuration.
type Build struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	AuthorName  string    `json:"author_name" db:"author_name"`
	Name        string    `json:"name" db:"name"`
	FrameID     int       `json:"frame_id" db:"frame_id"`
	FrameName   string    `json:"frame_name" db:"frame_name"`
	Description string    `json:"description" db:"description"`
	Mods        []string  `json:"mods" db:"mods"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// BattleResult records the outcome of one tournament battle.
type BattleResult struct {
	ID             string    `json:"id" db:"id"`
	Round          int       `json:"round" db:"round"`
	WinnerNickname string    `json:"winner_nickname" db:"winner_nickname"`
	LoserNickname  string    `json:"loser_nickname" db:"loser_nickname"`
	Notes          string    `json:"notes,omitempty" db:"notes"`
	RecordedBy     string    `json:"recorded_by" db:"recorded_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
