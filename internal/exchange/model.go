// Package exchange derives the queryable market/user state of the
// prediction exchange by replaying the append-only event ledger, and
// provides the trade quote/commit write path on top of it.
//
// All monetary values use shopspring/decimal — never float64 for money.
package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ricardoV94/prediction-market/internal/lmsr"
)

// Status is a market's lifecycle state.
type Status string

const (
	StatusOpen        Status = "open"
	StatusClosed      Status = "closed"
	StatusResolvedYes Status = "resolved_yes"
	StatusResolvedNo  Status = "resolved_no"
)

// Terminal reports whether the status is a resolution (irreversible).
func (s Status) Terminal() bool {
	return s == StatusResolvedYes || s == StatusResolvedNo
}

// Shares is the pair of outstanding No/Yes shares, either for a whole
// market (inventory) or for one user's position in it. Both counts are
// always ≥ 0; replay fails rather than let one go negative.
type Shares struct {
	No  int64 `json:"no"`
	Yes int64 `json:"yes"`
}

// Market is derived market state: metadata from the latest
// market_update plus inventory accumulated from trades.
type Market struct {
	ID          int64           `json:"id"`
	Question    string          `json:"question"`
	OpenDate    time.Time       `json:"open_date"`
	CloseDate   time.Time       `json:"close_date"`
	ResolveDate *time.Time      `json:"resolve_date,omitempty"`
	Criteria    string          `json:"detailed_criteria,omitempty"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	Shares      Shares          `json:"shares"`

	// Recorded is the status carried by the ledger: the latest
	// market_update's status, overridden by any resolution event.
	// Use Status() for the time-derived effective value.
	Recorded Status `json:"recorded_status"`
}

// Status returns the market's effective status at the given instant.
// A recorded resolution always wins; otherwise the market is open
// exactly while openDate ≤ now < closeDate.
func (m *Market) Status(now time.Time) Status {
	if m.Recorded.Terminal() {
		return m.Recorded
	}
	if !m.OpenDate.After(now) && now.Before(m.CloseDate) {
		return StatusOpen
	}
	return StatusClosed
}

// Volume is the total number of outstanding shares on both sides.
func (m *Market) Volume() int64 {
	return m.Shares.No + m.Shares.Yes
}

// YesPrice is the current Yes price in dollars (0–100).
func (m *Market) YesPrice() decimal.Decimal {
	return lmsr.YesPrice(m.Liquidity, m.Shares.No, m.Shares.Yes)
}

// NoPrice is the current No price in dollars (0–100).
func (m *Market) NoPrice() decimal.Decimal {
	return lmsr.NoPrice(m.Liquidity, m.Shares.No, m.Shares.Yes)
}

// clone returns a deep copy safe to hand to readers.
func (m *Market) clone() *Market {
	c := *m
	if m.ResolveDate != nil {
		rd := *m.ResolveDate
		c.ResolveDate = &rd
	}
	return &c
}

// User is derived user state: identity from the latest user_update,
// balance and positions accumulated from the ledger.
type User struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	ExternalID string           `json:"external_id,omitempty"`
	Balance    decimal.Decimal  `json:"balance"`
	Positions  map[int64]Shares `json:"positions"`
}

// Position returns the user's holdings in the given market (zero value
// if they never traded it).
func (u *User) Position(marketID int64) Shares {
	return u.Positions[marketID]
}

func (u *User) clone() *User {
	c := *u
	c.Positions = make(map[int64]Shares, len(u.Positions))
	for id, s := range u.Positions {
		c.Positions[id] = s
	}
	return &c
}

// Portfolio is a user's cash plus the mark-to-liquidation value of all
// their positions.
type Portfolio struct {
	UserID      int64           `json:"user_id"`
	Cash        decimal.Decimal `json:"cash"`
	MarketValue decimal.Decimal `json:"market_value"`
	NetWorth    decimal.Decimal `json:"net_worth"`
	Holdings    []Holding       `json:"holdings"`
}

// Holding is one market's contribution to a portfolio: the position and
// what unwinding it right now would pay.
type Holding struct {
	MarketID int64           `json:"market_id"`
	Question string          `json:"question"`
	Shares   Shares          `json:"shares"`
	Value    decimal.Decimal `json:"value"`
}
