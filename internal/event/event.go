// Package event defines the immutable, typed records that make up the
// exchange's append-only ledger, and the newline-delimited JSON codec
// used to persist them.
//
// Every record carries a sequence number assigned by the log at append
// time, a UTC timestamp, the author identity, and exactly one
// kind-specific payload. Once written, an event is never mutated.
//
// All monetary values use shopspring/decimal — never float64 for money.
package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags an event's payload type on the wire.
type Kind string

const (
	KindUserUpdate    Kind = "user_update"
	KindBalanceUpdate Kind = "balance_update"
	KindTrade         Kind = "trade"
	KindMarketUpdate  Kind = "market_update"
	KindResolution    Kind = "resolution"
)

// legacyKindTrade is an alias some historical writers used for trade
// records. It is accepted on read and normalized to KindTrade.
const legacyKindTrade Kind = "user_trade"

// Side identifies which half of a binary market a quantity refers to.
type Side string

const (
	SideYes Side = "Yes"
	SideNo  Side = "No"
)

// Valid reports whether s is one of the two recognized sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Event is one ledger record. Exactly one of the payload pointers is
// non-nil; Kind derives the tag from whichever is set so consumers can
// switch exhaustively without string dispatch.
type Event struct {
	// Seq is the record's position in the log, assigned by the log at
	// append time, strictly increasing from 0 and never reused.
	Seq int64

	// Timestamp is the append time in UTC.
	Timestamp time.Time

	// Author is the opaque identity of whoever caused the event.
	Author string

	UserUpdate    *UserUpdate
	BalanceUpdate *BalanceUpdate
	Trade         *Trade
	MarketUpdate  *MarketUpdate
	Resolution    *Resolution
}

// Kind returns the tag of the payload that is set, or "" if none is.
func (e *Event) Kind() Kind {
	switch {
	case e.UserUpdate != nil:
		return KindUserUpdate
	case e.BalanceUpdate != nil:
		return KindBalanceUpdate
	case e.Trade != nil:
		return KindTrade
	case e.MarketUpdate != nil:
		return KindMarketUpdate
	case e.Resolution != nil:
		return KindResolution
	}
	return ""
}

// UserUpdate creates a user or renames an existing one. It never touches
// balances or positions.
type UserUpdate struct {
	UserID     int64  `json:"user_id"`
	UserName   string `json:"user_name"`
	ExternalID string `json:"external_id,omitempty"` // chat-platform identity, at most one per user
	Reason     string `json:"reason,omitempty"`
}

// BalanceUpdate adjusts a user's cash balance. Old/new values are
// carried for audit; replay trusts NewBalance as the ledger of record.
type BalanceUpdate struct {
	UserID     int64           `json:"user_id"`
	Delta      decimal.Decimal `json:"delta"`
	OldBalance decimal.Decimal `json:"old_balance"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Reason     string          `json:"reason,omitempty"`
}

// Trade records a fill against the market maker. Quantity is signed:
// positive buys shares, negative sells them. Cost is signed the same
// way: positive means cash left the user's balance.
type Trade struct {
	UserID     int64           `json:"user_id"`
	MarketID   int64           `json:"market_id"`
	Side       Side            `json:"share_type"`
	Quantity   int64           `json:"quantity"`
	Cost       decimal.Decimal `json:"cost"`
	OldBalance decimal.Decimal `json:"old_balance"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// MarketUpdate creates or updates a market's metadata. Share inventory
// is never carried here; it is accumulated from Trade events.
type MarketUpdate struct {
	MarketID    int64
	Question    string
	OpenDate    time.Time
	CloseDate   time.Time
	ResolveDate *time.Time
	Criteria    string
	Liquidity   decimal.Decimal
	Status      string // open | closed | resolved_yes | resolved_no
	Reason      string
}

// Resolution settles a market to a terminal outcome. Shares are left
// unchanged afterwards so historical volume stays inspectable.
type Resolution struct {
	MarketID int64 `json:"market_id"`
	Outcome  Side  `json:"outcome"`
}
