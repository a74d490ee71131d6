package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ricardoV94/prediction-market/internal/event"
	"github.com/ricardoV94/prediction-market/internal/ledger"
	"github.com/ricardoV94/prediction-market/internal/lmsr"
)

var ErrExternalIDInUse = errors.New("exchange: external id already registered to another user")

var ErrInvalidLiquidity = errors.New("exchange: liquidity parameter must be positive")

// Exchange is the materialized, queryable aggregate over the event
// ledger. It owns the derived state exclusively: readers get snapshot
// copies, and every write goes through the ledger and back in via
// replay, never directly into the maps.
//
// Reads trigger a resync first, so derived state is never older than
// the ledger at the time of the call. A single Exchange assumes it is
// the only appender to its ledger.
type Exchange struct {
	// RejectStaleQuotes makes CommitTrade fail with ErrStaleQuote when
	// the ledger advanced after the quote was computed, instead of
	// silently re-pricing against the fresh state. Set before serving.
	RejectStaleQuotes bool

	log ledger.Log

	mu    sync.Mutex
	state *State

	now func() time.Time // stubbed in tests
}

// New constructs an Exchange by fully replaying the ledger.
func New(ctx context.Context, log ledger.Log) (*Exchange, error) {
	events, err := log.Load(ctx)
	if err != nil {
		return nil, err
	}
	state, err := Replay(events)
	if err != nil {
		return nil, err
	}
	return &Exchange{log: log, state: state, now: time.Now}, nil
}

// Resync incrementally folds any ledger events past the cursor into
// the derived state. It is idempotent: with no new events it is a
// no-op, and calling it from any number of read sites is safe.
func (x *Exchange) Resync(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.resyncLocked(ctx)
}

func (x *Exchange) resyncLocked(ctx context.Context) error {
	tail, err := x.log.ReadFrom(ctx, x.state.Cursor)
	if err != nil {
		return err
	}
	return x.state.Apply(tail)
}

// Cursor returns the number of ledger events currently folded in.
func (x *Exchange) Cursor() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state.Cursor
}

// --- Read-only views (resync, then snapshot) ---

// Markets returns a snapshot of all derived markets.
func (x *Exchange) Markets(ctx context.Context) (map[int64]*Market, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[int64]*Market, len(x.state.Markets))
	for id, m := range x.state.Markets {
		out[id] = m.clone()
	}
	return out, nil
}

// Market returns a snapshot of one market.
func (x *Exchange) Market(ctx context.Context, id int64) (*Market, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	m, ok := x.state.Markets[id]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return m.clone(), nil
}

// Users returns a snapshot of all derived users.
func (x *Exchange) Users(ctx context.Context) (map[int64]*User, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[int64]*User, len(x.state.Users))
	for id, u := range x.state.Users {
		out[id] = u.clone()
	}
	return out, nil
}

// User returns a snapshot of one user.
func (x *Exchange) User(ctx context.Context, id int64) (*User, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	u, ok := x.state.Users[id]
	if !ok {
		return nil, ErrUnknownUser
	}
	return u.clone(), nil
}

// UserByExternalID resolves a chat-platform identity to its user.
func (x *Exchange) UserByExternalID(ctx context.Context, externalID string) (*User, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	id, ok := x.state.ExternalIDs[externalID]
	if !ok {
		return nil, ErrUnknownUser
	}
	return x.state.Users[id].clone(), nil
}

// ExternalIDs returns a snapshot of the external-identity index.
func (x *Exchange) ExternalIDs(ctx context.Context) (map[string]int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(x.state.ExternalIDs))
	for ext, id := range x.state.ExternalIDs {
		out[ext] = id
	}
	return out, nil
}

// Portfolio values a user's holdings at their liquidation proceeds and
// returns cash, market value, and net worth.
func (x *Exchange) Portfolio(ctx context.Context, userID int64) (*Portfolio, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	u, ok := x.state.Users[userID]
	if !ok {
		return nil, ErrUnknownUser
	}

	p := &Portfolio{
		UserID:      userID,
		Cash:        u.Balance,
		MarketValue: decimal.Zero,
	}
	for marketID, pos := range u.Positions {
		m, ok := x.state.Markets[marketID]
		if !ok {
			// Replay guarantees trades only reference known markets.
			return nil, &InvariantViolationError{
				Seq:    x.state.Cursor,
				Detail: fmt.Sprintf("position in unknown market %d", marketID),
			}
		}
		value := lmsr.LiquidationProceeds(m.YesPrice(), m.Liquidity, pos.No, pos.Yes)
		p.Holdings = append(p.Holdings, Holding{
			MarketID: marketID,
			Question: m.Question,
			Shares:   pos,
			Value:    value,
		})
		p.MarketValue = p.MarketValue.Add(value)
	}
	p.NetWorth = p.Cash.Add(p.MarketValue)
	return p, nil
}

// --- Trade path ---

// TradeQuote is a priced, validated trade proposal. It is pure
// read-path output: nothing is appended until CommitTrade. Cursor
// records how long the ledger was when the quote was computed, which
// CommitTrade uses to detect staleness.
type TradeQuote struct {
	ID          uuid.UUID       `json:"id"`
	MarketID    int64           `json:"market_id"`
	UserID      int64           `json:"user_id"`
	Side        event.Side      `json:"side"`
	Quantity    int64           `json:"quantity"` // signed: + buy, − sell
	Cost        decimal.Decimal `json:"cost"`     // signed: + cash leaves balance
	OldBalance  decimal.Decimal `json:"old_balance"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	NewPosition Shares          `json:"new_position"`
	PriceBefore decimal.Decimal `json:"price_before"` // Yes price, 0–100
	PriceAfter  decimal.Decimal `json:"price_after"`
	Cursor      int64           `json:"cursor"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProposeTrade prices a trade against the live (resynced) state and
// classifies its validity without appending anything. Invalid requests
// come back as one of the recoverable sentinel errors; the ledger is
// untouched either way.
func (x *Exchange) ProposeTrade(ctx context.Context, marketID, userID int64, side event.Side, quantity int64) (*TradeQuote, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}
	return x.quoteLocked(marketID, userID, side, quantity)
}

func (x *Exchange) quoteLocked(marketID, userID int64, side event.Side, quantity int64) (*TradeQuote, error) {
	if quantity == 0 {
		return nil, ErrZeroQuantity
	}
	if !side.Valid() {
		return nil, fmt.Errorf("exchange: invalid side %q", side)
	}

	m, ok := x.state.Markets[marketID]
	if !ok {
		return nil, ErrUnknownMarket
	}
	u, ok := x.state.Users[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	if m.Status(x.now()) != StatusOpen {
		return nil, ErrMarketNotOpen
	}

	pos := u.Positions[marketID]
	var deltaNo, deltaYes int64
	if side == event.SideYes {
		deltaYes = quantity
		pos.Yes += quantity
	} else {
		deltaNo = quantity
		pos.No += quantity
	}
	if pos.Yes < 0 || pos.No < 0 {
		return nil, ErrOversell
	}

	cost := lmsr.Cost(m.Liquidity, m.Shares.No, m.Shares.Yes, deltaNo, deltaYes)
	newBalance := u.Balance.Sub(cost)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientBalance
	}

	return &TradeQuote{
		ID:          uuid.New(),
		MarketID:    marketID,
		UserID:      userID,
		Side:        side,
		Quantity:    quantity,
		Cost:        cost,
		OldBalance:  u.Balance,
		NewBalance:  newBalance,
		NewPosition: pos,
		PriceBefore: m.YesPrice(),
		PriceAfter:  lmsr.YesPrice(m.Liquidity, m.Shares.No+deltaNo, m.Shares.Yes+deltaYes),
		Cursor:      x.state.Cursor,
		CreatedAt:   x.now(),
	}, nil
}

// CommitTrade turns a quote into a ledger event. The ledger may have
// grown since the quote, so the trade is re-validated — and re-priced —
// against freshly resynced state before the append. With
// RejectStaleQuotes set, any ledger growth since the quote instead
// fails with ErrStaleQuote and the caller must re-quote.
func (x *Exchange) CommitTrade(ctx context.Context, quote *TradeQuote, author string) (*TradeQuote, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return nil, err
	}

	if x.RejectStaleQuotes && x.state.Cursor != quote.Cursor {
		return nil, ErrStaleQuote
	}

	fresh, err := x.quoteLocked(quote.MarketID, quote.UserID, quote.Side, quote.Quantity)
	if err != nil {
		return nil, err
	}

	e := &event.Event{
		Author: author,
		Trade: &event.Trade{
			UserID:     fresh.UserID,
			MarketID:   fresh.MarketID,
			Side:       fresh.Side,
			Quantity:   fresh.Quantity,
			Cost:       fresh.Cost,
			OldBalance: fresh.OldBalance,
			NewBalance: fresh.NewBalance,
		},
	}
	if err := x.appendLocked(ctx, e); err != nil {
		return nil, err
	}
	return fresh, nil
}

// appendLocked appends one event and folds it (and anything else that
// showed up) back into the derived state.
func (x *Exchange) appendLocked(ctx context.Context, e *event.Event) error {
	if _, err := x.log.Append(ctx, e); err != nil {
		return err
	}
	return x.resyncLocked(ctx)
}

// --- Administrative writers ---

// RegisterUser appends a user_update for a brand-new user, allocating
// the next user id. Fails if the external id is already bound.
func (x *Exchange) RegisterUser(ctx context.Context, author, name, externalID, reason string) (int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return 0, err
	}

	if externalID != "" {
		if _, taken := x.state.ExternalIDs[externalID]; taken {
			return 0, ErrExternalIDInUse
		}
	}

	var id int64 = 1
	for existing := range x.state.Users {
		if existing >= id {
			id = existing + 1
		}
	}

	e := &event.Event{
		Author: author,
		UserUpdate: &event.UserUpdate{
			UserID:     id,
			UserName:   name,
			ExternalID: externalID,
			Reason:     reason,
		},
	}
	if err := x.appendLocked(ctx, e); err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertUser appends a user_update for an existing user (rename, or
// binding an external identity during re-registration). Balance and
// positions are untouched by construction.
func (x *Exchange) UpsertUser(ctx context.Context, author string, userID int64, name, externalID, reason string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return err
	}
	if _, ok := x.state.Users[userID]; !ok {
		return ErrUnknownUser
	}
	if externalID != "" {
		if owner, taken := x.state.ExternalIDs[externalID]; taken && owner != userID {
			return ErrExternalIDInUse
		}
	}
	return x.appendLocked(ctx, &event.Event{
		Author: author,
		UserUpdate: &event.UserUpdate{
			UserID:     userID,
			UserName:   name,
			ExternalID: externalID,
			Reason:     reason,
		},
	})
}

// AdjustBalance appends a balance_update moving the user's balance by
// delta. The resulting balance must stay ≥ 0.
func (x *Exchange) AdjustBalance(ctx context.Context, author string, userID int64, delta decimal.Decimal, reason string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return err
	}
	u, ok := x.state.Users[userID]
	if !ok {
		return ErrUnknownUser
	}
	newBalance := u.Balance.Add(delta)
	if newBalance.IsNegative() {
		return ErrInsufficientBalance
	}
	return x.appendLocked(ctx, &event.Event{
		Author: author,
		BalanceUpdate: &event.BalanceUpdate{
			UserID:     userID,
			Delta:      delta,
			OldBalance: u.Balance,
			NewBalance: newBalance,
			Reason:     reason,
		},
	})
}

// MarketParams describes a market to create or update.
type MarketParams struct {
	MarketID    int64
	Question    string
	OpenDate    time.Time
	CloseDate   time.Time
	ResolveDate *time.Time
	Criteria    string
	Liquidity   decimal.Decimal
	Status      Status // defaults to open
	Reason      string
}

// UpsertMarket appends a market_update. Liquidity and dates are frozen
// once a market has any volume: repricing a traded book would corrupt
// every position's economics, so such updates are refused here even
// though replay cannot enforce it retroactively.
func (x *Exchange) UpsertMarket(ctx context.Context, author string, p MarketParams) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return err
	}

	if p.Liquidity.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidLiquidity
	}
	if !p.CloseDate.After(p.OpenDate) {
		return fmt.Errorf("exchange: close date %s not after open date %s",
			p.CloseDate.Format("2006-01-02"), p.OpenDate.Format("2006-01-02"))
	}
	if p.Status == "" {
		p.Status = StatusOpen
	}

	if m, ok := x.state.Markets[p.MarketID]; ok && m.Volume() > 0 {
		if !m.Liquidity.Equal(p.Liquidity) || !m.OpenDate.Equal(p.OpenDate) || !m.CloseDate.Equal(p.CloseDate) {
			return fmt.Errorf("exchange: market %d has trades, liquidity and dates are immutable", p.MarketID)
		}
	}

	return x.appendLocked(ctx, &event.Event{
		Author: author,
		MarketUpdate: &event.MarketUpdate{
			MarketID:    p.MarketID,
			Question:    p.Question,
			OpenDate:    p.OpenDate,
			CloseDate:   p.CloseDate,
			ResolveDate: p.ResolveDate,
			Criteria:    p.Criteria,
			Liquidity:   p.Liquidity,
			Status:      string(p.Status),
			Reason:      p.Reason,
		},
	})
}

// ResolveMarket appends the terminal resolution for a market. Shares
// are left in place afterwards so historical volume stays visible.
func (x *Exchange) ResolveMarket(ctx context.Context, author string, marketID int64, outcome event.Side) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.resyncLocked(ctx); err != nil {
		return err
	}
	m, ok := x.state.Markets[marketID]
	if !ok {
		return ErrUnknownMarket
	}
	if m.Recorded.Terminal() {
		return ErrAlreadyResolved
	}
	if !outcome.Valid() {
		return fmt.Errorf("exchange: invalid outcome %q", outcome)
	}
	return x.appendLocked(ctx, &event.Event{
		Author:     author,
		Resolution: &event.Resolution{MarketID: marketID, Outcome: outcome},
	})
}
