package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// State is the pair of derived aggregates (markets and users) plus the
// external-identity index and a cursor counting how many ledger events
// have been folded in.
//
// State is built exclusively by Replay/Apply; nothing else mutates the
// maps. Entries are never retracted — corrections happen by appending
// compensating events to the ledger.
type State struct {
	Markets     map[int64]*Market
	Users       map[int64]*User
	ExternalIDs map[string]int64 // external identity → user id
	Cursor      int64
}

// NewState returns an empty state, cursor 0.
func NewState() *State {
	return &State{
		Markets:     make(map[int64]*Market),
		Users:       make(map[int64]*User),
		ExternalIDs: make(map[string]int64),
	}
}

// Replay builds state from scratch by folding the full event sequence.
func Replay(events []event.Event) (*State, error) {
	s := NewState()
	if err := s.Apply(events); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply folds a contiguous batch of events starting at the current
// cursor into the state. It is the single fold used for both full
// replay (from an empty state) and incremental catch-up, so the two
// are observably identical by construction.
//
// The fold is two-pass:
//
//  1. Metadata, scanned in reverse: the most recent market_update /
//     user_update per entity wins; for entities that already exist only
//     metadata is overwritten, accumulated shares and balances are
//     preserved. Resolutions recorded here are terminal and beat any
//     status a market_update carries.
//  2. Quantities, scanned forward: trades accumulate share inventory
//     and positions chronologically; balances are set to each event's
//     carried new_balance — the ledger is the ledger of record, not an
//     input to rederive balances from deltas.
//
// Any event that would drive a share count or balance negative, or that
// references an entity the ledger never introduced, aborts with a fatal
// *InvariantViolationError naming the offending sequence number.
func (s *State) Apply(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if events[0].Seq != s.Cursor {
		return fmt.Errorf("exchange: non-contiguous apply: cursor %d, batch starts at seq %d",
			s.Cursor, events[0].Seq)
	}

	// Fold into a scratch copy and install it only if the whole batch
	// holds up. A fatally-invalid batch leaves the live state and
	// cursor untouched, so every retry fails on the same event.
	next := s.clone()
	if err := next.applyMetadata(events); err != nil {
		return err
	}
	if err := next.applyQuantities(events); err != nil {
		return err
	}
	next.Cursor = events[len(events)-1].Seq + 1

	*s = *next
	return nil
}

// clone deep-copies the state so a fold can be staged off to the side.
func (s *State) clone() *State {
	c := &State{
		Markets:     make(map[int64]*Market, len(s.Markets)),
		Users:       make(map[int64]*User, len(s.Users)),
		ExternalIDs: make(map[string]int64, len(s.ExternalIDs)),
		Cursor:      s.Cursor,
	}
	for id, m := range s.Markets {
		c.Markets[id] = m.clone()
	}
	for id, u := range s.Users {
		c.Users[id] = u.clone()
	}
	for ext, id := range s.ExternalIDs {
		c.ExternalIDs[ext] = id
	}
	return c
}

// applyMetadata is pass 1: reverse scan, last writer wins.
func (s *State) applyMetadata(events []event.Event) error {
	seenMarkets := make(map[int64]bool)
	seenUsers := make(map[int64]bool)
	seenExternal := make(map[string]bool)
	extAssigned := make(map[int64]bool)

	type resolution struct {
		outcome event.Side
		seq     int64
	}
	resolutions := make(map[int64]resolution)

	for i := len(events) - 1; i >= 0; i-- {
		e := &events[i]
		switch {
		case e.MarketUpdate != nil:
			mu := e.MarketUpdate
			if seenMarkets[mu.MarketID] {
				continue
			}
			seenMarkets[mu.MarketID] = true

			m, ok := s.Markets[mu.MarketID]
			if !ok {
				m = &Market{ID: mu.MarketID}
				s.Markets[mu.MarketID] = m
			}
			m.Question = mu.Question
			m.OpenDate = mu.OpenDate
			m.CloseDate = mu.CloseDate
			m.ResolveDate = mu.ResolveDate
			m.Criteria = mu.Criteria
			m.Liquidity = mu.Liquidity
			if !m.Recorded.Terminal() {
				m.Recorded = Status(mu.Status)
			}

		case e.UserUpdate != nil:
			uu := e.UserUpdate

			u, ok := s.Users[uu.UserID]
			if !ok {
				u = &User{
					ID:        uu.UserID,
					Balance:   decimal.Zero,
					Positions: make(map[int64]Shares),
				}
				s.Users[uu.UserID] = u
			}
			if !seenUsers[uu.UserID] {
				seenUsers[uu.UserID] = true
				u.Name = uu.UserName
			}

			// An external id maps to exactly one user at a time, and a
			// user holds at most one external id. Only the newest
			// external-id-carrying update per user counts within the
			// batch; a user's newest claim supersedes any id they held
			// before, and reassignment evicts the previous binding on
			// both sides.
			if uu.ExternalID != "" && !extAssigned[uu.UserID] {
				extAssigned[uu.UserID] = true
				if u.ExternalID != "" && u.ExternalID != uu.ExternalID {
					if owner, bound := s.ExternalIDs[u.ExternalID]; bound && owner == uu.UserID {
						delete(s.ExternalIDs, u.ExternalID)
					}
					u.ExternalID = ""
				}
				if !seenExternal[uu.ExternalID] {
					seenExternal[uu.ExternalID] = true
					if prev, bound := s.ExternalIDs[uu.ExternalID]; bound && prev != uu.UserID {
						if pu := s.Users[prev]; pu != nil && pu.ExternalID == uu.ExternalID {
							pu.ExternalID = ""
						}
					}
					s.ExternalIDs[uu.ExternalID] = uu.UserID
					u.ExternalID = uu.ExternalID
				}
			}

		case e.Resolution != nil:
			if _, ok := resolutions[e.Resolution.MarketID]; !ok {
				resolutions[e.Resolution.MarketID] = resolution{
					outcome: e.Resolution.Outcome,
					seq:     e.Seq,
				}
			}
		}
	}

	for marketID, res := range resolutions {
		m, ok := s.Markets[marketID]
		if !ok {
			return &InvariantViolationError{
				Seq:    res.seq,
				Detail: fmt.Sprintf("resolution for unknown market %d", marketID),
			}
		}
		if res.outcome == event.SideYes {
			m.Recorded = StatusResolvedYes
		} else {
			m.Recorded = StatusResolvedNo
		}
	}
	return nil
}

// applyQuantities is pass 2: chronological accumulation of shares and
// balances, with invariant checks after every trade.
func (s *State) applyQuantities(events []event.Event) error {
	for i := range events {
		e := &events[i]
		switch {
		case e.BalanceUpdate != nil:
			bu := e.BalanceUpdate
			u, ok := s.Users[bu.UserID]
			if !ok {
				return &InvariantViolationError{
					Seq:    e.Seq,
					Detail: fmt.Sprintf("balance update for unknown user %d", bu.UserID),
				}
			}
			if bu.NewBalance.IsNegative() {
				return &InvariantViolationError{
					Seq:    e.Seq,
					Detail: fmt.Sprintf("balance of user %d would become %s", bu.UserID, bu.NewBalance),
				}
			}
			u.Balance = bu.NewBalance

		case e.Trade != nil:
			if err := s.applyTrade(e); err != nil {
				return err
			}

		case e.MarketUpdate != nil, e.UserUpdate != nil, e.Resolution != nil:
			// Metadata, handled in pass 1.

		default:
			return &event.UnsupportedKindError{Kind: e.Kind(), Seq: e.Seq}
		}
	}
	return nil
}

func (s *State) applyTrade(e *event.Event) error {
	tr := e.Trade
	violation := func(format string, args ...any) error {
		return &InvariantViolationError{Seq: e.Seq, Detail: fmt.Sprintf(format, args...)}
	}

	m, ok := s.Markets[tr.MarketID]
	if !ok {
		return violation("trade against unknown market %d", tr.MarketID)
	}
	u, ok := s.Users[tr.UserID]
	if !ok {
		return violation("trade by unknown user %d", tr.UserID)
	}

	pos := u.Positions[tr.MarketID]
	if tr.Side == event.SideYes {
		m.Shares.Yes += tr.Quantity
		pos.Yes += tr.Quantity
	} else {
		m.Shares.No += tr.Quantity
		pos.No += tr.Quantity
	}

	if m.Shares.Yes < 0 || m.Shares.No < 0 {
		return violation("inventory of market %d would become (no=%d, yes=%d)",
			tr.MarketID, m.Shares.No, m.Shares.Yes)
	}
	if pos.Yes < 0 || pos.No < 0 {
		return violation("position of user %d in market %d would become (no=%d, yes=%d)",
			tr.UserID, tr.MarketID, pos.No, pos.Yes)
	}
	if tr.NewBalance.IsNegative() {
		return violation("balance of user %d would become %s", tr.UserID, tr.NewBalance)
	}

	u.Positions[tr.MarketID] = pos
	u.Balance = tr.NewBalance
	return nil
}
