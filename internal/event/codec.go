package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Wire format: one self-contained JSON object per line, e.g.
//
//	{"#":12,"timestamp":"08/30/2026 17:03:21","type":"trade","author":"bot","info":{...}}
//
// The "#" field is the sequence number, strictly increasing from 0.

// TimeLayout is the fixed UTC timestamp format used on the wire.
const TimeLayout = "01/02/2006 15:04:05"

// DateLayout is the format for market open/close/resolve dates.
const DateLayout = "2006-01-02"

type wireEvent struct {
	Seq       int64           `json:"#"`
	Timestamp string          `json:"timestamp"`
	Type      Kind            `json:"type"`
	Author    string          `json:"author,omitempty"`
	Info      json.RawMessage `json:"info"`
}

// MarshalLine encodes an event as a single NDJSON line, without the
// trailing newline.
func MarshalLine(e *Event) ([]byte, error) {
	kind := e.Kind()
	if kind == "" {
		return nil, &UnsupportedKindError{Kind: kind, Seq: e.Seq}
	}

	var payload any
	switch kind {
	case KindUserUpdate:
		payload = e.UserUpdate
	case KindBalanceUpdate:
		payload = e.BalanceUpdate
	case KindTrade:
		payload = e.Trade
	case KindMarketUpdate:
		payload = e.MarketUpdate
	case KindResolution:
		payload = e.Resolution
	}

	info, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s info: %w", kind, err)
	}

	return json.Marshal(wireEvent{
		Seq:       e.Seq,
		Timestamp: e.Timestamp.UTC().Format(TimeLayout),
		Type:      kind,
		Author:    e.Author,
		Info:      info,
	})
}

// UnmarshalLine decodes one NDJSON line into an Event.
//
// A line that is not valid JSON, carries an unknown type, or whose info
// object does not match its type yields a *CorruptRecordError (or
// *UnsupportedKindError for unknown types) naming the sequence number
// when it could be recovered from the line.
func UnmarshalLine(line []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, &CorruptRecordError{Seq: -1, Line: string(line), Err: err}
	}

	ts, err := time.Parse(TimeLayout, w.Timestamp)
	if err != nil {
		return nil, &CorruptRecordError{Seq: w.Seq, Line: string(line), Err: fmt.Errorf("bad timestamp: %w", err)}
	}

	e := &Event{
		Seq:       w.Seq,
		Timestamp: ts.UTC(),
		Author:    w.Author,
	}

	corrupt := func(err error) error {
		return &CorruptRecordError{Seq: w.Seq, Line: string(line), Err: err}
	}

	kind := w.Type
	if kind == legacyKindTrade {
		kind = KindTrade
	}

	switch kind {
	case KindUserUpdate:
		var p UserUpdate
		if err := json.Unmarshal(w.Info, &p); err != nil {
			return nil, corrupt(err)
		}
		e.UserUpdate = &p

	case KindBalanceUpdate:
		var p BalanceUpdate
		if err := json.Unmarshal(w.Info, &p); err != nil {
			return nil, corrupt(err)
		}
		e.BalanceUpdate = &p

	case KindTrade:
		var p Trade
		if err := json.Unmarshal(w.Info, &p); err != nil {
			return nil, corrupt(err)
		}
		if !p.Side.Valid() {
			return nil, corrupt(fmt.Errorf("bad share_type %q", p.Side))
		}
		e.Trade = &p

	case KindMarketUpdate:
		var p MarketUpdate
		if err := json.Unmarshal(w.Info, &p); err != nil {
			return nil, corrupt(err)
		}
		e.MarketUpdate = &p

	case KindResolution:
		var p Resolution
		if err := json.Unmarshal(w.Info, &p); err != nil {
			return nil, corrupt(err)
		}
		if !p.Outcome.Valid() {
			return nil, corrupt(fmt.Errorf("bad outcome %q", p.Outcome))
		}
		e.Resolution = &p

	default:
		return nil, &UnsupportedKindError{Kind: w.Type, Seq: w.Seq}
	}

	return e, nil
}

// marketUpdateJSON is the wire shape of a MarketUpdate info object.
// Dates travel as YYYY-MM-DD strings; resolve_date may be null or "".
type marketUpdateJSON struct {
	MarketID  int64           `json:"market_id"`
	Question  string          `json:"question"`
	OpenDate  string          `json:"open_date"`
	CloseDate string          `json:"close_date"`
	// Pointer so absent and null both decode to nil.
	ResolveDate *string         `json:"resolve_date"`
	Criteria    string          `json:"detailed_criteria,omitempty"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
}

func (m MarketUpdate) MarshalJSON() ([]byte, error) {
	w := marketUpdateJSON{
		MarketID:  m.MarketID,
		Question:  m.Question,
		OpenDate:  m.OpenDate.UTC().Format(DateLayout),
		CloseDate: m.CloseDate.UTC().Format(DateLayout),
		Criteria:  m.Criteria,
		Liquidity: m.Liquidity,
		Status:    m.Status,
		Reason:    m.Reason,
	}
	if m.ResolveDate != nil {
		s := m.ResolveDate.UTC().Format(DateLayout)
		w.ResolveDate = &s
	}
	return json.Marshal(w)
}

func (m *MarketUpdate) UnmarshalJSON(data []byte) error {
	var w marketUpdateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	openDate, err := parseWireDate(w.OpenDate)
	if err != nil {
		return fmt.Errorf("open_date: %w", err)
	}
	closeDate, err := parseWireDate(w.CloseDate)
	if err != nil {
		return fmt.Errorf("close_date: %w", err)
	}

	var resolveDate *time.Time
	if w.ResolveDate != nil && *w.ResolveDate != "" {
		t, err := parseWireDate(*w.ResolveDate)
		if err != nil {
			return fmt.Errorf("resolve_date: %w", err)
		}
		resolveDate = &t
	}

	switch w.Status {
	case "open", "closed", "resolved_yes", "resolved_no":
	default:
		return fmt.Errorf("unknown market status: %q", w.Status)
	}

	*m = MarketUpdate{
		MarketID:    w.MarketID,
		Question:    w.Question,
		OpenDate:    openDate,
		CloseDate:   closeDate,
		ResolveDate: resolveDate,
		Criteria:    w.Criteria,
		Liquidity:   w.Liquidity,
		Status:      w.Status,
		Reason:      w.Reason,
	}
	return nil
}

func parseWireDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
