package event

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(TimeLayout, s)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", s, err)
	}
	return parsed.UTC()
}

// --- Round-trip tests ---

func TestMarshalLine_RoundTripTrade(t *testing.T) {
	orig := &Event{
		Seq:       7,
		Timestamp: ts(t, "08/30/2026 17:03:21"),
		Author:    "bot#1234",
		Trade: &Trade{
			UserID:     3,
			MarketID:   11,
			Side:       SideYes,
			Quantity:   -5,
			Cost:       d(-240.50),
			OldBalance: d(1000),
			NewBalance: d(1240.50),
		},
	}

	line, err := MarshalLine(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalLine(line)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Seq != 7 || got.Author != "bot#1234" || got.Kind() != KindTrade {
		t.Errorf("header mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("timestamp mismatch: %s vs %s", got.Timestamp, orig.Timestamp)
	}
	tr := got.Trade
	if tr.UserID != 3 || tr.MarketID != 11 || tr.Side != SideYes || tr.Quantity != -5 {
		t.Errorf("trade payload mismatch: %+v", tr)
	}
	if !tr.Cost.Equal(d(-240.50)) || !tr.NewBalance.Equal(d(1240.50)) {
		t.Errorf("trade money mismatch: %+v", tr)
	}
}

func TestMarshalLine_RoundTripMarketUpdate(t *testing.T) {
	resolve := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	orig := &Event{
		Seq:       0,
		Timestamp: ts(t, "01/02/2026 00:00:00"),
		Author:    "admin",
		MarketUpdate: &MarketUpdate{
			MarketID:    4,
			Question:    "Will it rain on election day?",
			OpenDate:    time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			CloseDate:   time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
			ResolveDate: &resolve,
			Criteria:    "Any measurable precipitation at the airport station.",
			Liquidity:   d(10),
			Status:      "open",
			Reason:      "created",
		},
	}

	line, err := MarshalLine(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalLine(line)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	mu := got.MarketUpdate
	if mu == nil {
		t.Fatalf("expected market update payload, got kind %q", got.Kind())
	}
	if mu.MarketID != 4 || mu.Status != "open" || !mu.Liquidity.Equal(d(10)) {
		t.Errorf("payload mismatch: %+v", mu)
	}
	if !mu.OpenDate.Equal(orig.MarketUpdate.OpenDate) || !mu.CloseDate.Equal(orig.MarketUpdate.CloseDate) {
		t.Errorf("date mismatch: %+v", mu)
	}
	if mu.ResolveDate == nil || !mu.ResolveDate.Equal(resolve) {
		t.Errorf("resolve date mismatch: %v", mu.ResolveDate)
	}
}

func TestMarshalLine_NilResolveDate(t *testing.T) {
	orig := &Event{
		Timestamp: ts(t, "01/02/2026 00:00:00"),
		MarketUpdate: &MarketUpdate{
			MarketID:  1,
			Question:  "?",
			OpenDate:  time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			CloseDate: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
			Liquidity: d(100),
			Status:    "closed",
		},
	}

	line, err := MarshalLine(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalLine(line)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MarketUpdate.ResolveDate != nil {
		t.Errorf("expected nil resolve date, got %v", got.MarketUpdate.ResolveDate)
	}
}

func TestMarshalLine_RoundTripOtherKinds(t *testing.T) {
	events := []*Event{
		{
			Timestamp:  ts(t, "03/04/2026 12:00:00"),
			UserUpdate: &UserUpdate{UserID: 1, UserName: "ada", ExternalID: "9001", Reason: "registered"},
		},
		{
			Timestamp:     ts(t, "03/04/2026 12:00:01"),
			BalanceUpdate: &BalanceUpdate{UserID: 1, Delta: d(10000), OldBalance: d(0), NewBalance: d(10000), Reason: "initial balance"},
		},
		{
			Timestamp:  ts(t, "03/04/2026 12:00:02"),
			Resolution: &Resolution{MarketID: 2, Outcome: SideNo},
		},
	}

	for _, orig := range events {
		line, err := MarshalLine(orig)
		if err != nil {
			t.Fatalf("marshal %s: %v", orig.Kind(), err)
		}
		got, err := UnmarshalLine(line)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", orig.Kind(), err)
		}
		if got.Kind() != orig.Kind() {
			t.Errorf("kind mismatch: want %s got %s", orig.Kind(), got.Kind())
		}
	}
}

// --- Legacy compatibility ---

func TestUnmarshalLine_LegacyUserTradeAlias(t *testing.T) {
	line := `{"#":3,"timestamp":"05/06/2025 09:00:00","type":"user_trade","author":"x","info":{"user_id":1,"market_id":2,"share_type":"No","quantity":4,"cost":180.25,"old_balance":500,"new_balance":319.75}}`

	got, err := UnmarshalLine([]byte(line))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind() != KindTrade {
		t.Fatalf("user_trade should normalize to trade, got %q", got.Kind())
	}
	if got.Trade.Side != SideNo || got.Trade.Quantity != 4 {
		t.Errorf("payload mismatch: %+v", got.Trade)
	}
}

func TestUnmarshalLine_BareNumberBalances(t *testing.T) {
	// Legacy writers emitted balances as bare JSON numbers.
	line := `{"#":0,"timestamp":"05/06/2025 09:00:00","type":"balance_update","info":{"user_id":1,"delta":5000.0,"old_balance":0,"new_balance":5000.0,"reason":"signup"}}`

	got, err := UnmarshalLine([]byte(line))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.BalanceUpdate.NewBalance.Equal(d(5000)) {
		t.Errorf("new_balance mismatch: %s", got.BalanceUpdate.NewBalance)
	}
}

// --- Error cases ---

func TestUnmarshalLine_UnknownType(t *testing.T) {
	line := `{"#":9,"timestamp":"05/06/2025 09:00:00","type":"dividend","info":{}}`

	_, err := UnmarshalLine([]byte(line))
	var uk *UnsupportedKindError
	if !errors.As(err, &uk) {
		t.Fatalf("expected UnsupportedKindError, got %v", err)
	}
	if uk.Kind != "dividend" || uk.Seq != 9 {
		t.Errorf("error fields mismatch: %+v", uk)
	}
}

func TestUnmarshalLine_MalformedJSON(t *testing.T) {
	_, err := UnmarshalLine([]byte(`{"#":1,"timestamp":`))
	var cr *CorruptRecordError
	if !errors.As(err, &cr) {
		t.Fatalf("expected CorruptRecordError, got %v", err)
	}
	if cr.Seq != -1 {
		t.Errorf("seq should be unknown (-1) for unparseable JSON, got %d", cr.Seq)
	}
}

func TestUnmarshalLine_BadSide(t *testing.T) {
	line := `{"#":5,"timestamp":"05/06/2025 09:00:00","type":"trade","info":{"user_id":1,"market_id":2,"share_type":"Maybe","quantity":1,"cost":1,"old_balance":10,"new_balance":9}}`

	_, err := UnmarshalLine([]byte(line))
	var cr *CorruptRecordError
	if !errors.As(err, &cr) {
		t.Fatalf("expected CorruptRecordError, got %v", err)
	}
	if cr.Seq != 5 {
		t.Errorf("expected seq 5, got %d", cr.Seq)
	}
}

func TestUnmarshalLine_BadTimestamp(t *testing.T) {
	line := `{"#":2,"timestamp":"2025-05-06T09:00:00Z","type":"resolution","info":{"market_id":1,"outcome":"Yes"}}`

	_, err := UnmarshalLine([]byte(line))
	var cr *CorruptRecordError
	if !errors.As(err, &cr) {
		t.Fatalf("expected CorruptRecordError for RFC3339 timestamp, got %v", err)
	}
}

func TestUnmarshalLine_BadMarketStatus(t *testing.T) {
	line := `{"#":0,"timestamp":"05/06/2025 09:00:00","type":"market_update","info":{"market_id":1,"question":"?","open_date":"2025-05-01","close_date":"2025-06-01","resolve_date":null,"liquidity":10,"status":"paused"}}`

	_, err := UnmarshalLine([]byte(line))
	var cr *CorruptRecordError
	if !errors.As(err, &cr) {
		t.Fatalf("expected CorruptRecordError for unknown status, got %v", err)
	}
}

func TestEventKind_Empty(t *testing.T) {
	e := &Event{}
	if e.Kind() != "" {
		t.Errorf("empty event should have empty kind, got %q", e.Kind())
	}
	if _, err := MarshalLine(e); err == nil {
		t.Error("marshaling a payload-less event should fail")
	}
}
