// Package api provides the HTTP surface of the prediction exchange:
// market and user queries, the trade quote/commit flow, and the admin
// write endpoints, plus a WebSocket feed of executed trades.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ricardoV94/prediction-market/internal/event"
	"github.com/ricardoV94/prediction-market/internal/exchange"
	"github.com/ricardoV94/prediction-market/internal/metrics"
)

// Service handles exchange operations over HTTP. The exchange itself
// serializes writes; the service stays stateless apart from its
// broadcast fan-outs.
type Service struct {
	exchange *exchange.Exchange
	wsHub    *WSHub   // optional WebSocket hub for real-time broadcasts
	notifier Notifier // optional out-of-process trade announcements
}

// NewService creates a new API service. Pass nil for hub and notifier
// when broadcasting is not needed.
func NewService(x *exchange.Exchange, hub *WSHub, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{exchange: x, wsHub: hub, notifier: notifier}
}

// Router builds the chi route tree for the /api/v1 surface.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.UpsertMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/price", s.GetPrice)
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)

	r.Get("/users", s.ListUsers)
	r.Post("/users", s.RegisterUser)
	r.Get("/users/{userID}", s.GetUser)
	r.Get("/users/{userID}/portfolio", s.GetPortfolio)
	r.Post("/users/{userID}/balance", s.AdjustBalance)

	r.Post("/trade/quote", s.QuoteTrade)
	r.Post("/trade/commit", s.CommitTrade)

	return r
}

// --- Request/Response types ---

// MarketView is a market snapshot with derived prices and status.
type MarketView struct {
	ID          int64           `json:"id"`
	Question    string          `json:"question"`
	OpenDate    string          `json:"open_date"`
	CloseDate   string          `json:"close_date"`
	ResolveDate string          `json:"resolve_date,omitempty"`
	Criteria    string          `json:"detailed_criteria,omitempty"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	Shares      exchange.Shares `json:"shares"`
	Volume      int64           `json:"volume"`
	Status      exchange.Status `json:"status"`
	PriceYes    decimal.Decimal `json:"price_yes"`
	PriceNo     decimal.Decimal `json:"price_no"`
}

func marketView(m *exchange.Market, now time.Time) MarketView {
	v := MarketView{
		ID:        m.ID,
		Question:  m.Question,
		OpenDate:  m.OpenDate.Format(event.DateLayout),
		CloseDate: m.CloseDate.Format(event.DateLayout),
		Criteria:  m.Criteria,
		Liquidity: m.Liquidity,
		Shares:    m.Shares,
		Volume:    m.Volume(),
		Status:    m.Status(now),
		PriceYes:  m.YesPrice(),
		PriceNo:   m.NoPrice(),
	}
	if m.ResolveDate != nil {
		v.ResolveDate = m.ResolveDate.Format(event.DateLayout)
	}
	return v
}

// UpsertMarketRequest is the JSON body for POST /markets.
type UpsertMarketRequest struct {
	MarketID    int64           `json:"market_id"`
	Question    string          `json:"question"`
	OpenDate    string          `json:"open_date"`  // YYYY-MM-DD
	CloseDate   string          `json:"close_date"` // YYYY-MM-DD
	ResolveDate string          `json:"resolve_date,omitempty"`
	Criteria    string          `json:"detailed_criteria,omitempty"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	Reason      string          `json:"reason,omitempty"`
}

// RegisterUserRequest is the JSON body for POST /users.
type RegisterUserRequest struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// AdjustBalanceRequest is the JSON body for POST /users/{userID}/balance.
type AdjustBalanceRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason,omitempty"`
}

// ResolveMarketRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveMarketRequest struct {
	Outcome event.Side `json:"outcome"`
}

// TradeRequest is the JSON body for POST /trade/quote.
type TradeRequest struct {
	UserID   int64      `json:"user_id"`
	MarketID int64      `json:"market_id"`
	Side     event.Side `json:"side"`
	Quantity int64      `json:"quantity"` // positive = buy, negative = sell
}

// --- Market handlers ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.exchange.Markets(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	now := time.Now().UTC()
	views := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, marketView(m, now))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	writeJSON(w, http.StatusOK, views)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "marketID")
	if err != nil {
		writeError(w, "invalid market id", http.StatusBadRequest)
		return
	}
	m, err := s.exchange.Market(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketView(m, time.Now().UTC()))
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "marketID")
	if err != nil {
		writeError(w, "invalid market id", http.StatusBadRequest)
		return
	}
	m, err := s.exchange.Market(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": m.YesPrice(),
		"no":  m.NoPrice(),
	})
}

// UpsertMarket handles POST /api/v1/markets
func (s *Service) UpsertMarket(w http.ResponseWriter, r *http.Request) {
	var req UpsertMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	openDate, err := time.ParseInLocation(event.DateLayout, req.OpenDate, time.UTC)
	if err != nil {
		writeError(w, "open_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	closeDate, err := time.ParseInLocation(event.DateLayout, req.CloseDate, time.UTC)
	if err != nil {
		writeError(w, "close_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	params := exchange.MarketParams{
		MarketID:  req.MarketID,
		Question:  req.Question,
		OpenDate:  openDate,
		CloseDate: closeDate,
		Criteria:  req.Criteria,
		Liquidity: req.Liquidity,
		Reason:    req.Reason,
	}
	if req.ResolveDate != "" {
		rd, err := time.ParseInLocation(event.DateLayout, req.ResolveDate, time.UTC)
		if err != nil {
			writeError(w, "resolve_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		params.ResolveDate = &rd
	}

	ctx := r.Context()
	if err := s.exchange.UpsertMarket(ctx, author(r), params); err != nil {
		s.writeFailure(w, err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(event.KindMarketUpdate)).Inc()

	m, err := s.exchange.Market(ctx, req.MarketID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	slog.Info("market upserted",
		"market_id", req.MarketID,
		"question", req.Question,
		"liquidity", req.Liquidity.String(),
	)
	writeJSON(w, http.StatusCreated, marketView(m, time.Now().UTC()))
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "marketID")
	if err != nil {
		writeError(w, "invalid market id", http.StatusBadRequest)
		return
	}
	var req ResolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, "outcome must be Yes or No", http.StatusBadRequest)
		return
	}

	if err := s.exchange.ResolveMarket(r.Context(), author(r), id, req.Outcome); err != nil {
		s.writeFailure(w, err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(event.KindResolution)).Inc()

	slog.Info("market resolved", "market_id", id, "outcome", req.Outcome)
	w.WriteHeader(http.StatusNoContent)
}

// --- User handlers ---

// ListUsers handles GET /api/v1/users
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.exchange.Users(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	list := make([]*exchange.User, 0, len(users))
	for _, u := range users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, list)
}

// GetUser handles GET /api/v1/users/{userID}. The id may be numeric or
// an external identity prefixed with "@".
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "userID")

	var u *exchange.User
	var err error
	if id, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
		u, err = s.exchange.User(r.Context(), id)
	} else {
		u, err = s.exchange.UserByExternalID(r.Context(), raw)
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetPortfolio handles GET /api/v1/users/{userID}/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	p, err := s.exchange.Portfolio(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if p.Holdings == nil {
		p.Holdings = []exchange.Holding{}
	}
	writeJSON(w, http.StatusOK, p)
}

// RegisterUser handles POST /api/v1/users
func (s *Service) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	id, err := s.exchange.RegisterUser(r.Context(), author(r), req.Name, req.ExternalID, req.Reason)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(event.KindUserUpdate)).Inc()

	slog.Info("user registered", "user_id", id, "name", req.Name, "external_id", req.ExternalID)
	writeJSON(w, http.StatusCreated, map[string]int64{"user_id": id})
}

// AdjustBalance handles POST /api/v1/users/{userID}/balance
func (s *Service) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Delta.IsZero() {
		writeError(w, "delta must be non-zero", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.exchange.AdjustBalance(ctx, author(r), id, req.Delta, req.Reason); err != nil {
		s.writeFailure(w, err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(event.KindBalanceUpdate)).Inc()

	u, err := s.exchange.User(ctx, id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	slog.Info("balance adjusted",
		"user_id", id,
		"delta", req.Delta.String(),
		"balance", u.Balance.String(),
		"reason", req.Reason,
	)
	writeJSON(w, http.StatusOK, u)
}

// --- Trade handlers ---

// QuoteTrade handles POST /api/v1/trade/quote
// Prices the trade against live state without committing anything.
func (s *Service) QuoteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be Yes or No", http.StatusBadRequest)
		return
	}

	quote, err := s.exchange.ProposeTrade(r.Context(), req.MarketID, req.UserID, req.Side, req.Quantity)
	if err != nil {
		if reason := rejectReason(err); reason != "" {
			metrics.TradesRejected.WithLabelValues(reason).Inc()
		}
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// CommitTrade handles POST /api/v1/trade/commit
// Takes a quote from /trade/quote and turns it into a ledger event.
func (s *Service) CommitTrade(w http.ResponseWriter, r *http.Request) {
	var quote exchange.TradeQuote
	if err := json.NewDecoder(r.Body).Decode(&quote); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !quote.Side.Valid() {
		writeError(w, "side must be Yes or No", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	committed, err := s.exchange.CommitTrade(ctx, &quote, author(r))
	if err != nil {
		if reason := rejectReason(err); reason != "" {
			metrics.TradesRejected.WithLabelValues(reason).Inc()
		}
		s.writeFailure(w, err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(event.KindTrade)).Inc()
	metrics.TradesCommitted.WithLabelValues(string(committed.Side)).Inc()

	slog.Info("trade committed",
		"trade_id", committed.ID,
		"user_id", committed.UserID,
		"market_id", committed.MarketID,
		"side", committed.Side,
		"qty", committed.Quantity,
		"cost", committed.Cost.String(),
		"price_yes", committed.PriceAfter.String(),
	)

	notice := TradeNotice{
		TradeID:  committed.ID.String(),
		UserID:   committed.UserID,
		MarketID: committed.MarketID,
		Side:     committed.Side,
		Quantity: committed.Quantity,
		Cost:     committed.Cost,
		PriceYes: committed.PriceAfter,
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			MarketID: committed.MarketID,
			Side:     string(committed.Side),
			Quantity: committed.Quantity,
			PriceYes: committed.PriceAfter.String(),
			PriceNo:  decimal.NewFromInt(100).Sub(committed.PriceAfter).String(),
		})
	}
	if err := s.notifier.PublishTrade(ctx, notice); err != nil {
		slog.Warn("trade notification failed", "err", err)
	}

	writeJSON(w, http.StatusOK, committed)
}

// --- Helpers ---

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// author identifies the caller for the event record. Falls back to the
// service's own identity when the client does not say.
func author(r *http.Request) string {
	if a := r.Header.Get("X-Author"); a != "" {
		return a
	}
	return "api"
}

// writeFailure maps exchange errors to HTTP status codes.
func (s *Service) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrUnknownMarket), errors.Is(err, exchange.ErrUnknownUser):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, exchange.ErrZeroQuantity), errors.Is(err, exchange.ErrInvalidLiquidity):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, exchange.ErrMarketNotOpen),
		errors.Is(err, exchange.ErrAlreadyResolved),
		errors.Is(err, exchange.ErrStaleQuote),
		errors.Is(err, exchange.ErrExternalIDInUse):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, exchange.ErrOversell), errors.Is(err, exchange.ErrInsufficientBalance):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// rejectReason labels recoverable trade rejections for metrics.
// Unexpected failures return "" and are not counted as rejections.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, exchange.ErrZeroQuantity):
		return "zero_quantity"
	case errors.Is(err, exchange.ErrUnknownMarket):
		return "unknown_market"
	case errors.Is(err, exchange.ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, exchange.ErrMarketNotOpen):
		return "market_not_open"
	case errors.Is(err, exchange.ErrOversell):
		return "oversell"
	case errors.Is(err, exchange.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, exchange.ErrStaleQuote):
		return "stale_quote"
	default:
		return ""
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
