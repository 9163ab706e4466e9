package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/publisher"
)

const (
	defaultCandleBuckets = 100
	maxCandleBuckets     = 5000
	defaultTradeLimit    = 100
	maxTradeLimit        = 1000
)

type candlesResponse struct {
	Token     string                    `json:"token"`
	Timeframe string                    `json:"timeframe"`
	From      int64                     `json:"from"`
	To        int64                     `json:"to"`
	Candles   []publisher.CandleMessage `json:"candles"`
	Stale     bool                      `json:"stale"`
}

type metricsResponse struct {
	domain.TokenMetrics
	Stale bool `json:"stale"`
}

type tradeJSON struct {
	Signature   string          `json:"signature"`
	Hop         int             `json:"hop"`
	Pool        string          `json:"pool,omitempty"`
	Side        string          `json:"side"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	Price       decimal.Decimal `json:"price"`
	Wallet      string          `json:"wallet"`
	Slot        int64           `json:"slot"`
	Timestamp   int64           `json:"timestamp"`
	Venue       string          `json:"venue,omitempty"`
}

type tradesResponse struct {
	Token  string      `json:"token"`
	Trades []tradeJSON `json:"trades"`
	Stale  bool        `json:"stale"`
}

type classificationJSON struct {
	Token       string   `json:"token"`
	Flags       []string `json:"flags"`
	EvaluatedAt int64    `json:"evaluated_at"`
}

type classificationsResponse struct {
	Wallet          string               `json:"wallet"`
	Classifications []classificationJSON `json:"classifications"`
}

func queryInt64(r *http.Request, name string, def int64) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

// handleCandles serves GET /tokens/{token}/candles?timeframe=&from=&to=.
// from and to are Unix milliseconds; the range is [from, to).
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if s.stores.Candles == nil {
		writeError(w, http.StatusServiceUnavailable, "candle store not configured")
		return
	}
	token := chi.URLParam(r, "token")
	tfName := r.URL.Query().Get("timeframe")
	if tfName == "" {
		tfName = domain.Timeframe1m.Name
	}
	tf, err := domain.ParseTimeframe(tfName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.opts.Now().UnixMilli()
	to, ok := queryInt64(r, "to", now)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	from, ok := queryInt64(r, "from", to-defaultCandleBuckets*tf.Millis())
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if from >= to {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}
	if (to-from)/tf.Millis() > maxCandleBuckets {
		writeError(w, http.StatusBadRequest, "range too large")
		return
	}

	candles, err := s.stores.Candles.GetRange(r.Context(), token, tf.Name, from, to)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	resp := candlesResponse{
		Token:     token,
		Timeframe: tf.Name,
		From:      from,
		To:        to,
		Candles:   make([]publisher.CandleMessage, 0, len(candles)),
	}
	for _, c := range candles {
		resp.Candles = append(resp.Candles, publisher.CandleToMessage(c))
	}
	// Only a window reaching into the present can be stale.
	if !s.stale(to) {
		resp.Stale = len(candles) == 0 || s.stale(candles[len(candles)-1].BucketEnd)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.stores.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics store not configured")
		return
	}
	m, err := s.stores.Metrics.GetLatest(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{TokenMetrics: *m, Stale: s.stale(m.UpdatedAt)})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.stores.Trades == nil {
		writeError(w, http.StatusServiceUnavailable, "trade store not configured")
		return
	}
	limit, ok := queryInt64(r, "limit", defaultTradeLimit)
	if !ok || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}

	token := chi.URLParam(r, "token")
	trades, err := s.stores.Trades.GetByToken(r.Context(), token, int(limit))
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	resp := tradesResponse{Token: token, Trades: make([]tradeJSON, 0, len(trades))}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, tradeJSON{
			Signature:   t.Signature,
			Hop:         t.Hop,
			Pool:        t.Pool,
			Side:        t.Side,
			TokenAmount: t.TokenAmount,
			QuoteAmount: t.QuoteAmount,
			Price:       t.Price,
			Wallet:      t.Wallet,
			Slot:        t.Slot,
			Timestamp:   t.Timestamp,
			Venue:       t.Venue,
		})
	}
	resp.Stale = len(trades) == 0 || s.stale(trades[0].Timestamp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClassifications(w http.ResponseWriter, r *http.Request) {
	if s.stores.Classifications == nil {
		writeError(w, http.StatusServiceUnavailable, "classification store not configured")
		return
	}
	wallet := chi.URLParam(r, "wallet")
	cs, err := s.stores.Classifications.GetByWallet(r.Context(), wallet)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	resp := classificationsResponse{Wallet: wallet, Classifications: make([]classificationJSON, 0, len(cs))}
	for _, c := range cs {
		resp.Classifications = append(resp.Classifications, classificationJSON{
			Token:       c.Token,
			Flags:       c.Flags.Names(),
			EvaluatedAt: c.EvaluatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
