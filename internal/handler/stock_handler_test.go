package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
)

type fakeStockStore struct {
	stock    *model.Stock
	mentions []*model.StockMention
	setCalls int
	err      error
}

func (f *fakeStockStore) Get(ctx context.Context, ticker string) (*model.Stock, error) {
	if f.stock == nil {
		return nil, store.ErrNotFound
	}
	return f.stock, f.err
}

func (f *fakeStockStore) SetPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error {
	f.setCalls++
	return nil
}

func (f *fakeStockStore) MentionsByTicker(ctx context.Context, ticker string) ([]*model.StockMention, error) {
	return f.mentions, f.err
}

type fakeQuotes struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeQuotes) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	f.calls++
	return f.price, f.err
}

func newStockRouter(s StockStore, q QuoteSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewStockHandler(s, q)
	r.GET("/stocks/:ticker/price", h.GetPrice)
	r.GET("/stocks/:ticker/mentions", h.GetMentions)
	return r
}

func TestGetPrice_ServesFreshCachedPrice(t *testing.T) {
	cached := decimal.RequireFromString("187.20")
	s := &fakeStockStore{stock: &model.Stock{
		Ticker:         "AAPL",
		LastPrice:      &cached,
		PriceUpdatedAt: time.Now().UTC(),
	}}
	q := &fakeQuotes{price: decimal.RequireFromString("999")}
	r := newStockRouter(s, q)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stocks/aapl/price", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, q.calls, 0)

	var res StockPriceResponse
	json.Unmarshal(w.Body.Bytes(), &res)
	assert.Equal(t, res.Ticker, "AAPL")
	assert.Equal(t, res.Price.String(), "187.2")
}

func TestGetPrice_QuotesWhenStale(t *testing.T) {
	stale := decimal.RequireFromString("100")
	s := &fakeStockStore{stock: &model.Stock{
		Ticker:         "AAPL",
		LastPrice:      &stale,
		PriceUpdatedAt: time.Now().UTC().Add(-time.Hour),
	}}
	q := &fakeQuotes{price: decimal.RequireFromString("201.10")}
	r := newStockRouter(s, q)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stocks/AAPL/price", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, q.calls, 1)
	assert.Equal(t, s.setCalls, 1)

	var res StockPriceResponse
	json.Unmarshal(w.Body.Bytes(), &res)
	assert.Equal(t, res.Price.String(), "201.1")
}

func TestGetPrice_QuoteFailureIsReportedInBody(t *testing.T) {
	q := &fakeQuotes{err: errors.New("symbol not supported")}
	r := newStockRouter(&fakeStockStore{}, q)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stocks/GONE/price", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, w.Code, http.StatusOK)

	var res StockPriceResponse
	json.Unmarshal(w.Body.Bytes(), &res)
	assert.Equal(t, res.Ticker, "GONE")
	assert.Equal(t, res.Error, "symbol not supported")
	assert.Equal(t, res.Price, (*decimal.Decimal)(nil))
}

func TestGetMentions(t *testing.T) {
	s := &fakeStockStore{mentions: []*model.StockMention{
		{ID: "m-1", VideoID: "v-1", Ticker: "AAPL", Sentiment: "buy", CreatedAt: time.Now(), PublishedAt: "2026-01-05"},
		{ID: "m-2", VideoID: "v-2", Ticker: "AAPL", Sentiment: "hold", CreatedAt: time.Now(), PublishedAt: "2026-02-05"},
	}}
	r := newStockRouter(s, &fakeQuotes{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stocks/aapl/mentions", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, w.Code, http.StatusOK)

	var res TickerMentionsResponse
	json.Unmarshal(w.Body.Bytes(), &res)
	assert.Equal(t, res.Ticker, "AAPL")
	assert.Equal(t, len(res.Mentions), 2)
	assert.Equal(t, res.Mentions[0].Sentiment, "buy")
}
