package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
)

type StockStore interface {
	Get(ctx context.Context, ticker string) (*model.Stock, error)
	SetPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error
	MentionsByTicker(ctx context.Context, ticker string) ([]*model.StockMention, error)
}

type QuoteSource interface {
	Quote(ctx context.Context, ticker string) (decimal.Decimal, error)
}

type StockHandler struct {
	repository StockStore
	quotes     QuoteSource
}

func NewStockHandler(repository StockStore, quotes QuoteSource) *StockHandler {
	return &StockHandler{repository: repository, quotes: quotes}
}

// quoteMaxAge bounds how old a stored price may be before the quote source
// is asked again.
const quoteMaxAge = 15 * time.Minute

func (h *StockHandler) GetPrice(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))
	ctx := c.Request.Context()

	stock, err := h.repository.Get(ctx, ticker)
	if err == nil && stock.LastPrice != nil && time.Since(stock.PriceUpdatedAt) < quoteMaxAge {
		c.JSON(http.StatusOK, StockPriceResponse{
			Ticker:    ticker,
			Price:     stock.LastPrice,
			UpdatedAt: stock.PriceUpdatedAt.Format(time.RFC3339),
		})
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("error fetching stock", "error", err, "ticker", ticker)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	price, err := h.quotes.Quote(ctx, ticker)
	if err != nil {
		c.JSON(http.StatusOK, StockPriceResponse{Ticker: ticker, Error: err.Error()})
		return
	}

	now := time.Now().UTC()
	if err := h.repository.SetPrice(ctx, ticker, price, now); err != nil {
		slog.Warn("price cache update failed", "ticker", ticker, "error", err)
	}

	c.JSON(http.StatusOK, StockPriceResponse{
		Ticker:    ticker,
		Price:     &price,
		UpdatedAt: now.Format(time.RFC3339),
	})
}

func (h *StockHandler) GetMentions(c *gin.Context) {
	ticker := strings.ToUpper(c.Param("ticker"))

	mentions, err := h.repository.MentionsByTicker(c.Request.Context(), ticker)
	if err != nil {
		slog.Error("error fetching ticker mentions", "error", err, "ticker", ticker)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	res := TickerMentionsResponse{
		Ticker:   ticker,
		Mentions: make([]StockMentionResponse, 0, len(mentions)),
	}
	for _, m := range mentions {
		res.Mentions = append(res.Mentions, mentionToResponse(m, nil))
	}
	c.JSON(http.StatusOK, res)
}

func getQueryInt(name string, defaultValue int, c *gin.Context) int {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid query parameter, using default", "param", name, "value", raw, "error", err)
		return defaultValue
	}
	return value
}
