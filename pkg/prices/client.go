// Package prices resolves current and historical stock prices. Current
// quotes come from Finnhub, daily closes from Alpha Vantage.
package prices

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPriceNotFound = errors.New("price not found")

type StockInfo struct {
	Ticker   string
	Name     string
	Exchange string
}

// Source answers price questions for one ticker at a time.
type Source interface {
	// Quote returns the current price.
	Quote(ctx context.Context, ticker string) (decimal.Decimal, error)
	// DailyClose returns the closing price on day, falling back to the
	// nearest prior trading day within a week (weekends, holidays).
	DailyClose(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error)
	// Info returns display name and exchange for a ticker.
	Info(ctx context.Context, ticker string) (*StockInfo, error)
}

// Service composes the quote and historical providers into one Source.
type Service struct {
	quotes     *FinnhubClient
	historical *AlphaVantageClient
}

func NewService(quotes *FinnhubClient, historical *AlphaVantageClient) *Service {
	return &Service{quotes: quotes, historical: historical}
}

func (s *Service) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return s.quotes.Quote(ctx, ticker)
}

func (s *Service) DailyClose(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	return s.historical.DailyClose(ctx, ticker, day)
}

func (s *Service) Info(ctx context.Context, ticker string) (*StockInfo, error) {
	return s.quotes.Info(ctx, ticker)
}

// IsValidUSTicker reports whether a symbol plausibly trades on a US exchange.
// Class shares like BRK.A pass; foreign listings like HO.PA do not.
func IsValidUSTicker(ticker string) bool {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return false
	}
	if strings.Contains(ticker, ".") {
		parts := strings.SplitN(ticker, ".", 2)
		return len(parts[0]) <= 4 && len(parts[1]) == 1
	}
	return len(ticker) <= 5
}

// nearestPriorClose picks the close on the latest trading day at or before
// target from a date-keyed series. Dates are ISO YYYY-MM-DD.
func nearestPriorClose(series map[string]decimal.Decimal, target time.Time) (decimal.Decimal, bool) {
	targetDay := target.Format("2006-01-02")
	dates := make([]string, 0, len(series))
	for d := range series {
		if d <= targetDay {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return decimal.Decimal{}, false
	}
	sort.Strings(dates)
	return series[dates[len(dates)-1]], true
}
