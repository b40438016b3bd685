package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AlphaVantageClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAlphaVantageClient(apiKey string) *AlphaVantageClient {
	return &AlphaVantageClient{
		apiKey:     apiKey,
		baseURL:    "https://www.alphavantage.co",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type avDailyResponse struct {
	TimeSeries map[string]map[string]string `json:"Time Series (Daily)"`
}

// DailyClose fetches the daily close series and picks the closing price on
// the latest trading day at or before the requested date. Prices stay exact:
// the API's decimal strings go straight into decimal values.
func (c *AlphaVantageClient) DailyClose(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	url := fmt.Sprintf(
		"%s/query?function=TIME_SERIES_DAILY&symbol=%s&outputsize=compact&apikey=%s",
		c.baseURL, strings.ToUpper(ticker), c.apiKey,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("alphavantage request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("alphavantage fetch: %w", err)
	}
	defer resp.Body.Close()

	var raw avDailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return decimal.Decimal{}, fmt.Errorf("alphavantage decode: %w", err)
	}
	if len(raw.TimeSeries) == 0 {
		return decimal.Decimal{}, ErrPriceNotFound
	}

	series := make(map[string]decimal.Decimal, len(raw.TimeSeries))
	earliest := day.AddDate(0, 0, -7).Format("2006-01-02")
	for date, fields := range raw.TimeSeries {
		if date < earliest {
			continue
		}
		close, ok := fields["4. close"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(close)
		if err != nil {
			continue
		}
		series[date] = price
	}

	price, ok := nearestPriorClose(series, day)
	if !ok {
		return decimal.Decimal{}, ErrPriceNotFound
	}
	return price, nil
}
