package prices

import (
	"context"
	"fmt"
	"strings"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"
	"github.com/shopspring/decimal"
)

type FinnhubClient struct {
	client *finnhub.DefaultApiService
}

func NewFinnhubClient(apiKey string) *FinnhubClient {
	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	client := finnhub.NewAPIClient(cfg).DefaultApi
	return &FinnhubClient{client: client}
}

func (c *FinnhubClient) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	res, _, err := c.client.Quote(ctx).Symbol(strings.ToUpper(ticker)).Execute()
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("finnhub quote: %w", err)
	}
	// C is the current price; zero means the symbol is unknown or delisted.
	if res.C == nil || *res.C <= 0 {
		return decimal.Decimal{}, ErrPriceNotFound
	}
	return decimal.NewFromFloat32(*res.C), nil
}

func (c *FinnhubClient) Info(ctx context.Context, ticker string) (*StockInfo, error) {
	ticker = strings.ToUpper(ticker)
	res, _, err := c.client.CompanyProfile2(ctx).Symbol(ticker).Execute()
	if err != nil {
		return nil, fmt.Errorf("finnhub profile: %w", err)
	}

	info := &StockInfo{Ticker: ticker, Name: ticker, Exchange: "NYSE"}
	if res.Name != nil && *res.Name != "" {
		info.Name = *res.Name
	}
	if res.Exchange != nil && strings.Contains(strings.ToUpper(*res.Exchange), "NAS") {
		info.Exchange = "NASDAQ"
	}
	return info, nil
}
