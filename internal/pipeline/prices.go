package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
	"github.com/slijtan/stock-track-record/pkg/prices"
)

// priceCacheTTL bounds how stale a cached last price may be before the quote
// source is consulted again.
const priceCacheTTL = 15 * time.Minute

// RefreshPrices returns a current price per ticker mentioned by the channel,
// serving from the shared stock rows when fresh and hitting the quote source
// otherwise. Tickers whose quotes fail are omitted rather than failing the
// whole refresh.
func (p *Pipeline) RefreshPrices(ctx context.Context, channelID string) (map[string]decimal.Decimal, error) {
	tickers, err := p.repo.Tickers(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel tickers: %w", err)
	}

	now := time.Now().UTC()
	out := make(map[string]decimal.Decimal, len(tickers))
	for _, ticker := range tickers {
		stock, err := p.stocks.Get(ctx, ticker)
		if err == nil && stock.LastPrice != nil && now.Sub(stock.PriceUpdatedAt) < priceCacheTTL {
			out[ticker] = *stock.LastPrice
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load stock %s: %w", ticker, err)
		}

		price, err := p.prices.Quote(ctx, ticker)
		if err != nil {
			slog.Warn("quote lookup failed", "ticker", ticker, "error", err)
			continue
		}
		if err := p.stocks.SetPrice(ctx, ticker, price, now); err != nil {
			slog.Warn("price cache update failed", "ticker", ticker, "error", err)
		}
		out[ticker] = price
	}
	return out, nil
}

// BackfillPrices fills in the mention-time price for every mention of the
// channel that is still missing one. Prices the source cannot produce stay
// empty; the next backfill tries again.
func (p *Pipeline) BackfillPrices(ctx context.Context, channelID string) error {
	videos, err := p.repo.Videos(ctx, channelID)
	if err != nil {
		return fmt.Errorf("list channel videos: %w", err)
	}

	filled := 0
	for _, video := range videos {
		day, err := time.Parse("2006-01-02", video.PublishedAt)
		if err != nil {
			continue
		}
		missing, err := p.repo.MentionsMissingPrice(ctx, video.ID)
		if err != nil {
			return fmt.Errorf("list unpriced mentions: %w", err)
		}
		for _, mention := range missing {
			price, err := p.prices.DailyClose(ctx, mention.Ticker, day)
			if errors.Is(err, prices.ErrPriceNotFound) {
				continue
			}
			if err != nil {
				slog.Warn("historical price lookup failed",
					"ticker", mention.Ticker, "date", video.PublishedAt, "error", err)
				continue
			}
			if err := p.repo.SetMentionPrice(ctx, video.ID, mention.ID, price); err != nil {
				return fmt.Errorf("store mention price: %w", err)
			}
			filled++
		}
	}
	if filled > 0 {
		if _, err := p.repo.AddLog(ctx, channelID, model.LogLevelInfo,
			fmt.Sprintf("Backfilled prices for %d mentions", filled)); err != nil {
			slog.Error("processing log write failed", "channel_id", channelID, "error", err)
		}
	}
	return nil
}
