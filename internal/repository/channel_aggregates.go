package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
)

type ChannelStock struct {
	Ticker                 string
	Name                   string
	FirstMentionDate       string
	FirstMentionVideoID    string
	FirstMentionVideoTitle string
	PriceAtFirstMention    *decimal.Decimal
	CurrentPrice           *decimal.Decimal
	PriceChangePercent     *decimal.Decimal
	BuyCount               int
	HoldCount              int
	SellCount              int
	MentionedCount         int
	TotalMentions          int
}

type TimelineItem struct {
	Video    *model.Video
	Mentions []*model.StockMention
}

type MentionWithVideo struct {
	Mention *model.StockMention
	Video   *model.Video
}

// ChannelStocks aggregates every mention under a channel into per-ticker
// sentiment tallies, first-mention info, and price change since then.
func (r *ChannelRepository) ChannelStocks(ctx context.Context, channelID string) ([]*ChannelStock, error) {
	videos, err := r.Videos(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, nil
	}
	videoMap := make(map[string]*model.Video, len(videos))
	for _, v := range videos {
		videoMap[v.ID] = v
	}

	byTicker := map[string][]*model.StockMention{}
	for _, v := range videos {
		mentions, err := r.MentionsByVideo(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range mentions {
			byTicker[m.Ticker] = append(byTicker[m.Ticker], m)
		}
	}

	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	result := make([]*ChannelStock, 0, len(tickers))
	for _, ticker := range tickers {
		mentions := byTicker[ticker]
		sort.Slice(mentions, func(i, j int) bool {
			return mentionSortKey(mentions[i], videoMap) < mentionSortKey(mentions[j], videoMap)
		})

		cs := &ChannelStock{Ticker: ticker, TotalMentions: len(mentions)}
		for _, m := range mentions {
			switch m.Sentiment {
			case model.SentimentBuy:
				cs.BuyCount++
			case model.SentimentHold:
				cs.HoldCount++
			case model.SentimentSell:
				cs.SellCount++
			default:
				cs.MentionedCount++
			}
		}

		first := mentions[0]
		cs.PriceAtFirstMention = first.PriceAtMention
		cs.FirstMentionVideoID = first.VideoID
		if v, ok := videoMap[first.VideoID]; ok {
			cs.FirstMentionDate = v.PublishedAt
			cs.FirstMentionVideoTitle = v.Title
		}

		stockItem, err := r.kv.Get(ctx, r.stocksTable, stockKey(ticker))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			stock := decodeStock(stockItem)
			cs.Name = stock.Name
			cs.CurrentPrice = stock.LastPrice
		}

		if cs.PriceAtFirstMention != nil && cs.CurrentPrice != nil && !cs.PriceAtFirstMention.IsZero() {
			change := cs.CurrentPrice.Sub(*cs.PriceAtFirstMention).
				Div(*cs.PriceAtFirstMention).
				Mul(decimal.NewFromInt(100))
			cs.PriceChangePercent = &change
		}

		result = append(result, cs)
	}
	return result, nil
}

// Timeline lists a channel's videos newest first, each with its mentions.
// Videos without mentions are omitted.
func (r *ChannelRepository) Timeline(ctx context.Context, channelID string) ([]*TimelineItem, error) {
	videos, err := r.Videos(ctx, channelID)
	if err != nil {
		return nil, err
	}
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].PublishedAt > videos[j].PublishedAt
	})

	var timeline []*TimelineItem
	for _, v := range videos {
		mentions, err := r.MentionsByVideo(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		if len(mentions) > 0 {
			timeline = append(timeline, &TimelineItem{Video: v, Mentions: mentions})
		}
	}
	return timeline, nil
}

// StockDrilldown returns all mentions of one ticker within a channel, with
// the video each came from.
func (r *ChannelRepository) StockDrilldown(ctx context.Context, channelID, ticker string) ([]*MentionWithVideo, error) {
	videos, err := r.Videos(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var result []*MentionWithVideo
	for _, v := range videos {
		mentions, err := r.MentionsWithTicker(ctx, v.ID, ticker)
		if err != nil {
			return nil, err
		}
		for _, m := range mentions {
			result = append(result, &MentionWithVideo{Mention: m, Video: v})
		}
	}
	return result, nil
}

// Tickers collects the distinct tickers mentioned anywhere under a channel.
func (r *ChannelRepository) Tickers(ctx context.Context, channelID string) ([]string, error) {
	videos, err := r.Videos(ctx, channelID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var tickers []string
	for _, v := range videos {
		mentions, err := r.MentionsByVideo(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range mentions {
			if !seen[m.Ticker] {
				seen[m.Ticker] = true
				tickers = append(tickers, m.Ticker)
			}
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

func mentionSortKey(m *model.StockMention, videos map[string]*model.Video) string {
	if v, ok := videos[m.VideoID]; ok && v.PublishedAt != "" {
		return v.PublishedAt
	}
	return formatTime(m.CreatedAt)
}
