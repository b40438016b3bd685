package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
)

// StockRepository owns the single-key reference table of stocks plus the
// cross-channel ticker index on the main table.
type StockRepository struct {
	kv          KV
	table       string
	stocksTable string
}

func NewStockRepository(kv KV, table, stocksTable string) *StockRepository {
	return &StockRepository{kv: kv, table: table, stocksTable: stocksTable}
}

func (r *StockRepository) Get(ctx context.Context, ticker string) (*model.Stock, error) {
	item, err := r.kv.Get(ctx, r.stocksTable, stockKey(ticker))
	if err != nil {
		return nil, err
	}
	return decodeStock(item), nil
}

func (r *StockRepository) Put(ctx context.Context, s *model.Stock) error {
	return r.kv.Put(ctx, r.stocksTable, encodeStock(s))
}

func (r *StockRepository) SetPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error {
	_, err := r.kv.Update(ctx, r.stocksTable, stockKey(ticker), store.Item{
		"last_price":       num(price.String()),
		"price_updated_at": str(formatTime(at)),
	})
	return err
}

// MentionsByTicker returns every mention of one ticker across all channels,
// ordered by the video publication date. Single index query, no table scan.
func (r *StockRepository) MentionsByTicker(ctx context.Context, ticker string) ([]*model.StockMention, error) {
	items, err := r.kv.QueryAll(ctx, store.Query{
		Table:        r.table,
		Index:        gsi1,
		Partition:    "GSI1PK",
		PartitionVal: tickerPrefix + ticker,
		Sort:         "GSI1SK",
	})
	if err != nil {
		return nil, fmt.Errorf("mentions by ticker: %w", err)
	}
	mentions := make([]*model.StockMention, 0, len(items))
	for _, item := range items {
		mentions = append(mentions, decodeMention(item))
	}
	return mentions, nil
}
