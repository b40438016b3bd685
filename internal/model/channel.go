package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

const (
	SentimentBuy       = "buy"
	SentimentHold      = "hold"
	SentimentSell      = "sell"
	SentimentMentioned = "mentioned"
)

const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

type Channel struct {
	ID                  string
	YouTubeChannelID    string
	Name                string
	URL                 string
	ThumbnailURL        string
	Status              string
	VideoCount          int
	ProcessedVideoCount int
	TimeRangeMonths     int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Video struct {
	ID               string
	ChannelID        string
	YouTubeVideoID   string
	Title            string
	URL              string
	PublishedAt      string // date only, YYYY-MM-DD
	TranscriptStatus string
	AnalysisStatus   string
	CreatedAt        time.Time
}

type Stock struct {
	Ticker         string
	Name           string
	Exchange       string
	LastPrice      *decimal.Decimal
	PriceUpdatedAt time.Time
}

type StockMention struct {
	ID              string
	VideoID         string
	Ticker          string
	Sentiment       string
	PriceAtMention  *decimal.Decimal
	ConfidenceScore *decimal.Decimal
	ContextSnippet  string
	CreatedAt       time.Time
	// Denormalized from the parent video so mentions can be listed
	// per ticker in publication order.
	PublishedAt string
}

type ProcessingLog struct {
	ID        string
	ChannelID string
	Level     string
	Message   string
	CreatedAt time.Time
}
