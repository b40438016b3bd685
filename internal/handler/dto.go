package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/repository"
)

type ChannelCreateRequest struct {
	URL             string `json:"url" binding:"required"`
	TimeRangeMonths int    `json:"time_range_months"`
}

type ChannelResponse struct {
	ID                  string `json:"id"`
	YouTubeChannelID    string `json:"youtube_channel_id"`
	Name                string `json:"name"`
	URL                 string `json:"url"`
	ThumbnailURL        string `json:"thumbnail_url,omitempty"`
	Status              string `json:"status"`
	VideoCount          int    `json:"video_count"`
	ProcessedVideoCount int    `json:"processed_video_count"`
	TimeRangeMonths     int    `json:"time_range_months"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

type ChannelListResponse struct {
	Items   []ChannelResponse `json:"items"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

type ProcessingLogResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	LogLevel  string `json:"log_level"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type LogsResponse struct {
	Logs []ProcessingLogResponse `json:"logs"`
}

type VideoResponse struct {
	ID               string `json:"id"`
	ChannelID        string `json:"channel_id"`
	YouTubeVideoID   string `json:"youtube_video_id"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	PublishedAt      string `json:"published_at"`
	TranscriptStatus string `json:"transcript_status"`
	AnalysisStatus   string `json:"analysis_status"`
	CreatedAt        string `json:"created_at"`
}

type StockMentionResponse struct {
	ID              string           `json:"id"`
	VideoID         string           `json:"video_id"`
	Ticker          string           `json:"ticker"`
	Sentiment       string           `json:"sentiment"`
	PriceAtMention  *decimal.Decimal `json:"price_at_mention,omitempty"`
	ConfidenceScore *decimal.Decimal `json:"confidence_score,omitempty"`
	ContextSnippet  string           `json:"context_snippet,omitempty"`
	CreatedAt       string           `json:"created_at"`
	Video           *VideoResponse   `json:"video,omitempty"`
}

type ChannelStockResponse struct {
	Ticker                 string           `json:"ticker"`
	Name                   string           `json:"name,omitempty"`
	FirstMentionDate       string           `json:"first_mention_date"`
	FirstMentionVideoID    string           `json:"first_mention_video_id"`
	FirstMentionVideoTitle string           `json:"first_mention_video_title"`
	PriceAtFirstMention    *decimal.Decimal `json:"price_at_first_mention,omitempty"`
	CurrentPrice           *decimal.Decimal `json:"current_price,omitempty"`
	PriceChangePercent     *decimal.Decimal `json:"price_change_percent,omitempty"`
	BuyCount               int              `json:"buy_count"`
	HoldCount              int              `json:"hold_count"`
	SellCount              int              `json:"sell_count"`
	MentionedCount         int              `json:"mentioned_count"`
	TotalMentions          int              `json:"total_mentions"`
	YahooFinanceURL        string           `json:"yahoo_finance_url"`
}

type ChannelStocksResponse struct {
	ChannelID string                 `json:"channel_id"`
	Stocks    []ChannelStockResponse `json:"stocks"`
}

type TimelineItemResponse struct {
	Video    VideoResponse          `json:"video"`
	Mentions []StockMentionResponse `json:"mentions"`
}

type TimelineResponse struct {
	Timeline []TimelineItemResponse `json:"timeline"`
}

type StockDrilldownResponse struct {
	Ticker    string                 `json:"ticker"`
	ChannelID string                 `json:"channel_id"`
	Mentions  []StockMentionResponse `json:"mentions"`
}

type StockPriceResponse struct {
	Ticker    string           `json:"ticker"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	UpdatedAt string           `json:"updated_at,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type BatchPricesResponse struct {
	Prices    map[string]decimal.Decimal `json:"prices"`
	UpdatedAt string                     `json:"updated_at"`
}

type BackfillResponse struct {
	Status  string `json:"status"`
	Missing int    `json:"missing"`
}

type TickerMentionsResponse struct {
	Ticker   string                 `json:"ticker"`
	Mentions []StockMentionResponse `json:"mentions"`
}

func channelToResponse(c *model.Channel) ChannelResponse {
	return ChannelResponse{
		ID:                  c.ID,
		YouTubeChannelID:    c.YouTubeChannelID,
		Name:                c.Name,
		URL:                 c.URL,
		ThumbnailURL:        c.ThumbnailURL,
		Status:              c.Status,
		VideoCount:          c.VideoCount,
		ProcessedVideoCount: c.ProcessedVideoCount,
		TimeRangeMonths:     c.TimeRangeMonths,
		CreatedAt:           c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           c.UpdatedAt.Format(time.RFC3339),
	}
}

func videoToResponse(v *model.Video) VideoResponse {
	return VideoResponse{
		ID:               v.ID,
		ChannelID:        v.ChannelID,
		YouTubeVideoID:   v.YouTubeVideoID,
		Title:            v.Title,
		URL:              v.URL,
		PublishedAt:      v.PublishedAt,
		TranscriptStatus: v.TranscriptStatus,
		AnalysisStatus:   v.AnalysisStatus,
		CreatedAt:        v.CreatedAt.Format(time.RFC3339),
	}
}

func mentionToResponse(m *model.StockMention, v *model.Video) StockMentionResponse {
	res := StockMentionResponse{
		ID:              m.ID,
		VideoID:         m.VideoID,
		Ticker:          m.Ticker,
		Sentiment:       m.Sentiment,
		PriceAtMention:  m.PriceAtMention,
		ConfidenceScore: m.ConfidenceScore,
		ContextSnippet:  m.ContextSnippet,
		CreatedAt:       m.CreatedAt.Format(time.RFC3339),
	}
	if v != nil {
		video := videoToResponse(v)
		res.Video = &video
	}
	return res
}

func channelStockToResponse(s *repository.ChannelStock) ChannelStockResponse {
	return ChannelStockResponse{
		Ticker:                 s.Ticker,
		Name:                   s.Name,
		FirstMentionDate:       s.FirstMentionDate,
		FirstMentionVideoID:    s.FirstMentionVideoID,
		FirstMentionVideoTitle: s.FirstMentionVideoTitle,
		PriceAtFirstMention:    s.PriceAtFirstMention,
		CurrentPrice:           s.CurrentPrice,
		PriceChangePercent:     s.PriceChangePercent,
		BuyCount:               s.BuyCount,
		HoldCount:              s.HoldCount,
		SellCount:              s.SellCount,
		MentionedCount:         s.MentionedCount,
		TotalMentions:          s.TotalMentions,
		YahooFinanceURL:        "https://finance.yahoo.com/quote/" + s.Ticker,
	}
}

func logToResponse(l *model.ProcessingLog) ProcessingLogResponse {
	return ProcessingLogResponse{
		ID:        l.ID,
		ChannelID: l.ChannelID,
		LogLevel:  l.Level,
		Message:   l.Message,
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
	}
}
