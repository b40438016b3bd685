package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/pipeline"
	"github.com/slijtan/stock-track-record/internal/repository"
	"github.com/slijtan/stock-track-record/internal/store"
	"github.com/slijtan/stock-track-record/pkg/catalog"
)

const (
	defaultTimeRangeMonths = 12
	maxTimeRangeMonths     = 36
	defaultPerPage         = 20
	maxPerPage             = 100
)

type ChannelStore interface {
	Create(ctx context.Context, c *model.Channel) error
	Get(ctx context.Context, channelID string) (*model.Channel, error)
	List(ctx context.Context, page, perPage int) ([]*model.Channel, int, error)
	Delete(ctx context.Context, channelID string) (bool, error)
	Logs(ctx context.Context, channelID, since string) ([]*model.ProcessingLog, error)
	ChannelStocks(ctx context.Context, channelID string) ([]*repository.ChannelStock, error)
	Timeline(ctx context.Context, channelID string) ([]*repository.TimelineItem, error)
	StockDrilldown(ctx context.Context, channelID, ticker string) ([]*repository.MentionWithVideo, error)
	Videos(ctx context.Context, channelID string) ([]*model.Video, error)
	MentionsMissingPriceCount(ctx context.Context, videoID string) (int, error)
}

// Launcher hands a channel off for background processing. The API wires it to
// either a queue push or an in-process goroutine.
type Launcher interface {
	Launch(channelID string)
}

// Canceller flags an active run for cooperative cancellation.
type Canceller interface {
	Cancel(ctx context.Context, channelID string) error
}

// PriceService is the slice of the pipeline the handlers call directly.
type PriceService interface {
	RefreshPrices(ctx context.Context, channelID string) (map[string]decimal.Decimal, error)
	BackfillPrices(ctx context.Context, channelID string) error
}

type ChannelHandler struct {
	repository ChannelStore
	canceller  Canceller
	launcher   Launcher
	prices     PriceService
}

func NewChannelHandler(repository ChannelStore, canceller Canceller, launcher Launcher, prices PriceService) *ChannelHandler {
	return &ChannelHandler{
		repository: repository,
		canceller:  canceller,
		launcher:   launcher,
		prices:     prices,
	}
}

func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var req ChannelCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.TimeRangeMonths == 0 {
		req.TimeRangeMonths = defaultTimeRangeMonths
	}
	if req.TimeRangeMonths < 1 || req.TimeRangeMonths > maxTimeRangeMonths {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_range_months must be between 1 and 36"})
		return
	}

	identifier, idType, err := catalog.ExtractChannelIdentifier(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid YouTube channel URL"})
		return
	}

	channel := &model.Channel{
		// Provisional external id; the real one replaces it once the
		// first run resolves the channel.
		YouTubeChannelID: idType + ":" + identifier,
		Name:             identifier,
		URL:              req.URL,
		Status:           model.StatusPending,
		TimeRangeMonths:  req.TimeRangeMonths,
	}
	if err := h.repository.Create(c.Request.Context(), channel); err != nil {
		if errors.Is(err, repository.ErrDuplicateChannel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Channel already exists"})
			return
		}
		slog.Error("error creating channel", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	h.launcher.Launch(channel.ID)

	c.JSON(http.StatusCreated, channelToResponse(channel))
}

func (h *ChannelHandler) ListChannels(c *gin.Context) {
	page := getQueryInt("page", 1, c)
	if page < 1 {
		page = 1
	}
	perPage := getQueryInt("per_page", defaultPerPage, c)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	channels, total, err := h.repository.List(c.Request.Context(), page, perPage)
	if err != nil {
		slog.Error("error listing channels", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		items = append(items, channelToResponse(ch))
	}

	c.JSON(http.StatusOK, ChannelListResponse{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

func (h *ChannelHandler) GetChannel(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, channelToResponse(channel))
}

func (h *ChannelHandler) DeleteChannel(c *gin.Context) {
	deleted, err := h.repository.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		slog.Error("error deleting channel", "error", err, "channel_id", c.Param("id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChannelHandler) ProcessChannel(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}
	if channel.Status == model.StatusProcessing {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Channel is already processing"})
		return
	}

	h.launcher.Launch(channel.ID)

	c.JSON(http.StatusOK, channelToResponse(channel))
}

func (h *ChannelHandler) CancelChannel(c *gin.Context) {
	channelID := c.Param("id")
	err := h.canceller.Cancel(c.Request.Context(), channelID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return
	case errors.Is(err, pipeline.ErrNotProcessing):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Channel is not processing"})
		return
	case err != nil:
		slog.Error("error cancelling channel", "error", err, "channel_id", channelID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	channel, err := h.repository.Get(c.Request.Context(), channelID)
	if err != nil {
		slog.Error("error fetching channel", "error", err, "channel_id", channelID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, channelToResponse(channel))
}

func (h *ChannelHandler) GetChannelLogs(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}

	logs, err := h.repository.Logs(c.Request.Context(), channel.ID, c.Query("since"))
	if err != nil {
		slog.Error("error fetching logs", "error", err, "channel_id", channel.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	res := LogsResponse{Logs: make([]ProcessingLogResponse, 0, len(logs))}
	for _, l := range logs {
		res.Logs = append(res.Logs, logToResponse(l))
	}
	c.JSON(http.StatusOK, res)
}

func (h *ChannelHandler) GetChannelStocks(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}

	stocks, err := h.repository.ChannelStocks(c.Request.Context(), channel.ID)
	if err != nil {
		slog.Error("error aggregating channel stocks", "error", err, "channel_id", channel.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	res := ChannelStocksResponse{
		ChannelID: channel.ID,
		Stocks:    make([]ChannelStockResponse, 0, len(stocks)),
	}
	for _, s := range stocks {
		res.Stocks = append(res.Stocks, channelStockToResponse(s))
	}
	c.JSON(http.StatusOK, res)
}

func (h *ChannelHandler) GetChannelTimeline(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}

	timeline, err := h.repository.Timeline(c.Request.Context(), channel.ID)
	if err != nil {
		slog.Error("error building timeline", "error", err, "channel_id", channel.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	res := TimelineResponse{Timeline: make([]TimelineItemResponse, 0, len(timeline))}
	for _, item := range timeline {
		entry := TimelineItemResponse{Video: videoToResponse(item.Video)}
		for _, m := range item.Mentions {
			entry.Mentions = append(entry.Mentions, mentionToResponse(m, nil))
		}
		res.Timeline = append(res.Timeline, entry)
	}
	c.JSON(http.StatusOK, res)
}

func (h *ChannelHandler) GetStockDrilldown(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}
	ticker := strings.ToUpper(c.Param("ticker"))

	drilldown, err := h.repository.StockDrilldown(c.Request.Context(), channel.ID, ticker)
	if err != nil {
		slog.Error("error fetching drilldown", "error", err, "channel_id", channel.ID, "ticker", ticker)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	res := StockDrilldownResponse{
		Ticker:    ticker,
		ChannelID: channel.ID,
		Mentions:  make([]StockMentionResponse, 0, len(drilldown)),
	}
	for _, item := range drilldown {
		res.Mentions = append(res.Mentions, mentionToResponse(item.Mention, item.Video))
	}
	c.JSON(http.StatusOK, res)
}

func (h *ChannelHandler) RefreshPrices(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}

	prices, err := h.prices.RefreshPrices(c.Request.Context(), channel.ID)
	if err != nil {
		slog.Error("error refreshing prices", "error", err, "channel_id", channel.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Price refresh failed"})
		return
	}
	if prices == nil {
		prices = map[string]decimal.Decimal{}
	}

	c.JSON(http.StatusOK, BatchPricesResponse{
		Prices:    prices,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *ChannelHandler) BackfillPrices(c *gin.Context) {
	channel, ok := h.loadChannel(c)
	if !ok {
		return
	}

	videos, err := h.repository.Videos(c.Request.Context(), channel.ID)
	if err != nil {
		slog.Error("error listing videos", "error", err, "channel_id", channel.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if len(videos) == 0 {
		c.JSON(http.StatusOK, BackfillResponse{Status: "no_videos"})
		return
	}

	missing := 0
	for _, v := range videos {
		n, err := h.repository.MentionsMissingPriceCount(c.Request.Context(), v.ID)
		if err != nil {
			slog.Error("error counting unpriced mentions", "error", err, "video_id", v.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		missing += n
	}
	if missing == 0 {
		c.JSON(http.StatusOK, BackfillResponse{Status: "complete", Missing: 0})
		return
	}

	channelID := channel.ID
	go func() {
		if err := h.prices.BackfillPrices(context.Background(), channelID); err != nil {
			slog.Error("backfill failed", "error", err, "channel_id", channelID)
		}
	}()

	c.JSON(http.StatusOK, BackfillResponse{Status: "started", Missing: missing})
}

func (h *ChannelHandler) GetHealth(c *gin.Context) {
	if _, _, err := h.repository.List(c.Request.Context(), 1, 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
	})
}

// loadChannel resolves the :id path parameter, writing the 404 itself when
// the channel does not exist.
func (h *ChannelHandler) loadChannel(c *gin.Context) (*model.Channel, bool) {
	channelID := c.Param("id")
	channel, err := h.repository.Get(c.Request.Context(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("error fetching channel", "error", err, "channel_id", channelID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	return channel, true
}
