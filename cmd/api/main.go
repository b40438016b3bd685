package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/slijtan/stock-track-record/db"
	"github.com/slijtan/stock-track-record/internal/handler"
	"github.com/slijtan/stock-track-record/internal/pipeline"
	"github.com/slijtan/stock-track-record/internal/repository"
	"github.com/slijtan/stock-track-record/internal/store"
	"github.com/slijtan/stock-track-record/pkg/catalog"
	"github.com/slijtan/stock-track-record/pkg/llm"
	"github.com/slijtan/stock-track-record/pkg/prices"
	"github.com/slijtan/stock-track-record/pkg/transcript"
)

func main() {

	godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx := context.Background()

	client, err := db.ConnectDynamo(ctx)
	if err != nil {
		log.Fatalf("error connecting to DynamoDB: %v", err)
	}
	if err := db.EnsureTables(ctx, client); err != nil {
		log.Fatalf("error creating tables: %v", err)
	}

	kv := store.New(client)
	channelRepo := repository.NewChannelRepository(kv, db.MainTable(), db.StocksTable())
	stockRepo := repository.NewStockRepository(kv, db.MainTable(), db.StocksTable())

	youtubeClient, err := catalog.NewYouTubeClient(ctx, os.Getenv("YOUTUBE_API_KEY"))
	if err != nil {
		log.Fatalf("error creating YouTube client: %v", err)
	}
	transcripts := transcript.NewClient(os.Getenv("TRANSCRIPT_API_URL"))
	extractor, err := buildExtractor(ctx)
	if err != nil {
		log.Fatalf("error creating extraction client: %v", err)
	}
	priceService := prices.NewService(
		prices.NewFinnhubClient(os.Getenv("FINNHUB_API_KEY")),
		prices.NewAlphaVantageClient(os.Getenv("ALPHAVANTAGE_API_KEY")),
	)

	pipe := pipeline.New(channelRepo, stockRepo, youtubeClient, transcripts, extractor, priceService, poolSize())
	controller := pipeline.NewController(channelRepo, pipe)

	var launcher handler.Launcher = &localLauncher{controller: controller}
	if os.Getenv("REDIS_URL") != "" {
		if err := db.ConnectRedis(ctx); err != nil {
			log.Fatalf("error connecting to Redis: %v", err)
		}
		defer db.CloseRedis()
		launcher = &queueLauncher{}
	}

	channelHandler := handler.NewChannelHandler(channelRepo, controller, launcher, pipe)
	stockHandler := handler.NewStockHandler(stockRepo, priceService)

	r := gin.Default()

	allowedOrigins := []string{"http://localhost:3000"}

	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	slog.Info("AllowOrigins URL:", "urls", allowedOrigins)

	r.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	r.POST("/channels", channelHandler.CreateChannel)
	r.GET("/channels", channelHandler.ListChannels)
	r.GET("/channels/:id", channelHandler.GetChannel)
	r.DELETE("/channels/:id", channelHandler.DeleteChannel)
	r.POST("/channels/:id/process", channelHandler.ProcessChannel)
	r.POST("/channels/:id/cancel", channelHandler.CancelChannel)
	r.GET("/channels/:id/logs", channelHandler.GetChannelLogs)
	r.GET("/channels/:id/stocks", channelHandler.GetChannelStocks)
	r.GET("/channels/:id/stocks/:ticker", channelHandler.GetStockDrilldown)
	r.GET("/channels/:id/timeline", channelHandler.GetChannelTimeline)
	r.POST("/channels/:id/refresh-prices", channelHandler.RefreshPrices)
	r.POST("/channels/:id/backfill-prices", channelHandler.BackfillPrices)
	r.GET("/stocks/:ticker/price", stockHandler.GetPrice)
	r.GET("/stocks/:ticker/mentions", stockHandler.GetMentions)
	r.GET("/health", channelHandler.GetHealth)

	err = r.Run(":8080")
	if err != nil {
		log.Fatalf("error starting server: %v", err)
	}
}

// queueLauncher hands runs to the worker via Redis.
type queueLauncher struct{}

func (queueLauncher) Launch(channelID string) {
	if err := db.PushToQueue(context.Background(), db.ProcessQueueKey, channelID); err != nil {
		slog.Error("error queueing channel", "channel_id", channelID, "error", err)
	}
}

// localLauncher runs processing in-process when no queue is configured.
type localLauncher struct {
	controller *pipeline.Controller
}

func (l *localLauncher) Launch(channelID string) {
	go func() {
		if err := l.controller.Run(context.Background(), channelID); err != nil {
			slog.Error("processing run failed", "channel_id", channelID, "error", err)
		}
	}()
}

func buildExtractor(ctx context.Context) (llm.Extractor, error) {
	provider := os.Getenv("LLM_PROVIDER")
	switch provider {
	case "", "gemini":
		return llm.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"))
	case "openai":
		return llm.NewOpenAIClient(os.Getenv("OPENAI_API_KEY")), nil
	case "anthropic":
		return llm.NewAnthropicClient(os.Getenv("ANTHROPIC_API_KEY")), nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
}

func poolSize() int {
	raw := os.Getenv("POOL_SIZE")
	if raw == "" {
		return 0
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid POOL_SIZE, using default", "value", raw, "error", err)
		return 0
	}
	return size
}
