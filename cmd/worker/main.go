package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/slijtan/stock-track-record/db"
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

	err := db.ConnectRedis(ctx)
	if err != nil {
		log.Fatalf("error connecting to Redis: %v", err)
	}
	defer db.CloseRedis()

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

	for {
		channelID, err := db.PopFromQueue(ctx, db.ProcessQueueKey, 0)
		if err != nil {
			slog.Error("error popping from Redis queue", "error", err)
			break
		}

		slog.Info("processing channel", "channel_id", channelID)

		err = controller.Run(ctx, channelID)
		switch {
		case errors.Is(err, pipeline.ErrAlreadyProcessing):
			slog.Warn("channel already processing, skipping", "channel_id", channelID)
		case errors.Is(err, store.ErrNotFound):
			slog.Warn("channel not found, skipping", "channel_id", channelID)
		case err != nil:
			slog.Error("processing run failed", "channel_id", channelID, "error", err)
		default:
			slog.Info("channel processed", "channel_id", channelID)
		}
	}
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
