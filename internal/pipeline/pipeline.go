package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
	"github.com/slijtan/stock-track-record/pkg/catalog"
	"github.com/slijtan/stock-track-record/pkg/llm"
	"github.com/slijtan/stock-track-record/pkg/prices"
	"github.com/slijtan/stock-track-record/pkg/transcript"
)

const (
	defaultPoolSize    = 10
	maxExtractAttempts = 3
	extractBackoff     = 2 * time.Second
)

// Repository is the slice of the query planner the pipeline needs.
type Repository interface {
	Get(ctx context.Context, channelID string) (*model.Channel, error)
	BeginProcessing(ctx context.Context, channelID string) (*model.Channel, error)
	UpdateStatus(ctx context.Context, channelID, status string) (*model.Channel, error)
	SetMetadata(ctx context.Context, channelID, youtubeChannelID, name, thumbnailURL string) error
	SetVideoCounts(ctx context.Context, channelID string, videoCount, processedCount int) error
	IncrementProcessed(ctx context.Context, channelID string) (int, error)
	AddLog(ctx context.Context, channelID, level, message string) (*model.ProcessingLog, error)
	PutVideo(ctx context.Context, v *model.Video) error
	FindVideoByYouTubeID(ctx context.Context, youtubeVideoID string) (*model.Video, error)
	SetVideoStatus(ctx context.Context, channelID, videoID, transcriptStatus, analysisStatus string) error
	Videos(ctx context.Context, channelID string) ([]*model.Video, error)
	PutMention(ctx context.Context, m *model.StockMention) error
	MentionsMissingPrice(ctx context.Context, videoID string) ([]*model.StockMention, error)
	SetMentionPrice(ctx context.Context, videoID, mentionID string, price decimal.Decimal) error
	Tickers(ctx context.Context, channelID string) ([]string, error)
}

// StockStore is the reference-table surface the pipeline needs.
type StockStore interface {
	Get(ctx context.Context, ticker string) (*model.Stock, error)
	Put(ctx context.Context, s *model.Stock) error
	SetPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error
}

type Pipeline struct {
	repo        Repository
	stocks      StockStore
	catalog     catalog.Client
	transcripts transcript.Fetcher
	extractor   llm.Extractor
	prices      prices.Source
	poolSize    int
	sleep       func(time.Duration)
}

func New(repo Repository, stocks StockStore, cat catalog.Client, tx transcript.Fetcher, ex llm.Extractor, pr prices.Source, poolSize int) *Pipeline {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &Pipeline{
		repo:        repo,
		stocks:      stocks,
		catalog:     cat,
		transcripts: tx,
		extractor:   ex,
		prices:      pr,
		poolSize:    poolSize,
		sleep:       time.Sleep,
	}
}

// errCancelled signals the run ended because the channel was cancelled; the
// channel status is already terminal when it is returned.
var errCancelled = errors.New("run cancelled")

// run executes one processing run for a channel that is already in
// processing state. It returns errCancelled when the run was cancelled, a
// run-fatal error when source listing failed, and nil on normal completion.
func (p *Pipeline) run(ctx context.Context, channel *model.Channel) error {
	channelID := channel.ID

	identifier, idType, err := catalog.ExtractChannelIdentifier(channel.URL)
	if err != nil {
		return fmt.Errorf("parse channel URL: %w", err)
	}
	p.log(ctx, channelID, model.LogLevelInfo, fmt.Sprintf("Extracted channel info: %s", identifier))

	p.log(ctx, channelID, model.LogLevelInfo, "Resolving channel ID...")
	resolvedID, err := p.catalog.ResolveChannelID(ctx, identifier, idType)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	name := channel.Name
	if meta, err := p.catalog.ChannelMetadata(ctx, resolvedID); err == nil {
		name = meta.Name
		if err := p.repo.SetMetadata(ctx, channelID, resolvedID, meta.Name, meta.ThumbnailURL); err != nil {
			return fmt.Errorf("store channel metadata: %w", err)
		}
	} else {
		p.log(ctx, channelID, model.LogLevelWarning, fmt.Sprintf("Could not fetch channel metadata: %v", err))
	}
	p.log(ctx, channelID, model.LogLevelInfo, fmt.Sprintf("Channel name: %s", name))

	p.log(ctx, channelID, model.LogLevelInfo,
		fmt.Sprintf("Fetching videos from last %d months...", channel.TimeRangeMonths))
	listed, err := p.catalog.ChannelVideos(ctx, resolvedID, channel.TimeRangeMonths)
	if err != nil {
		return fmt.Errorf("list videos: %w", err)
	}
	p.log(ctx, channelID, model.LogLevelInfo, fmt.Sprintf("Found %d videos", len(listed)))

	if len(listed) == 0 {
		if err := p.repo.SetVideoCounts(ctx, channelID, 0, 0); err != nil {
			return err
		}
		p.log(ctx, channelID, model.LogLevelInfo, "Channel processing complete (no videos)")
		return nil
	}

	// Videos seen in an earlier run count as already settled; the rest get
	// placeholder records before any task starts, so a crashed run can be
	// re-entered without duplicating work.
	var pending []*model.Video
	known := 0
	for _, info := range listed {
		_, err := p.repo.FindVideoByYouTubeID(ctx, info.VideoID)
		if err == nil {
			known++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check existing video: %w", err)
		}
		video := &model.Video{
			ChannelID:        channelID,
			YouTubeVideoID:   info.VideoID,
			Title:            info.Title,
			URL:              info.URL,
			PublishedAt:      publishedDate(info.PublishedAt),
			TranscriptStatus: model.StatusPending,
			AnalysisStatus:   model.StatusPending,
		}
		if err := p.repo.PutVideo(ctx, video); err != nil {
			return fmt.Errorf("store video: %w", err)
		}
		pending = append(pending, video)
	}
	if known > 0 {
		p.log(ctx, channelID, model.LogLevelInfo,
			fmt.Sprintf("Skipping %d already processed videos", known))
	}
	if err := p.repo.SetVideoCounts(ctx, channelID, len(listed), known); err != nil {
		return err
	}

	p.log(ctx, channelID, model.LogLevelInfo,
		fmt.Sprintf("Processing videos in parallel (%d at a time)...", p.poolSize))

	cancelled := p.dispatch(ctx, channelID, pending)
	if cancelled {
		p.log(ctx, channelID, model.LogLevelInfo, "Processing cancelled by user")
		return errCancelled
	}

	channel, err = p.repo.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.Status == model.StatusCancelled {
		p.log(ctx, channelID, model.LogLevelInfo, "Processing cancelled by user")
		return errCancelled
	}

	p.log(ctx, channelID, model.LogLevelInfo,
		fmt.Sprintf("Channel processing complete! Processed %d videos.", channel.ProcessedVideoCount))
	return nil
}

// dispatch feeds per-video tasks to a bounded worker pool. Cancellation is
// cooperative: it is observed between dispatches, in-flight tasks run to
// completion, and no new task starts after the flag is seen.
func (p *Pipeline) dispatch(ctx context.Context, channelID string, videos []*model.Video) (cancelled bool) {
	jobs := make(chan *model.Video)
	var wg sync.WaitGroup
	for i := 0; i < p.poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for video := range jobs {
				p.runTask(ctx, channelID, video)
			}
		}()
	}

	for _, video := range videos {
		if ctx.Err() != nil || p.isCancelled(ctx, channelID) {
			cancelled = true
			break
		}
		jobs <- video
	}
	close(jobs)
	wg.Wait()
	return cancelled
}

func (p *Pipeline) isCancelled(ctx context.Context, channelID string) bool {
	channel, err := p.repo.Get(ctx, channelID)
	if err != nil {
		slog.Error("cancellation check failed", "channel_id", channelID, "error", err)
		return false
	}
	return channel.Status == model.StatusCancelled
}

// runTask processes one video end to end. Per-video failures never abort the
// run; each settles the task with a counter bump and an outcome log entry.
func (p *Pipeline) runTask(ctx context.Context, channelID string, video *model.Video) {
	defer p.settle(ctx, channelID)

	p.log(ctx, channelID, model.LogLevelInfo, fmt.Sprintf("Processing: %q", truncate(video.Title, 50)))

	text, err := p.transcripts.Fetch(ctx, video.YouTubeVideoID)
	if err != nil {
		msg := fmt.Sprintf("No transcript available for %q, skipping", truncate(video.Title, 40))
		if !errors.Is(err, transcript.ErrUnavailable) {
			msg = fmt.Sprintf("Transcript fetch failed for %q: %v", truncate(video.Title, 40), err)
		}
		p.log(ctx, channelID, model.LogLevelWarning, msg)
		p.setVideoStatus(ctx, channelID, video.ID, model.StatusFailed, "")
		return
	}
	p.setVideoStatus(ctx, channelID, video.ID, "fetched", "")

	picks, err := p.extract(ctx, llm.ExtractInput{VideoURL: video.URL, Transcript: text})
	if err != nil {
		p.log(ctx, channelID, model.LogLevelWarning,
			fmt.Sprintf("Analysis failed for %q: %v", truncate(video.Title, 40), err))
		p.setVideoStatus(ctx, channelID, video.ID, "", model.StatusFailed)
		return
	}
	p.setVideoStatus(ctx, channelID, video.ID, "", model.StatusCompleted)

	if len(picks) == 0 {
		p.log(ctx, channelID, model.LogLevelInfo,
			fmt.Sprintf("No stock mentions found in: %s", truncate(video.Title, 40)))
		return
	}

	saved := 0
	for _, pick := range picks {
		if !prices.IsValidUSTicker(pick.Ticker) {
			p.log(ctx, channelID, model.LogLevelWarning,
				fmt.Sprintf("Discarding invalid ticker %q", pick.Ticker))
			continue
		}

		p.ensureStock(ctx, pick.Ticker)

		mention := &model.StockMention{
			VideoID:        video.ID,
			Ticker:         pick.Ticker,
			Sentiment:      pick.Sentiment,
			ContextSnippet: pick.Context,
			PublishedAt:    video.PublishedAt,
		}
		if day, err := time.Parse("2006-01-02", video.PublishedAt); err == nil {
			if price, err := p.prices.DailyClose(ctx, pick.Ticker, day); err == nil {
				mention.PriceAtMention = &price
			} else if !errors.Is(err, prices.ErrPriceNotFound) {
				p.log(ctx, channelID, model.LogLevelWarning,
					fmt.Sprintf("Price lookup failed for %s on %s: %v", pick.Ticker, video.PublishedAt, err))
			}
		}
		if err := p.repo.PutMention(ctx, mention); err != nil {
			p.log(ctx, channelID, model.LogLevelWarning,
				fmt.Sprintf("Could not store mention of %s: %v", pick.Ticker, err))
			continue
		}
		saved++
	}

	p.log(ctx, channelID, model.LogLevelInfo,
		fmt.Sprintf("Found %d stock mentions in: %s", saved, truncate(video.Title, 40)))
}

// extract calls the extraction service with bounded retries and exponential
// backoff. A nil pick list is a valid empty extraction, not a failure.
func (p *Pipeline) extract(ctx context.Context, input llm.ExtractInput) ([]llm.StockPick, error) {
	var lastErr error
	for attempt := 0; attempt < maxExtractAttempts; attempt++ {
		if attempt > 0 {
			p.sleep(extractBackoff << (attempt - 1))
		}
		picks, err := p.extractor.Extract(ctx, input)
		if err == nil {
			return picks, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("extraction failed after %d attempts: %w", maxExtractAttempts, lastErr)
}

// ensureStock creates the shared reference row for a ticker the first time
// any run encounters it.
func (p *Pipeline) ensureStock(ctx context.Context, ticker string) {
	_, err := p.stocks.Get(ctx, ticker)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Error("stock lookup failed", "ticker", ticker, "error", err)
		return
	}

	stock := &model.Stock{Ticker: ticker, Name: ticker, Exchange: "NYSE"}
	if info, err := p.prices.Info(ctx, ticker); err == nil {
		stock.Name = info.Name
		stock.Exchange = info.Exchange
	}
	if err := p.stocks.Put(ctx, stock); err != nil {
		slog.Error("stock create failed", "ticker", ticker, "error", err)
	}
}

func (p *Pipeline) settle(ctx context.Context, channelID string) {
	if _, err := p.repo.IncrementProcessed(ctx, channelID); err != nil {
		slog.Error("progress update failed", "channel_id", channelID, "error", err)
	}
}

func (p *Pipeline) setVideoStatus(ctx context.Context, channelID, videoID, transcriptStatus, analysisStatus string) {
	if err := p.repo.SetVideoStatus(ctx, channelID, videoID, transcriptStatus, analysisStatus); err != nil {
		slog.Error("video status update failed", "video_id", videoID, "error", err)
	}
}

func (p *Pipeline) log(ctx context.Context, channelID, level, message string) {
	if _, err := p.repo.AddLog(ctx, channelID, level, message); err != nil {
		slog.Error("processing log write failed", "channel_id", channelID, "error", err)
	}
}

// publishedDate reduces an RFC3339 timestamp to its date. Unparseable input
// falls back to today so the record is still usable.
func publishedDate(published string) string {
	if t, err := time.Parse(time.RFC3339, published); err == nil {
		return t.UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", published); err == nil {
		return published
	}
	return time.Now().UTC().Format("2006-01-02")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
