package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
	"github.com/slijtan/stock-track-record/pkg/catalog"
	"github.com/slijtan/stock-track-record/pkg/llm"
	"github.com/slijtan/stock-track-record/pkg/prices"
	"github.com/slijtan/stock-track-record/pkg/transcript"
)

// fakeRepo is an in-memory Repository safe for the worker pool's concurrent
// writes. cancelAfterGets, when positive, flips the channel to cancelled once
// that many Get calls have happened.
type fakeRepo struct {
	mu              sync.Mutex
	channel         model.Channel
	videos          []*model.Video
	mentions        []*model.StockMention
	logs            []string
	getCalls        int
	cancelAfterGets int
	nextID          int
}

func newFakeRepo(ch model.Channel) *fakeRepo {
	return &fakeRepo{channel: ch}
}

func (f *fakeRepo) Get(ctx context.Context, channelID string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.cancelAfterGets > 0 && f.getCalls >= f.cancelAfterGets {
		f.channel.Status = model.StatusCancelled
	}
	ch := f.channel
	return &ch, nil
}

func (f *fakeRepo) BeginProcessing(ctx context.Context, channelID string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channel.Status == model.StatusProcessing {
		return nil, store.ErrConditionFailed
	}
	f.channel.Status = model.StatusProcessing
	ch := f.channel
	return &ch, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, channelID, status string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel.Status = status
	ch := f.channel
	return &ch, nil
}

func (f *fakeRepo) SetMetadata(ctx context.Context, channelID, youtubeChannelID, name, thumbnailURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel.YouTubeChannelID = youtubeChannelID
	f.channel.Name = name
	f.channel.ThumbnailURL = thumbnailURL
	return nil
}

func (f *fakeRepo) SetVideoCounts(ctx context.Context, channelID string, videoCount, processedCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel.VideoCount = videoCount
	f.channel.ProcessedVideoCount = processedCount
	return nil
}

func (f *fakeRepo) IncrementProcessed(ctx context.Context, channelID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channel.ProcessedVideoCount < f.channel.VideoCount {
		f.channel.ProcessedVideoCount++
	}
	return f.channel.ProcessedVideoCount, nil
}

func (f *fakeRepo) AddLog(ctx context.Context, channelID, level, message string) (*model.ProcessingLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, level+": "+message)
	return &model.ProcessingLog{ChannelID: channelID, Level: level, Message: message}, nil
}

func (f *fakeRepo) PutVideo(ctx context.Context, v *model.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.ID == "" {
		f.nextID++
		v.ID = "video-" + string(rune('a'+f.nextID))
	}
	f.videos = append(f.videos, v)
	return nil
}

func (f *fakeRepo) FindVideoByYouTubeID(ctx context.Context, youtubeVideoID string) (*model.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.videos {
		if v.YouTubeVideoID == youtubeVideoID {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRepo) SetVideoStatus(ctx context.Context, channelID, videoID, transcriptStatus, analysisStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.videos {
		if v.ID == videoID {
			if transcriptStatus != "" {
				v.TranscriptStatus = transcriptStatus
			}
			if analysisStatus != "" {
				v.AnalysisStatus = analysisStatus
			}
		}
	}
	return nil
}

func (f *fakeRepo) Videos(ctx context.Context, channelID string) ([]*model.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Video(nil), f.videos...), nil
}

func (f *fakeRepo) PutMention(ctx context.Context, m *model.StockMention) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == "" {
		f.nextID++
		m.ID = "mention-" + string(rune('a'+f.nextID))
	}
	f.mentions = append(f.mentions, m)
	return nil
}

func (f *fakeRepo) MentionsMissingPrice(ctx context.Context, videoID string) ([]*model.StockMention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.StockMention
	for _, m := range f.mentions {
		if m.VideoID == videoID && m.PriceAtMention == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetMentionPrice(ctx context.Context, videoID, mentionID string, price decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mentions {
		if m.ID == mentionID {
			p := price
			m.PriceAtMention = &p
		}
	}
	return nil
}

func (f *fakeRepo) Tickers(ctx context.Context, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var tickers []string
	for _, m := range f.mentions {
		if !seen[m.Ticker] {
			seen[m.Ticker] = true
			tickers = append(tickers, m.Ticker)
		}
	}
	return tickers, nil
}

func (f *fakeRepo) hasLog(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

type fakeStocks struct {
	mu     sync.Mutex
	stocks map[string]*model.Stock
}

func newFakeStocks() *fakeStocks {
	return &fakeStocks{stocks: map[string]*model.Stock{}}
}

func (f *fakeStocks) Get(ctx context.Context, ticker string) (*model.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stocks[ticker]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStocks) Put(ctx context.Context, s *model.Stock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stocks[s.Ticker] = s
	return nil
}

func (f *fakeStocks) SetPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stocks[ticker]
	if !ok {
		s = &model.Stock{Ticker: ticker}
		f.stocks[ticker] = s
	}
	s.LastPrice = &price
	s.PriceUpdatedAt = at
	return nil
}

type fakeCatalog struct {
	videos  []catalog.VideoInfo
	listErr error
}

func (f *fakeCatalog) ResolveChannelID(ctx context.Context, identifier, idType string) (string, error) {
	return "UCresolved", nil
}

func (f *fakeCatalog) ChannelMetadata(ctx context.Context, channelID string) (*catalog.ChannelInfo, error) {
	return &catalog.ChannelInfo{ChannelID: channelID, Name: "Some Creator", ThumbnailURL: "https://img.example/t.jpg"}, nil
}

func (f *fakeCatalog) ChannelVideos(ctx context.Context, channelID string, monthsBack int) ([]catalog.VideoInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.videos, nil
}

type fakeTranscripts struct {
	unavailable map[string]bool
}

func (f *fakeTranscripts) Fetch(ctx context.Context, videoID string) (string, error) {
	if f.unavailable[videoID] {
		return "", transcript.ErrUnavailable
	}
	return "transcript for " + videoID, nil
}

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	failures int
	picks    []llm.StockPick
}

func (f *fakeExtractor) Extract(ctx context.Context, input llm.ExtractInput) ([]llm.StockPick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("model overloaded")
	}
	return f.picks, nil
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePrices struct {
	mu       sync.Mutex
	quote    decimal.Decimal
	quoteErr error
	close    decimal.Decimal
	closeErr error
	quotes   int
}

func (f *fakePrices) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes++
	return f.quote, f.quoteErr
}

func (f *fakePrices) DailyClose(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.close, f.closeErr
}

func (f *fakePrices) Info(ctx context.Context, ticker string) (*prices.StockInfo, error) {
	return &prices.StockInfo{Ticker: ticker, Name: ticker + " Inc", Exchange: "NASDAQ"}, nil
}

func video(id string) catalog.VideoInfo {
	return catalog.VideoInfo{
		VideoID:     id,
		Title:       "video " + id,
		URL:         "https://youtube.com/watch?v=" + id,
		PublishedAt: "2026-01-15T10:00:00Z",
	}
}

func newTestPipeline(repo *fakeRepo, cat catalog.Client, tx transcript.Fetcher, ex llm.Extractor, pr prices.Source) (*Pipeline, *fakeStocks) {
	stocks := newFakeStocks()
	p := New(repo, stocks, cat, tx, ex, pr, 2)
	p.sleep = func(time.Duration) {}
	return p, stocks
}

func pendingChannel() model.Channel {
	return model.Channel{
		ID:              "ch-1",
		URL:             "https://youtube.com/@somecreator",
		Status:          model.StatusPending,
		TimeRangeMonths: 12,
	}
}

func TestRun_ProcessesAllVideos(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	cat := &fakeCatalog{videos: []catalog.VideoInfo{video("v1"), video("v2"), video("v3")}}
	tx := &fakeTranscripts{unavailable: map[string]bool{"v2": true}}
	ex := &fakeExtractor{picks: []llm.StockPick{{Ticker: "AAPL", Sentiment: "buy", Context: "owns it"}}}
	pr := &fakePrices{close: decimal.RequireFromString("187.20")}
	p, stocks := newTestPipeline(repo, cat, tx, ex, pr)
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	assert.Equal(t, err, nil)

	assert.Equal(t, repo.channel.Status, model.StatusCompleted)
	assert.Equal(t, repo.channel.VideoCount, 3)
	// Every task settles the counter, including the transcript-less one.
	assert.Equal(t, repo.channel.ProcessedVideoCount, 3)
	assert.Equal(t, repo.channel.Name, "Some Creator")

	// Two videos analyzed, one skipped with its transcript marked failed.
	assert.Equal(t, ex.callCount(), 2)
	assert.Equal(t, len(repo.mentions), 2)
	assert.Equal(t, repo.mentions[0].PriceAtMention.String(), "187.2")
	assert.Equal(t, repo.hasLog("No transcript available"), true)

	for _, v := range repo.videos {
		if v.YouTubeVideoID == "v2" {
			assert.Equal(t, v.TranscriptStatus, model.StatusFailed)
		} else {
			assert.Equal(t, v.AnalysisStatus, model.StatusCompleted)
		}
	}

	// The shared stock row was created from the info source.
	s, err := stocks.Get(context.Background(), "AAPL")
	assert.Equal(t, err, nil)
	assert.Equal(t, s.Name, "AAPL Inc")
}

func TestRun_SkipsAlreadyKnownVideos(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	repo.videos = append(repo.videos, &model.Video{
		ID: "existing", ChannelID: "ch-1", YouTubeVideoID: "v1",
		TranscriptStatus: "fetched", AnalysisStatus: model.StatusCompleted,
	})
	cat := &fakeCatalog{videos: []catalog.VideoInfo{video("v1"), video("v2")}}
	ex := &fakeExtractor{}
	p, _ := newTestPipeline(repo, cat, &fakeTranscripts{}, ex, &fakePrices{closeErr: prices.ErrPriceNotFound})
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	assert.Equal(t, err, nil)

	// Only the unseen video ran; the known one still counts toward progress.
	assert.Equal(t, ex.callCount(), 1)
	assert.Equal(t, len(repo.videos), 2)
	assert.Equal(t, repo.channel.VideoCount, 2)
	assert.Equal(t, repo.channel.ProcessedVideoCount, 2)
	assert.Equal(t, repo.hasLog("Skipping 1 already processed videos"), true)
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	// Get #1 clears the first dispatch; #2 (the second dispatch check)
	// observes the cancellation.
	repo.cancelAfterGets = 2
	cat := &fakeCatalog{videos: []catalog.VideoInfo{video("v1"), video("v2"), video("v3"), video("v4"), video("v5")}}
	ex := &fakeExtractor{}
	stocks := newFakeStocks()
	p := New(repo, stocks, cat, &fakeTranscripts{}, ex, &fakePrices{closeErr: prices.ErrPriceNotFound}, 1)
	p.sleep = func(time.Duration) {}
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	assert.Equal(t, err, nil)

	assert.Equal(t, repo.channel.Status, model.StatusCancelled)
	assert.Equal(t, repo.hasLog("Processing cancelled by user"), true)
	// Only the task dispatched before the flag was seen settled.
	assert.Equal(t, repo.channel.ProcessedVideoCount, 1)
	assert.Equal(t, ex.callCount(), 1)
}

func TestRun_ListingFailureMarksFailed(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	cat := &fakeCatalog{listErr: errors.New("quota exceeded")}
	p, _ := newTestPipeline(repo, cat, &fakeTranscripts{}, &fakeExtractor{}, &fakePrices{})
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	if err == nil {
		t.Fatal("expected run to fail")
	}
	assert.Equal(t, repo.channel.Status, model.StatusFailed)
	assert.Equal(t, repo.hasLog("Error processing channel"), true)
}

func TestRun_RefusesConcurrentRun(t *testing.T) {
	ch := pendingChannel()
	ch.Status = model.StatusProcessing
	repo := newFakeRepo(ch)
	p, _ := newTestPipeline(repo, &fakeCatalog{}, &fakeTranscripts{}, &fakeExtractor{}, &fakePrices{})
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	assert.Equal(t, errors.Is(err, ErrAlreadyProcessing), true)
}

func TestCancel_RequiresActiveRun(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	p, _ := newTestPipeline(repo, &fakeCatalog{}, &fakeTranscripts{}, &fakeExtractor{}, &fakePrices{})
	c := NewController(repo, p)

	err := c.Cancel(context.Background(), "ch-1")
	assert.Equal(t, errors.Is(err, ErrNotProcessing), true)

	_, err = repo.UpdateStatus(context.Background(), "ch-1", model.StatusProcessing)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Cancel(context.Background(), "ch-1"), nil)
	assert.Equal(t, repo.channel.Status, model.StatusCancelled)
}

func TestRun_DiscardsInvalidTickers(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	cat := &fakeCatalog{videos: []catalog.VideoInfo{video("v1")}}
	ex := &fakeExtractor{picks: []llm.StockPick{
		{Ticker: "AAPL", Sentiment: "buy"},
		{Ticker: "TOOLONG99", Sentiment: "buy"},
	}}
	p, _ := newTestPipeline(repo, cat, &fakeTranscripts{}, ex, &fakePrices{closeErr: prices.ErrPriceNotFound})
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(repo.mentions), 1)
	assert.Equal(t, repo.mentions[0].Ticker, "AAPL")
	assert.Equal(t, repo.hasLog("Discarding invalid ticker"), true)
}

func TestRun_ExtractionRetriesThenSucceeds(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	cat := &fakeCatalog{videos: []catalog.VideoInfo{video("v1")}}
	ex := &fakeExtractor{failures: 2, picks: []llm.StockPick{{Ticker: "NVDA", Sentiment: "buy"}}}
	p, _ := newTestPipeline(repo, cat, &fakeTranscripts{}, ex, &fakePrices{closeErr: prices.ErrPriceNotFound})
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, ex.callCount(), 3)
	assert.Equal(t, len(repo.mentions), 1)
	assert.Equal(t, repo.channel.Status, model.StatusCompleted)
}

func TestRun_ExtractionExhaustedMarksAnalysisFailed(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	cat := &fakeCatalog{videos: []catalog.VideoInfo{video("v1")}}
	ex := &fakeExtractor{failures: 10}
	p, _ := newTestPipeline(repo, cat, &fakeTranscripts{}, ex, &fakePrices{})
	c := NewController(repo, p)

	err := c.Run(context.Background(), "ch-1")
	assert.Equal(t, err, nil)

	assert.Equal(t, ex.callCount(), 3)
	assert.Equal(t, len(repo.mentions), 0)
	assert.Equal(t, repo.videos[0].AnalysisStatus, model.StatusFailed)
	// A failed video still settles the run.
	assert.Equal(t, repo.channel.Status, model.StatusCompleted)
	assert.Equal(t, repo.channel.ProcessedVideoCount, 1)
}

func TestBackfillPrices_FillsMissingOnly(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	repo.videos = append(repo.videos, &model.Video{ID: "v-a", ChannelID: "ch-1", PublishedAt: "2026-01-10"})
	priced := decimal.RequireFromString("10.00")
	repo.mentions = append(repo.mentions,
		&model.StockMention{ID: "m-1", VideoID: "v-a", Ticker: "AAPL"},
		&model.StockMention{ID: "m-2", VideoID: "v-a", Ticker: "TSLA", PriceAtMention: &priced},
	)
	pr := &fakePrices{close: decimal.RequireFromString("55.50")}
	p, _ := newTestPipeline(repo, &fakeCatalog{}, &fakeTranscripts{}, &fakeExtractor{}, pr)

	err := p.BackfillPrices(context.Background(), "ch-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, repo.mentions[0].PriceAtMention.String(), "55.5")
	assert.Equal(t, repo.mentions[1].PriceAtMention.String(), "10")
	assert.Equal(t, repo.hasLog("Backfilled prices for 1 mentions"), true)
}

func TestBackfillPrices_LeavesUnknownPricesEmpty(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	repo.videos = append(repo.videos, &model.Video{ID: "v-a", ChannelID: "ch-1", PublishedAt: "2026-01-10"})
	repo.mentions = append(repo.mentions, &model.StockMention{ID: "m-1", VideoID: "v-a", Ticker: "GONE"})
	p, _ := newTestPipeline(repo, &fakeCatalog{}, &fakeTranscripts{}, &fakeExtractor{}, &fakePrices{closeErr: prices.ErrPriceNotFound})

	err := p.BackfillPrices(context.Background(), "ch-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, repo.mentions[0].PriceAtMention, (*decimal.Decimal)(nil))
}

func TestRefreshPrices_UsesFreshCache(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	repo.mentions = append(repo.mentions, &model.StockMention{ID: "m-1", VideoID: "v-a", Ticker: "AAPL"})
	pr := &fakePrices{quote: decimal.RequireFromString("200")}
	p, stocks := newTestPipeline(repo, &fakeCatalog{}, &fakeTranscripts{}, &fakeExtractor{}, pr)

	cached := decimal.RequireFromString("199.50")
	assert.Equal(t, stocks.SetPrice(context.Background(), "AAPL", cached, time.Now().UTC()), nil)

	out, err := p.RefreshPrices(context.Background(), "ch-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, out["AAPL"].String(), "199.5")
	assert.Equal(t, pr.quotes, 0)
}

func TestRefreshPrices_QuotesStaleTickers(t *testing.T) {
	repo := newFakeRepo(pendingChannel())
	repo.mentions = append(repo.mentions, &model.StockMention{ID: "m-1", VideoID: "v-a", Ticker: "AAPL"})
	pr := &fakePrices{quote: decimal.RequireFromString("201.10")}
	p, stocks := newTestPipeline(repo, &fakeCatalog{}, &fakeTranscripts{}, &fakeExtractor{}, pr)

	stale := decimal.RequireFromString("150")
	assert.Equal(t, stocks.SetPrice(context.Background(), "AAPL", stale, time.Now().UTC().Add(-time.Hour)), nil)

	out, err := p.RefreshPrices(context.Background(), "ch-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, out["AAPL"].String(), "201.1")
	assert.Equal(t, pr.quotes, 1)

	s, err := stocks.Get(context.Background(), "AAPL")
	assert.Equal(t, err, nil)
	assert.Equal(t, s.LastPrice.String(), "201.1")
}

func TestPublishedDate(t *testing.T) {
	assert.Equal(t, publishedDate("2026-01-15T10:30:00Z"), "2026-01-15")
	assert.Equal(t, publishedDate("2026-01-15"), "2026-01-15")
}

func TestTruncate_KeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, truncate("short title", 40), "short title")
	assert.Equal(t, truncate("abcdefgh", 5), "abcde...")

	// A cut landing inside a two-byte rune backs up to the rune start.
	title := strings.Repeat("é", 30)
	got := truncate(title, 41)
	assert.Equal(t, utf8.ValidString(got), true)
	assert.Equal(t, got, strings.Repeat("é", 20)+"...")
}
