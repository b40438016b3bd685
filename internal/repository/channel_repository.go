package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
)

var ErrDuplicateChannel = errors.New("channel already exists")

// KV is the store adapter surface the repositories need.
type KV interface {
	Get(ctx context.Context, table string, key store.Item) (store.Item, error)
	Put(ctx context.Context, table string, item store.Item) error
	Update(ctx context.Context, table string, key store.Item, sets store.Item) (store.Item, error)
	UpdateWhenNot(ctx context.Context, table string, key store.Item, sets store.Item, attr, forbidden string) (store.Item, error)
	Increment(ctx context.Context, table string, key store.Item, attr, capAttr string) (store.Item, error)
	Delete(ctx context.Context, table string, key store.Item) error
	QueryPage(ctx context.Context, q store.Query) ([]store.Item, store.Item, error)
	QueryAll(ctx context.Context, q store.Query) ([]store.Item, error)
	QueryCount(ctx context.Context, q store.Query) (int, error)
	BatchDelete(ctx context.Context, table string, keys []store.Item) error
}

// ChannelRepository implements every channel-rooted access pattern on top of
// the main table's primary key and its three secondary indexes.
type ChannelRepository struct {
	kv          KV
	table       string
	stocksTable string
}

func NewChannelRepository(kv KV, table, stocksTable string) *ChannelRepository {
	return &ChannelRepository{kv: kv, table: table, stocksTable: stocksTable}
}

// Create stores a new channel after checking the external-id index for a
// duplicate. Uniqueness is a read-before-write check; the store has no
// cross-item constraint to express it.
func (r *ChannelRepository) Create(ctx context.Context, c *model.Channel) error {
	existing, _, err := r.kv.QueryPage(ctx, store.Query{
		Table:        r.table,
		Index:        gsi2,
		Partition:    "GSI2PK",
		PartitionVal: ytChannelPrefix + c.YouTubeChannelID,
		Limit:        1,
	})
	if err != nil {
		return fmt.Errorf("check duplicate channel: %w", err)
	}
	if len(existing) > 0 {
		return ErrDuplicateChannel
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.StatusPending
	}
	return r.kv.Put(ctx, r.table, encodeChannel(c))
}

func (r *ChannelRepository) Get(ctx context.Context, channelID string) (*model.Channel, error) {
	item, err := r.kv.Get(ctx, r.table, channelKey(channelID))
	if err != nil {
		return nil, err
	}
	return decodeChannel(item), nil
}

// List returns one page of channels, newest first, plus the total count.
// The store has no offset primitive, so page N is reached by re-issuing the
// index query N-1 times with the previous continuation cursor. O(page) cost;
// fine while channel counts stay small, needs caller-facing cursors beyond
// that.
func (r *ChannelRepository) List(ctx context.Context, page, perPage int) ([]*model.Channel, int, error) {
	q := store.Query{
		Table:        r.table,
		Index:        gsi1,
		Partition:    "GSI1PK",
		PartitionVal: channelsBucket,
		Sort:         "GSI1SK",
		Descending:   true,
		Limit:        int32(perPage),
	}

	total, err := r.kv.QueryCount(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("count channels: %w", err)
	}

	items, cursor, err := r.kv.QueryPage(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list channels: %w", err)
	}
	for skip := 1; skip < page; skip++ {
		if cursor == nil {
			return nil, total, nil // past the last page
		}
		q.StartKey = cursor
		items, cursor, err = r.kv.QueryPage(ctx, q)
		if err != nil {
			return nil, 0, fmt.Errorf("list channels: %w", err)
		}
	}

	channels := make([]*model.Channel, 0, len(items))
	for _, item := range items {
		channels = append(channels, decodeChannel(item))
	}
	return channels, total, nil
}

// Delete cascades over everything rooted at the channel: the channel item,
// its videos and logs (one partition), and each video's mentions. Keys are
// gathered first, then removed with batched deletes. Deleting an absent
// channel is a no-op.
func (r *ChannelRepository) Delete(ctx context.Context, channelID string) (bool, error) {
	partition, err := r.kv.QueryAll(ctx, store.Query{
		Table:        r.table,
		Partition:    "PK",
		PartitionVal: channelKeyPrefix + channelID,
	})
	if err != nil {
		return false, fmt.Errorf("collect channel items: %w", err)
	}
	if len(partition) == 0 {
		return false, nil
	}

	keys := make([]store.Item, 0, len(partition))
	for _, item := range partition {
		key, err := itemKey(item)
		if err != nil {
			return false, err
		}
		keys = append(keys, key)

		if getStr(item, "entity_type") != "Video" {
			continue
		}
		mentions, err := r.kv.QueryAll(ctx, store.Query{
			Table:        r.table,
			Partition:    "PK",
			PartitionVal: videoKeyPrefix + getStr(item, "id"),
			Sort:         "SK",
			SortPrefix:   mentionKeyPrefix,
		})
		if err != nil {
			return false, fmt.Errorf("collect mentions: %w", err)
		}
		for _, m := range mentions {
			mk, err := itemKey(m)
			if err != nil {
				return false, err
			}
			keys = append(keys, mk)
		}
	}

	if err := r.kv.BatchDelete(ctx, r.table, keys); err != nil {
		return false, fmt.Errorf("cascade delete: %w", err)
	}
	return true, nil
}

// BeginProcessing moves the channel into processing with a conditional write,
// so two concurrent starts cannot both claim the run. A missing channel and
// one already processing both surface as store.ErrConditionFailed; callers
// disambiguate with Get.
func (r *ChannelRepository) BeginProcessing(ctx context.Context, channelID string) (*model.Channel, error) {
	item, err := r.kv.UpdateWhenNot(ctx, r.table, channelKey(channelID), store.Item{
		"status":     str(model.StatusProcessing),
		"updated_at": str(formatTime(time.Now())),
	}, "status", model.StatusProcessing)
	if err != nil {
		return nil, err
	}
	return decodeChannel(item), nil
}

// UpdateStatus sets the channel status and bumps updated_at.
func (r *ChannelRepository) UpdateStatus(ctx context.Context, channelID, status string) (*model.Channel, error) {
	return r.updateChannel(ctx, channelID, store.Item{"status": str(status)})
}

// SetMetadata records the resolved external channel id and display metadata,
// keeping the uniqueness index key in step with the new external id.
func (r *ChannelRepository) SetMetadata(ctx context.Context, channelID, youtubeChannelID, name, thumbnailURL string) error {
	sets := store.Item{
		"youtube_channel_id": str(youtubeChannelID),
		"GSI2PK":             str(ytChannelPrefix + youtubeChannelID),
		"name":               str(name),
	}
	if thumbnailURL != "" {
		sets["thumbnail_url"] = str(thumbnailURL)
	}
	_, err := r.updateChannel(ctx, channelID, sets)
	return err
}

func (r *ChannelRepository) SetVideoCounts(ctx context.Context, channelID string, videoCount, processedCount int) error {
	_, err := r.updateChannel(ctx, channelID, store.Item{
		"video_count":           num(intStr(videoCount)),
		"processed_video_count": num(intStr(processedCount)),
	})
	return err
}

// IncrementProcessed bumps processed_video_count by one, guarded so it can
// never exceed video_count regardless of task interleaving. Returns the new
// count.
func (r *ChannelRepository) IncrementProcessed(ctx context.Context, channelID string) (int, error) {
	item, err := r.kv.Increment(ctx, r.table, channelKey(channelID),
		"processed_video_count", "video_count")
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			ch, gerr := r.Get(ctx, channelID)
			if gerr != nil {
				return 0, gerr
			}
			return ch.ProcessedVideoCount, nil
		}
		return 0, err
	}
	return getInt(item, "processed_video_count"), nil
}

func (r *ChannelRepository) updateChannel(ctx context.Context, channelID string, sets store.Item) (*model.Channel, error) {
	sets["updated_at"] = str(formatTime(time.Now()))
	item, err := r.kv.Update(ctx, r.table, channelKey(channelID), sets)
	if err != nil {
		return nil, err
	}
	return decodeChannel(item), nil
}

// AddLog appends a processing log entry. The sort key embeds the creation
// timestamp plus an id suffix, so reads come back in creation order.
func (r *ChannelRepository) AddLog(ctx context.Context, channelID, level, message string) (*model.ProcessingLog, error) {
	log := &model.ProcessingLog{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.kv.Put(ctx, r.table, encodeLog(log)); err != nil {
		return nil, err
	}
	return log, nil
}

// Logs returns a channel's log entries in creation order. A non-empty since
// timestamp bounds the range from below.
func (r *ChannelRepository) Logs(ctx context.Context, channelID, since string) ([]*model.ProcessingLog, error) {
	q := store.Query{
		Table:        r.table,
		Partition:    "PK",
		PartitionVal: channelKeyPrefix + channelID,
		Sort:         "SK",
	}
	if since != "" {
		q.SortFrom = logKeyPrefix + since
		q.SortTo = logKeyPrefix + "￿"
	} else {
		q.SortPrefix = logKeyPrefix
	}
	items, err := r.kv.QueryAll(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	logs := make([]*model.ProcessingLog, 0, len(items))
	for _, item := range items {
		logs = append(logs, decodeLog(item))
	}
	return logs, nil
}

func (r *ChannelRepository) PutVideo(ctx context.Context, v *model.Video) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return r.kv.Put(ctx, r.table, encodeVideo(v))
}

// FindVideoByYouTubeID resolves a video through the keys-only external-id
// index. The index carries no attributes, so a second fetch by primary key is
// required to materialize the record.
func (r *ChannelRepository) FindVideoByYouTubeID(ctx context.Context, youtubeVideoID string) (*model.Video, error) {
	items, _, err := r.kv.QueryPage(ctx, store.Query{
		Table:        r.table,
		Index:        gsi3,
		Partition:    "GSI3PK",
		PartitionVal: ytVideoPrefix + youtubeVideoID,
		Limit:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup video by external id: %w", err)
	}
	if len(items) == 0 {
		return nil, store.ErrNotFound
	}
	key, err := itemKey(items[0])
	if err != nil {
		return nil, err
	}
	full, err := r.kv.Get(ctx, r.table, key)
	if err != nil {
		return nil, err
	}
	return decodeVideo(full), nil
}

func (r *ChannelRepository) Videos(ctx context.Context, channelID string) ([]*model.Video, error) {
	items, err := r.kv.QueryAll(ctx, store.Query{
		Table:        r.table,
		Partition:    "PK",
		PartitionVal: channelKeyPrefix + channelID,
		Sort:         "SK",
		SortPrefix:   videoKeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	videos := make([]*model.Video, 0, len(items))
	for _, item := range items {
		videos = append(videos, decodeVideo(item))
	}
	return videos, nil
}

// SetVideoStatus updates transcript and/or analysis status; empty strings
// leave the attribute untouched.
func (r *ChannelRepository) SetVideoStatus(ctx context.Context, channelID, videoID, transcriptStatus, analysisStatus string) error {
	sets := store.Item{}
	if transcriptStatus != "" {
		sets["transcript_status"] = str(transcriptStatus)
	}
	if analysisStatus != "" {
		sets["analysis_status"] = str(analysisStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	_, err := r.kv.Update(ctx, r.table, videoKey(channelID, videoID), sets)
	return err
}

func (r *ChannelRepository) PutMention(ctx context.Context, m *model.StockMention) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return r.kv.Put(ctx, r.table, encodeMention(m))
}

func (r *ChannelRepository) MentionsByVideo(ctx context.Context, videoID string) ([]*model.StockMention, error) {
	items, err := r.kv.QueryAll(ctx, store.Query{
		Table:        r.table,
		Partition:    "PK",
		PartitionVal: videoKeyPrefix + videoID,
		Sort:         "SK",
		SortPrefix:   mentionKeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	mentions := make([]*model.StockMention, 0, len(items))
	for _, item := range items {
		mentions = append(mentions, decodeMention(item))
	}
	return mentions, nil
}

// MentionsMissingPrice lists a video's mentions that still lack a historical
// price, using a server-side attribute filter.
func (r *ChannelRepository) MentionsMissingPrice(ctx context.Context, videoID string) ([]*model.StockMention, error) {
	items, err := r.kv.QueryAll(ctx, store.Query{
		Table:        r.table,
		Partition:    "PK",
		PartitionVal: videoKeyPrefix + videoID,
		Sort:         "SK",
		SortPrefix:   mentionKeyPrefix,
		NotExists:    "price_at_mention",
	})
	if err != nil {
		return nil, fmt.Errorf("list unpriced mentions: %w", err)
	}
	mentions := make([]*model.StockMention, 0, len(items))
	for _, item := range items {
		mentions = append(mentions, decodeMention(item))
	}
	return mentions, nil
}

// MentionsMissingPriceCount counts unpriced mentions without transferring
// item bodies.
func (r *ChannelRepository) MentionsMissingPriceCount(ctx context.Context, videoID string) (int, error) {
	return r.kv.QueryCount(ctx, store.Query{
		Table:        r.table,
		Partition:    "PK",
		PartitionVal: videoKeyPrefix + videoID,
		Sort:         "SK",
		SortPrefix:   mentionKeyPrefix,
		NotExists:    "price_at_mention",
	})
}

func (r *ChannelRepository) SetMentionPrice(ctx context.Context, videoID, mentionID string, price decimal.Decimal) error {
	_, err := r.kv.Update(ctx, r.table, mentionKey(videoID, mentionID), store.Item{
		"price_at_mention": num(price.String()),
	})
	return err
}

// MentionsWithTicker lists a video's mentions of one ticker via a
// server-side equality filter.
func (r *ChannelRepository) MentionsWithTicker(ctx context.Context, videoID, ticker string) ([]*model.StockMention, error) {
	items, err := r.kv.QueryAll(ctx, store.Query{
		Table:        r.table,
		Partition:    "PK",
		PartitionVal: videoKeyPrefix + videoID,
		Sort:         "SK",
		SortPrefix:   mentionKeyPrefix,
		Equals:       map[string]string{"ticker": ticker},
	})
	if err != nil {
		return nil, fmt.Errorf("filter mentions: %w", err)
	}
	mentions := make([]*model.StockMention, 0, len(items))
	for _, item := range items {
		mentions = append(mentions, decodeMention(item))
	}
	return mentions, nil
}

func intStr(n int) string {
	return fmt.Sprintf("%d", n)
}
