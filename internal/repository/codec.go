package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
)

// Key layout for the main table. Channels are singleton items in their own
// partition; videos and logs share the channel partition, mentions share the
// video partition.
//
//	Channel      PK=CHANNEL#id  SK=CHANNEL#id   GSI1: CHANNELS/created_at  GSI2: YT#ytid
//	Video        PK=CHANNEL#cid SK=VIDEO#id     GSI3: YTVID#ytvid (keys only)
//	StockMention PK=VIDEO#vid   SK=MENTION#id   GSI1: TICKER#t/published_at
//	ProcessingLog PK=CHANNEL#cid SK=LOG#ts#suffix
const (
	channelKeyPrefix = "CHANNEL#"
	videoKeyPrefix   = "VIDEO#"
	mentionKeyPrefix = "MENTION#"
	logKeyPrefix     = "LOG#"

	channelsBucket  = "CHANNELS"
	ytChannelPrefix = "YT#"
	ytVideoPrefix   = "YTVID#"
	tickerPrefix    = "TICKER#"

	gsi1 = "GSI1-index"
	gsi2 = "GSI2-index"
	gsi3 = "GSI3-index"
)

// timestampLayout is fixed-width with millisecond precision so lexicographic
// order on encoded timestamps equals chronological order.
const timestampLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func channelKey(channelID string) store.Item {
	return store.Item{
		"PK": str(channelKeyPrefix + channelID),
		"SK": str(channelKeyPrefix + channelID),
	}
}

func videoKey(channelID, videoID string) store.Item {
	return store.Item{
		"PK": str(channelKeyPrefix + channelID),
		"SK": str(videoKeyPrefix + videoID),
	}
}

func mentionKey(videoID, mentionID string) store.Item {
	return store.Item{
		"PK": str(videoKeyPrefix + videoID),
		"SK": str(mentionKeyPrefix + mentionID),
	}
}

// logSortKey keeps log entries in creation order even at sub-millisecond
// rates: the timestamp sorts lexicographically and the ID suffix breaks ties.
func logSortKey(createdAt time.Time, id string) string {
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return logKeyPrefix + formatTime(createdAt) + "#" + suffix
}

func stockKey(ticker string) store.Item {
	return store.Item{"ticker": str(ticker)}
}

func encodeChannel(c *model.Channel) store.Item {
	item := store.Item{
		"PK":                    str(channelKeyPrefix + c.ID),
		"SK":                    str(channelKeyPrefix + c.ID),
		"GSI1PK":                str(channelsBucket),
		"GSI1SK":                str(formatTime(c.CreatedAt)),
		"GSI2PK":                str(ytChannelPrefix + c.YouTubeChannelID),
		"entity_type":           str("Channel"),
		"id":                    str(c.ID),
		"youtube_channel_id":    str(c.YouTubeChannelID),
		"name":                  str(c.Name),
		"url":                   str(c.URL),
		"status":                str(c.Status),
		"video_count":           num(strconv.Itoa(c.VideoCount)),
		"processed_video_count": num(strconv.Itoa(c.ProcessedVideoCount)),
		"time_range_months":     num(strconv.Itoa(c.TimeRangeMonths)),
		"created_at":            str(formatTime(c.CreatedAt)),
		"updated_at":            str(formatTime(c.UpdatedAt)),
	}
	if c.ThumbnailURL != "" {
		item["thumbnail_url"] = str(c.ThumbnailURL)
	}
	return item
}

func decodeChannel(item store.Item) *model.Channel {
	return &model.Channel{
		ID:                  getStr(item, "id"),
		YouTubeChannelID:    getStr(item, "youtube_channel_id"),
		Name:                getStr(item, "name"),
		URL:                 getStr(item, "url"),
		ThumbnailURL:        getStr(item, "thumbnail_url"),
		Status:              getStr(item, "status"),
		VideoCount:          getInt(item, "video_count"),
		ProcessedVideoCount: getInt(item, "processed_video_count"),
		TimeRangeMonths:     getInt(item, "time_range_months"),
		CreatedAt:           parseTime(getStr(item, "created_at")),
		UpdatedAt:           parseTime(getStr(item, "updated_at")),
	}
}

func encodeVideo(v *model.Video) store.Item {
	return store.Item{
		"PK":                str(channelKeyPrefix + v.ChannelID),
		"SK":                str(videoKeyPrefix + v.ID),
		"GSI3PK":            str(ytVideoPrefix + v.YouTubeVideoID),
		"entity_type":       str("Video"),
		"id":                str(v.ID),
		"channel_id":        str(v.ChannelID),
		"youtube_video_id":  str(v.YouTubeVideoID),
		"title":             str(v.Title),
		"url":               str(v.URL),
		"published_at":      str(v.PublishedAt),
		"transcript_status": str(v.TranscriptStatus),
		"analysis_status":   str(v.AnalysisStatus),
		"created_at":        str(formatTime(v.CreatedAt)),
	}
}

func decodeVideo(item store.Item) *model.Video {
	return &model.Video{
		ID:               getStr(item, "id"),
		ChannelID:        getStr(item, "channel_id"),
		YouTubeVideoID:   getStr(item, "youtube_video_id"),
		Title:            getStr(item, "title"),
		URL:              getStr(item, "url"),
		PublishedAt:      getStr(item, "published_at"),
		TranscriptStatus: getStr(item, "transcript_status"),
		AnalysisStatus:   getStr(item, "analysis_status"),
		CreatedAt:        parseTime(getStr(item, "created_at")),
	}
}

func encodeMention(m *model.StockMention) store.Item {
	item := store.Item{
		"PK":          str(videoKeyPrefix + m.VideoID),
		"SK":          str(mentionKeyPrefix + m.ID),
		"entity_type": str("StockMention"),
		"id":          str(m.ID),
		"video_id":    str(m.VideoID),
		"ticker":      str(m.Ticker),
		"sentiment":   str(m.Sentiment),
		"created_at":  str(formatTime(m.CreatedAt)),
	}
	if m.Ticker != "" {
		item["GSI1PK"] = str(tickerPrefix + m.Ticker)
	}
	if m.PublishedAt != "" {
		item["GSI1SK"] = str(m.PublishedAt)
	}
	if m.PriceAtMention != nil {
		item["price_at_mention"] = num(m.PriceAtMention.String())
	}
	if m.ConfidenceScore != nil {
		item["confidence_score"] = num(m.ConfidenceScore.String())
	}
	if m.ContextSnippet != "" {
		item["context_snippet"] = str(m.ContextSnippet)
	}
	return item
}

func decodeMention(item store.Item) *model.StockMention {
	return &model.StockMention{
		ID:              getStr(item, "id"),
		VideoID:         getStr(item, "video_id"),
		Ticker:          getStr(item, "ticker"),
		Sentiment:       getStr(item, "sentiment"),
		PriceAtMention:  getDec(item, "price_at_mention"),
		ConfidenceScore: getDec(item, "confidence_score"),
		ContextSnippet:  getStr(item, "context_snippet"),
		CreatedAt:       parseTime(getStr(item, "created_at")),
		PublishedAt:     getStr(item, "GSI1SK"),
	}
}

func encodeLog(l *model.ProcessingLog) store.Item {
	return store.Item{
		"PK":          str(channelKeyPrefix + l.ChannelID),
		"SK":          str(logSortKey(l.CreatedAt, l.ID)),
		"entity_type": str("ProcessingLog"),
		"id":          str(l.ID),
		"channel_id":  str(l.ChannelID),
		"log_level":   str(l.Level),
		"message":     str(l.Message),
		"created_at":  str(formatTime(l.CreatedAt)),
	}
}

func decodeLog(item store.Item) *model.ProcessingLog {
	return &model.ProcessingLog{
		ID:        getStr(item, "id"),
		ChannelID: getStr(item, "channel_id"),
		Level:     getStr(item, "log_level"),
		Message:   getStr(item, "message"),
		CreatedAt: parseTime(getStr(item, "created_at")),
	}
}

func encodeStock(s *model.Stock) store.Item {
	item := store.Item{
		"ticker":   str(s.Ticker),
		"exchange": str(s.Exchange),
	}
	if s.Name != "" {
		item["name"] = str(s.Name)
	}
	if s.LastPrice != nil {
		item["last_price"] = num(s.LastPrice.String())
	}
	if !s.PriceUpdatedAt.IsZero() {
		item["price_updated_at"] = str(formatTime(s.PriceUpdatedAt))
	}
	return item
}

func decodeStock(item store.Item) *model.Stock {
	s := &model.Stock{
		Ticker:    getStr(item, "ticker"),
		Name:      getStr(item, "name"),
		Exchange:  getStr(item, "exchange"),
		LastPrice: getDec(item, "last_price"),
	}
	if v := getStr(item, "price_updated_at"); v != "" {
		s.PriceUpdatedAt = parseTime(v)
	}
	return s
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// num encodes an exact decimal string as a DynamoDB number. Prices never pass
// through float64.
func num(v string) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: v}
}

func getStr(item store.Item, name string) string {
	if av, ok := item[name].(*types.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}

func getInt(item store.Item, name string) int {
	if av, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.Atoi(av.Value)
		return n
	}
	return 0
}

func getDec(item store.Item, name string) *decimal.Decimal {
	av, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return nil
	}
	d, err := decimal.NewFromString(av.Value)
	if err != nil {
		return nil
	}
	return &d
}

func itemKey(item store.Item) (store.Item, error) {
	pk, sk := getStr(item, "PK"), getStr(item, "SK")
	if pk == "" || sk == "" {
		return nil, fmt.Errorf("item missing primary key")
	}
	return store.Item{"PK": str(pk), "SK": str(sk)}, nil
}
