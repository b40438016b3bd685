package catalog

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTubeClient implements Client with the YouTube Data API v3.
type YouTubeClient struct {
	service *youtube.Service
}

func NewYouTubeClient(ctx context.Context, apiKey string) (*YouTubeClient, error) {
	service, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &YouTubeClient{service: service}, nil
}

func (c *YouTubeClient) ResolveChannelID(ctx context.Context, identifier, idType string) (string, error) {
	if idType == "channel_id" {
		return identifier, nil
	}

	query := identifier
	if idType == "handle" {
		query = "@" + identifier
	}
	resp, err := c.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("resolve channel %q: %w", identifier, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("resolve channel %q: no results", identifier)
	}
	return resp.Items[0].Snippet.ChannelId, nil
}

func (c *YouTubeClient) ChannelMetadata(ctx context.Context, channelID string) (*ChannelInfo, error) {
	resp, err := c.service.Channels.List([]string{"snippet", "statistics"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("fetch channel metadata: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}

	snippet := resp.Items[0].Snippet
	info := &ChannelInfo{ChannelID: channelID, Name: snippet.Title}
	if snippet.Thumbnails != nil && snippet.Thumbnails.Default != nil {
		info.ThumbnailURL = snippet.Thumbnails.Default.Url
	}
	return info, nil
}

// ChannelVideos lists videos published within the last monthsBack months,
// following page tokens until the API stops returning them.
func (c *YouTubeClient) ChannelVideos(ctx context.Context, channelID string, monthsBack int) ([]VideoInfo, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -monthsBack*30).Format(time.RFC3339)

	var videos []VideoInfo
	pageToken := ""
	for {
		call := c.service.Search.List([]string{"snippet"}).
			ChannelId(channelID).
			MaxResults(50).
			Order("date").
			PublishedAfter(cutoff).
			Type("video").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list channel videos: %w", err)
		}

		for _, item := range resp.Items {
			if item.Id == nil || item.Id.VideoId == "" {
				continue
			}
			videos = append(videos, VideoInfo{
				VideoID:     item.Id.VideoId,
				Title:       item.Snippet.Title,
				PublishedAt: item.Snippet.PublishedAt,
				URL:         "https://www.youtube.com/watch?v=" + item.Id.VideoId,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return videos, nil
		}
	}
}
