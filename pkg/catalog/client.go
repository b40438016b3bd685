package catalog

import (
	"context"
	"errors"
	"regexp"
)

// VideoInfo is one entry from the source catalog listing.
type VideoInfo struct {
	VideoID     string
	Title       string
	URL         string
	PublishedAt string // RFC3339 from the API
}

type ChannelInfo struct {
	ChannelID    string
	Name         string
	ThumbnailURL string
}

// Client lists a creator's catalog. The listing may be incomplete on any
// single call (the upstream API is rate limited); callers must not assume
// completeness.
type Client interface {
	ResolveChannelID(ctx context.Context, identifier, idType string) (string, error)
	ChannelMetadata(ctx context.Context, channelID string) (*ChannelInfo, error)
	ChannelVideos(ctx context.Context, channelID string, monthsBack int) ([]VideoInfo, error)
}

var ErrUnrecognizedURL = errors.New("could not extract channel identifier from URL")

var channelURLPatterns = []struct {
	re     *regexp.Regexp
	idType string
}{
	{regexp.MustCompile(`youtube\.com/@([\w-]+)`), "handle"},
	{regexp.MustCompile(`youtube\.com/channel/([\w-]+)`), "channel_id"},
	{regexp.MustCompile(`youtube\.com/c/([\w-]+)`), "custom"},
	{regexp.MustCompile(`youtube\.com/user/([\w-]+)`), "user"},
}

// ExtractChannelIdentifier pulls the channel identifier and its kind out of a
// channel URL.
func ExtractChannelIdentifier(url string) (identifier, idType string, err error) {
	for _, p := range channelURLPatterns {
		if m := p.re.FindStringSubmatch(url); m != nil {
			return m[1], p.idType, nil
		}
	}
	return "", "", ErrUnrecognizedURL
}

var videoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?v=([\w-]+)`),
	regexp.MustCompile(`youtu\.be/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/embed/([\w-]+)`),
}

// ExtractVideoID pulls the video id out of a watch URL, or returns "".
func ExtractVideoID(url string) string {
	for _, re := range videoURLPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}
