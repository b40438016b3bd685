// Package transcript fetches raw video transcripts from a transcript API
// endpoint. A video having no transcript is a normal outcome, reported as
// ErrUnavailable rather than a failure.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("transcript unavailable")

type Fetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryWait  func(time.Duration)
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		retryWait:  time.Sleep,
	}
}

type transcriptResponse struct {
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

// Fetch returns the full transcript text for a video. Rate-limited responses
// are retried with exponential backoff; a missing or disabled transcript
// returns ErrUnavailable.
func (c *Client) Fetch(ctx context.Context, videoID string) (string, error) {
	endpoint := fmt.Sprintf("%s/transcript?video_id=%s", c.baseURL, url.QueryEscape(videoID))

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.retryWait(5 * time.Second << (attempt - 1))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("transcript request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("transcript fetch: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var raw transcriptResponse
			err := json.NewDecoder(resp.Body).Decode(&raw)
			resp.Body.Close()
			if err != nil {
				return "", fmt.Errorf("transcript decode: %w", err)
			}
			if len(raw.Segments) == 0 {
				return "", ErrUnavailable
			}
			parts := make([]string, 0, len(raw.Segments))
			for _, s := range raw.Segments {
				parts = append(parts, s.Text)
			}
			return strings.Join(parts, " "), nil

		case http.StatusNotFound:
			resp.Body.Close()
			return "", ErrUnavailable

		case http.StatusTooManyRequests:
			resp.Body.Close()
			continue

		default:
			resp.Body.Close()
			return "", fmt.Errorf("transcript fetch: unexpected status %d", resp.StatusCode)
		}
	}
	return "", ErrUnavailable
}
