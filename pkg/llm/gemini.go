package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient analyzes the video directly by URL when one is given, falling
// back to the transcript text otherwise.
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelName: "gemini-2.0-flash"}, nil
}

func (c *GeminiClient) Name() string {
	return c.modelName
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) Extract(ctx context.Context, input ExtractInput) ([]StockPick, error) {
	model := c.client.GenerativeModel(c.modelName)

	parts := []genai.Part{}
	if input.VideoURL != "" {
		parts = append(parts, genai.FileData{URI: input.VideoURL, MIMEType: "video/mp4"})
	} else {
		parts = append(parts, genai.Text(fmt.Sprintf("Video transcript:\n\n%s", input.Transcript)))
	}
	parts = append(parts, genai.Text(extractPrompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected gemini response part")
	}
	return parsePicks(string(text)), nil
}
