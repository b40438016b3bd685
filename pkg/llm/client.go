package llm

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ExtractInput carries what an extractor may analyze: the raw transcript
// text, and the video URL for models that can consume the video directly.
type ExtractInput struct {
	VideoURL   string
	Transcript string
}

// StockPick is one structured recommendation extracted from a video.
type StockPick struct {
	Ticker    string
	Sentiment string // buy, hold, sell, mentioned
	Context   string
}

// Extractor pulls stock picks out of video content. Implementations do not
// retry; the pipeline owns retry policy.
type Extractor interface {
	Extract(ctx context.Context, input ExtractInput) ([]StockPick, error)
	Name() string
}

const extractPrompt = `Analyze this video content and extract ALL stocks discussed. Pay close attention to the speaker's tone, enthusiasm, and any ownership disclosures.

For each stock, classify the sentiment as:

**BUY** - Use when ANY of these apply:
- Speaker says they own the stock or are buying it
- Speaker expresses strong enthusiasm ("I love this stock", "this is a great opportunity")
- Speaker gives a bullish thesis or price target
- Speaker recommends viewers consider buying or adding

**SELL** - Use when ANY of these apply:
- Speaker says they sold or are selling
- Speaker warns against the stock ("stay away", "be careful", "overvalued")
- Speaker expresses bearish outlook

**HOLD** - Use when:
- Speaker owns but isn't adding or selling
- Speaker says to "wait and see" or "hold your position"
- Mixed outlook - some positives and negatives balanced

**MENTIONED** - Use ONLY when:
- Stock is referenced purely for context or comparison
- No opinion or recommendation is expressed

Return a JSON object with a "stocks" array. Each stock should have:
- ticker: Stock symbol (US stocks only - NYSE/NASDAQ)
- sentiment: "buy", "sell", "hold", or "mentioned"
- context: Brief quote or summary capturing WHY you chose this sentiment (max 150 chars)

Example:
{"stocks": [{"ticker": "KTOS", "sentiment": "buy", "context": "I own this stock and think defense spending will drive growth"}]}

Rules:
- Include ALL stocks discussed, even briefly
- Only valid US stock tickers (NYSE/NASDAQ)
- Ignore ETFs (SPY, QQQ, etc.), crypto, and non-US stocks
- If no stocks mentioned, return: {"stocks": []}`

type rawPick struct {
	Ticker         string `json:"ticker"`
	Sentiment      string `json:"sentiment"`
	Recommendation string `json:"recommendation"`
	Context        string `json:"context"`
}

// parsePicks decodes a model response into picks. Malformed JSON yields an
// empty extraction rather than an error; sentiment values the model invents
// collapse to "mentioned".
func parsePicks(content string) []StockPick {
	var parsed struct {
		Stocks []rawPick `json:"stocks"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &parsed); err != nil {
		return nil
	}

	picks := make([]StockPick, 0, len(parsed.Stocks))
	for _, raw := range parsed.Stocks {
		ticker := strings.ToUpper(strings.TrimSpace(raw.Ticker))
		if ticker == "" || len(ticker) > 6 {
			continue
		}
		sentiment := strings.ToLower(strings.TrimSpace(raw.Sentiment))
		if sentiment == "" {
			sentiment = strings.ToLower(strings.TrimSpace(raw.Recommendation))
		}
		switch sentiment {
		case "buy", "hold", "sell", "mentioned":
		default:
			sentiment = "mentioned"
		}
		snippet := raw.Context
		if len(snippet) > 200 {
			cut := 200
			for cut > 0 && !utf8.RuneStart(snippet[cut]) {
				cut--
			}
			snippet = snippet[:cut]
		}
		picks = append(picks, StockPick{Ticker: ticker, Sentiment: sentiment, Context: snippet})
	}
	return picks
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Some model responses include extra prose around JSON.
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
