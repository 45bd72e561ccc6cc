package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trading-engine/internal/logging"
)

// Advice is the optional LLM commentary on current market conditions.
// It is advisory only and never feeds the decision path.
type Advice struct {
	Sentiment  string    `json:"sentiment"` // bullish, bearish, neutral
	Commentary string    `json:"commentary"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config holds the advisor client settings.
type Config struct {
	Enabled     bool          `json:"enabled"`
	APIKey      string        `json:"api_key"`
	BaseURL     string        `json:"base_url"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultConfig returns the default advisor settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   512,
		Temperature: 0.3,
		Timeout:     30 * time.Second,
	}
}

// Client queries a chat-completions API for market commentary.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logging.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logging.Default().WithComponent("advisor"),
	}
}

// Enabled reports whether the advisor is configured for use.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.cfg.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const systemPrompt = "You are a market analyst. Given a summary of technical " +
	"indicators for one symbol, reply with a one-word sentiment (bullish, " +
	"bearish or neutral) on the first line, then two sentences of commentary."

// Analyze asks the model for a sentiment read on the market summary.
// Any failure is returned to the caller to log and ignore; the engine
// never depends on this result.
func (c *Client) Analyze(ctx context.Context, summary string) (Advice, error) {
	if !c.Enabled() {
		return Advice{}, fmt.Errorf("advisor disabled")
	}

	reqBody := chatRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: summary},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Advice{}, err
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Advice{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Advice{}, fmt.Errorf("advisor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Advice{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Advice{}, fmt.Errorf("advisor API status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Advice{}, fmt.Errorf("advisor response unreadable: %w", err)
	}
	if parsed.Error != nil {
		return Advice{}, fmt.Errorf("advisor API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Advice{}, fmt.Errorf("advisor returned no choices")
	}

	return parseAdvice(parsed.Choices[0].Message.Content), nil
}

// parseAdvice splits the first line off as the sentiment label.
func parseAdvice(content string) Advice {
	advice := Advice{Sentiment: "neutral", CreatedAt: time.Now()}

	lines := strings.SplitN(strings.TrimSpace(content), "\n", 2)
	label := strings.ToLower(strings.TrimSpace(lines[0]))
	switch {
	case strings.Contains(label, "bullish"):
		advice.Sentiment = "bullish"
	case strings.Contains(label, "bearish"):
		advice.Sentiment = "bearish"
	}
	if len(lines) > 1 {
		advice.Commentary = strings.TrimSpace(lines[1])
	} else {
		advice.Commentary = strings.TrimSpace(content)
	}
	return advice
}
