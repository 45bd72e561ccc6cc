package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnalyzeParsesSentiment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{
					"role":    "assistant",
					"content": "bearish\nMomentum is fading and volume is thin.",
				}},
			},
		})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL

	advice, err := NewClient(cfg).Analyze(context.Background(), "RSI 72, MACD rolling over")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if advice.Sentiment != "bearish" {
		t.Errorf("sentiment = %q, want bearish", advice.Sentiment)
	}
	if advice.Commentary == "" {
		t.Error("commentary should not be empty")
	}
}

func TestAnalyzeDisabled(t *testing.T) {
	client := NewClient(DefaultConfig())
	if client.Enabled() {
		t.Fatal("advisor without key must report disabled")
	}
	if _, err := client.Analyze(context.Background(), "anything"); err == nil {
		t.Fatal("disabled advisor must error")
	}
}

func TestAnalyzeSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL

	if _, err := NewClient(cfg).Analyze(context.Background(), "summary"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestParseAdviceFallbacks(t *testing.T) {
	advice := parseAdvice("Markets look mixed today.")
	if advice.Sentiment != "neutral" {
		t.Errorf("sentiment = %q, want neutral", advice.Sentiment)
	}
	if advice.Commentary != "Markets look mixed today." {
		t.Errorf("commentary = %q", advice.Commentary)
	}
}
