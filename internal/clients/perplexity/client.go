package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/truenorthhq/truenorth-backend/internal/platform/envutil"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
)

// SearchResult is one answered research query with whatever citations the
// upstream attached.
type SearchResult struct {
	Query     string
	Text      string
	Citations []string
}

// Client runs web-grounded market research queries. Black-box contract:
// send a prompt, get text back, possibly with citations.
type Client interface {
	Search(ctx context.Context, query string) (SearchResult, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("PPLX_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing PPLX_API_KEY")
	}

	baseURL := envutil.Str("PPLX_BASE_URL", "https://api.perplexity.ai")
	baseURL = strings.TrimRight(baseURL, "/")
	model := envutil.Str("PPLX_MODEL", "sonar")

	return &client{
		log:        log.With("client", "PerplexityClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: envutil.Seconds("PPLX_TIMEOUT", 60*time.Second)},
	}, nil
}

type searchRequest struct {
	Model    string          `json:"model"`
	Messages []searchMessage `json:"messages"`
}

type searchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

func (c *client) Search(ctx context.Context, query string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, fmt.Errorf("empty query")
	}

	body := searchRequest{
		Model: c.model,
		Messages: []searchMessage{
			{Role: "system", Content: "You are a concise market research assistant. Answer with current facts and figures."},
			{Role: "user", Content: query},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SearchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return SearchResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SearchResult{}, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return SearchResult{}, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SearchResult{}, fmt.Errorf("perplexity http %d: %s", resp.StatusCode, string(raw))
	}

	var out searchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return SearchResult{}, fmt.Errorf("perplexity decode error: %w", err)
	}
	if len(out.Choices) == 0 {
		return SearchResult{}, fmt.Errorf("perplexity returned no choices")
	}

	return SearchResult{
		Query:     query,
		Text:      out.Choices[0].Message.Content,
		Citations: out.Citations,
	}, nil
}
