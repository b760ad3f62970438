// Package search provides a Brave Search API client plus the heuristics that
// decide when a chat message warrants a web search.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.search.brave.com"

// searchTriggers mark messages that likely ask about current events, so the
// answer benefits from fresh web results.
var searchTriggers = []string{
	"news", "latest", "recent", "today", "yesterday",
	"release", "released", "announced", "launch",
	"best ", "top ", "ranking", "benchmark", "leaderboard",
	"right now", "currently", "in 2024", "in 2025", "in 2026",
}

// aiKeywords detect queries already scoped to the model domain; other queries
// get an AI prefix so general searches stay on topic.
var aiKeywords = []string{
	"llm", "model", "ai", "gpt", "qwen", "deepseek", "mistral", "llama",
	"neural", "transformer",
}

// Result is one web search hit.
type Result struct {
	Title string
	Body  string
	URL   string
}

// Client is a Brave Search API client. A client without an API key is valid
// but reports itself unavailable and returns no results.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a search client. An empty baseURL selects the public
// Brave endpoint.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Available reports whether an API key is configured.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

// Search returns up to maxResults web hits for query. An unavailable client
// returns no results without error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if !c.Available() {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 3
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(min(maxResults, 20)))

	requestURL := c.baseURL + "/res/v1/web/search?" + params.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("X-Subscription-Token", c.apiKey)

	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search: unexpected status %d", response.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				URL         string `json:"url"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("web search: decode: %w", err)
	}

	hits := payload.Web.Results
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{Title: hit.Title, Body: hit.Description, URL: hit.URL})
	}

	return results, nil
}

// NeedsSearch reports whether the message likely asks about something recent.
func NeedsSearch(text string) bool {
	lowered := strings.ToLower(text)
	for _, trigger := range searchTriggers {
		if strings.Contains(lowered, trigger) {
			return true
		}
	}

	return false
}

// BuildQuery scopes a general query to the model domain unless it already
// mentions AI terms.
func BuildQuery(userText string) string {
	lowered := strings.ToLower(userText)
	for _, keyword := range aiKeywords {
		if strings.Contains(lowered, keyword) {
			return userText
		}
	}

	return "AI LLM " + userText
}

// FormatResults renders search hits as plain text for prompt injection.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString("[Web search results:]")
	for index, result := range results {
		fmt.Fprintf(&builder, "\n\n%d. %s", index+1, result.Title)
		if body := result.Body; body != "" {
			if len(body) > 300 {
				body = body[:300] + "..."
			}
			fmt.Fprintf(&builder, "\n   %s", body)
		}
		if result.URL != "" {
			fmt.Fprintf(&builder, "\n   URL: %s", result.URL)
		}
	}

	return builder.String()
}
