// Package hub provides a client for the model hub HTTP API with cursor
// pagination, plus model metadata helpers used across the bot.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://huggingface.co"

	// The API caps a single response at pageSize items regardless of the
	// requested limit; full listings follow the rel="next" Link header.
	pageSize = 1000
	maxPages = 50

	readmeMaxLength = 6000
)

var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// ModelRef is one entry of a publisher listing.
type ModelRef struct {
	ID           string
	LastModified string
}

// Client talks to the model hub API. The zero value is not usable; construct
// with NewClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a reusable hub client. An empty baseURL selects the
// public hub.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListModels returns all models of one publisher, newest first. Listings are
// fetched page by page following the Link header cursor; a short page or a
// missing cursor ends the walk.
func (c *Client) ListModels(ctx context.Context, publisher string) ([]ModelRef, error) {
	query := url.Values{}
	query.Set("author", publisher)
	query.Set("sort", "lastModified")
	query.Set("direction", "-1")
	query.Set("limit", strconv.Itoa(pageSize))

	items, err := c.paginate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list models for %s: %w", publisher, err)
	}

	refs := make([]ModelRef, 0, len(items))
	for _, item := range items {
		modelID := item.resolvedID()
		if modelID == "" {
			continue
		}
		refs = append(refs, ModelRef{ID: modelID, LastModified: item.LastModified})
	}

	return refs, nil
}

// CountModels returns the total model count for a publisher, walking every
// page.
func (c *Client) CountModels(ctx context.Context, publisher string) (int, error) {
	query := url.Values{}
	query.Set("author", publisher)
	query.Set("limit", strconv.Itoa(pageSize))

	items, err := c.paginate(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count models for %s: %w", publisher, err)
	}

	return len(items), nil
}

// paginate fetches all pages starting from the models endpoint, following
// the rel="next" cursor up to maxPages pages.
func (c *Client) paginate(ctx context.Context, query url.Values) ([]apiModel, error) {
	requestURL := c.baseURL + "/api/models?" + query.Encode()

	var items []apiModel
	for page := 0; page < maxPages; page++ {
		batch, linkHeader, err := c.fetchPage(ctx, requestURL)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		items = append(items, batch...)

		if len(batch) < pageSize {
			break
		}
		match := linkNextRe.FindStringSubmatch(linkHeader)
		if match == nil {
			break
		}
		requestURL = match[1]
	}

	return items, nil
}

// fetchPage performs one listing request and returns the batch plus the raw
// Link header.
func (c *Client) fetchPage(ctx context.Context, requestURL string) ([]apiModel, string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("fetch page: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch page: unexpected status %d", response.StatusCode)
	}

	var batch []apiModel
	if err := json.NewDecoder(response.Body).Decode(&batch); err != nil {
		return nil, "", fmt.Errorf("decode page: %w", err)
	}

	return batch, response.Header.Get("Link"), nil
}

// GetModelInfo returns metadata for one model, or nil when the hub reports it
// missing.
func (c *Client) GetModelInfo(ctx context.Context, modelID string) (*ModelInfo, error) {
	requestURL := c.baseURL + "/api/models/" + modelID
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", modelID, err)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", modelID, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get model %s: unexpected status %d", modelID, response.StatusCode)
	}

	var item apiModel
	if err := json.NewDecoder(response.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("get model %s: decode: %w", modelID, err)
	}
	info := item.toModelInfo()

	return &info, nil
}

// SearchModels searches the hub by free-text query, most downloaded first.
func (c *Client) SearchModels(ctx context.Context, searchQuery string, limit int) ([]ModelInfo, error) {
	query := url.Values{}
	query.Set("search", searchQuery)
	query.Set("sort", "downloads")
	query.Set("direction", "-1")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("full", "true")

	requestURL := c.baseURL + "/api/models?" + query.Encode()
	batch, _, err := c.fetchPage(ctx, requestURL)
	if err != nil {
		return nil, fmt.Errorf("search models %q: %w", searchQuery, err)
	}

	results := make([]ModelInfo, 0, len(batch))
	for _, item := range batch {
		if item.resolvedID() == "" {
			continue
		}
		results = append(results, item.toModelInfo())
	}

	return results, nil
}

// GetRandomModel picks a random model from a random window of the
// top-downloaded listing.
func (c *Client) GetRandomModel(ctx context.Context) (*ModelInfo, error) {
	query := url.Values{}
	query.Set("sort", "downloads")
	query.Set("direction", "-1")
	query.Set("limit", "20")
	query.Set("skip", strconv.Itoa(rand.Intn(501)))
	query.Set("full", "true")

	requestURL := c.baseURL + "/api/models?" + query.Encode()
	batch, _, err := c.fetchPage(ctx, requestURL)
	if err != nil {
		return nil, fmt.Errorf("get random model: %w", err)
	}
	if len(batch) == 0 {
		return nil, nil
	}
	info := batch[rand.Intn(len(batch))].toModelInfo()

	return &info, nil
}

// GetReadme fetches the raw model card text. A missing README yields an empty
// string; overlong cards are truncated with a marker.
func (c *Client) GetReadme(ctx context.Context, modelID string) (string, error) {
	requestURL := c.baseURL + "/" + modelID + "/raw/main/README.md"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", fmt.Errorf("get readme %s: %w", modelID, err)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("get readme %s: %w", modelID, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get readme %s: unexpected status %d", modelID, response.StatusCode)
	}

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("get readme %s: read body: %w", modelID, err)
	}

	return truncateReadme(string(raw)), nil
}

// GetReadmeWithImages fetches the model card and extracts up to maxImages
// illustration URLs from the untruncated text.
func (c *Client) GetReadmeWithImages(ctx context.Context, modelID string, maxImages int) (string, []string, error) {
	requestURL := c.baseURL + "/" + modelID + "/raw/main/README.md"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("get readme %s: %w", modelID, err)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return "", nil, fmt.Errorf("get readme %s: %w", modelID, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return "", nil, nil
	}
	if response.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("get readme %s: unexpected status %d", modelID, response.StatusCode)
	}

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return "", nil, fmt.Errorf("get readme %s: read body: %w", modelID, err)
	}
	full := string(raw)

	return truncateReadme(full), ExtractReadmeImages(full, modelID, maxImages), nil
}

// truncateReadme caps model card text injected into prompts.
func truncateReadme(text string) string {
	if len(text) <= readmeMaxLength {
		return text
	}

	return text[:readmeMaxLength] + "\n\n[...README truncated...]"
}
