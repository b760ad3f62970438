// Package webreader fetches linked pages for prompt context. Regular pages go
// through readability article extraction; arXiv links are parsed for
// structured paper metadata instead.
package webreader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	defaultArxivBaseURL = "https://arxiv.org"

	pageTextMaxLength = 8000
)

var (
	urlRe     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	arxivIDRe = regexp.MustCompile(`arxiv\.org/(?:abs|pdf|html)/(\d+\.\d+(?:v\d+)?)`)
)

// ExtractURLs returns all HTTP(S) URLs found in text, in order of appearance.
func ExtractURLs(text string) []string {
	return urlRe.FindAllString(text, -1)
}

// IsArxivURL reports whether the URL points at arXiv.
func IsArxivURL(pageURL string) bool {
	return strings.Contains(strings.ToLower(pageURL), "arxiv")
}

// extractArxivID pulls the paper ID out of an abs/pdf/html arXiv URL.
func extractArxivID(pageURL string) string {
	match := arxivIDRe.FindStringSubmatch(pageURL)
	if match == nil {
		return ""
	}

	return match[1]
}

// Client reads web pages and arXiv abstract pages.
type Client struct {
	arxivBaseURL string
	http         *http.Client
}

// NewClient creates a web reader. An empty arxivBaseURL selects arxiv.org.
func NewClient(arxivBaseURL string) *Client {
	if arxivBaseURL == "" {
		arxivBaseURL = defaultArxivBaseURL
	}

	return &Client{
		arxivBaseURL: arxivBaseURL,
		http:         &http.Client{Timeout: 20 * time.Second},
	}
}

// FetchPageText downloads a page and returns its main article text. Pages
// with no extractable article yield an empty string without error.
func (c *Client) FetchPageText(ctx context.Context, pageURL string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch page %s: %w", pageURL, err)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("fetch page %s: %w", pageURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page %s: unexpected status %d", pageURL, response.StatusCode)
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("fetch page %s: %w", pageURL, err)
	}
	article, err := readability.FromReader(response.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("extract page %s: %w", pageURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", nil
	}
	if len(text) > pageTextMaxLength {
		text = text[:pageTextMaxLength] + "\n\n[...text truncated...]"
	}

	return text, nil
}

// FetchArxivPaper reads the abstract page of an arXiv link and returns the
// paper metadata formatted for prompt context. A URL without a recognizable
// paper ID yields an empty string without error.
func (c *Client) FetchArxivPaper(ctx context.Context, pageURL string) (string, error) {
	paperID := extractArxivID(pageURL)
	if paperID == "" {
		return "", nil
	}

	absURL := c.arxivBaseURL + "/abs/" + paperID
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch arxiv %s: %w", paperID, err)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("fetch arxiv %s: %w", paperID, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch arxiv %s: unexpected status %d", paperID, response.StatusCode)
	}

	document, err := goquery.NewDocumentFromReader(response.Body)
	if err != nil {
		return "", fmt.Errorf("parse arxiv %s: %w", paperID, err)
	}

	title := cleanField(document.Find("h1.title").First().Text(), "Title:")
	abstract := cleanField(document.Find("blockquote.abstract").First().Text(), "Abstract:")
	dateline := strings.TrimSpace(document.Find("div.dateline").First().Text())

	var authors []string
	document.Find("div.authors a").Each(func(_ int, selection *goquery.Selection) {
		if name := strings.TrimSpace(selection.Text()); name != "" {
			authors = append(authors, name)
		}
	})

	if title == "" && abstract == "" {
		return "", fmt.Errorf("parse arxiv %s: no paper content on page", paperID)
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "=== Arxiv Paper: %s ===", paperID)
	if title != "" {
		fmt.Fprintf(&builder, "\nTitle: %s", title)
	}
	if len(authors) > 0 {
		fmt.Fprintf(&builder, "\nAuthors: %s", strings.Join(authors, ", "))
	}
	if dateline != "" {
		fmt.Fprintf(&builder, "\n%s", dateline)
	}
	fmt.Fprintf(&builder, "\nURL: %s/abs/%s", defaultArxivBaseURL, paperID)
	if abstract != "" {
		builder.WriteString("\n\n--- Abstract ---\n")
		builder.WriteString(abstract)
	}

	return builder.String(), nil
}

// cleanField trims whitespace and the arXiv field label prefix.
func cleanField(raw, label string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, label)

	return strings.Join(strings.Fields(cleaned), " ")
}
