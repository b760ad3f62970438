package assistant

import (
	"context"
	"fmt"
	"strings"

	"hubwatch/pkg/hubwatch"
	"hubwatch/pkg/search"
	"hubwatch/pkg/webreader"
)

const (
	maxUserURLs       = 3
	maxModelBlocks    = 4
	maxContextImages  = 3
	maxReadmeImages   = 5
	webSearchResults  = 3
	searchResultLimit = 1
)

// gatheredContext is the merged outcome of the context fan-out.
type gatheredContext struct {
	// HubContext holds up to maxModelBlocks deduplicated model summaries.
	HubContext string
	// URLContext holds extracted text of pages the user linked.
	URLContext string
	// WebContext holds formatted web-search results.
	WebContext string
	// ImageURLs holds up to maxContextImages relevant README images.
	ImageURLs []string
}

type taskKind int

const (
	taskModel taskKind = iota
	taskSearch
	taskPage
	taskWeb
)

// taskOutput is the value side of one fan-out task.
type taskOutput struct {
	kind    taskKind
	text    string
	images  []string
	results []search.Result
}

// gatherContext fans out entity lookups, URL reads, and an optional web
// search, then merges whatever succeeded. A failed or panicking task is
// dropped without disturbing its siblings; an all-failure fan-out yields an
// empty context and the conversation proceeds on the user text alone.
func (m *Module) gatherContext(ctx context.Context, userText string, analysis Analysis) gatheredContext {
	var tasks []func(ctx context.Context) (taskOutput, error)

	withReadme := analysis.Intent == IntentCompare
	if analysis.Intent == IntentCompare || analysis.Intent == IntentInfo {
		for _, modelID := range analysis.Models {
			modelID := modelID
			tasks = append(tasks, func(ctx context.Context) (taskOutput, error) {
				return m.fetchModelContext(ctx, modelID, withReadme)
			})
		}
		for _, query := range analysis.Queries {
			query := query
			tasks = append(tasks, func(ctx context.Context) (taskOutput, error) {
				found, err := m.hub.SearchModels(ctx, query, searchResultLimit)
				if err != nil {
					return taskOutput{}, fmt.Errorf("search models %q: %w", query, err)
				}
				if len(found) == 0 {
					return taskOutput{kind: taskSearch}, nil
				}
				return m.fetchModelContext(ctx, found[0].ID, withReadme)
			})
		}
	}

	urls := webreader.ExtractURLs(userText)
	if len(urls) > maxUserURLs {
		urls = urls[:maxUserURLs]
	}
	for _, pageURL := range urls {
		pageURL := pageURL
		tasks = append(tasks, func(ctx context.Context) (taskOutput, error) {
			var text string
			var err error
			if webreader.IsArxivURL(pageURL) {
				text, err = m.reader.FetchArxivPaper(ctx, pageURL)
			} else {
				text, err = m.reader.FetchPageText(ctx, pageURL)
			}
			if err != nil {
				return taskOutput{}, fmt.Errorf("fetch %s: %w", pageURL, err)
			}
			return taskOutput{kind: taskPage, text: text}, nil
		})
	}

	isNews := analysis.Intent == IntentNews
	if (isNews || search.NeedsSearch(userText)) && m.searcher.Available() {
		tasks = append(tasks, func(ctx context.Context) (taskOutput, error) {
			query := search.BuildQuery(userText)
			if isNews {
				query = "AI LLM news " + userText
			}
			results, err := m.searcher.Search(ctx, query, webSearchResults)
			if err != nil {
				return taskOutput{}, fmt.Errorf("web search: %w", err)
			}
			return taskOutput{kind: taskWeb, results: results}, nil
		})
	}

	if len(tasks) == 0 {
		return gatheredContext{}
	}

	var modelBlocks []string
	var pageTexts []string
	var images []string
	var webResults []search.Result
	for _, result := range hubwatch.GatherTasks(ctx, tasks) {
		if !result.Ok() {
			m.logger.DebugContext(ctx, "context task failed", "error", result.Err)
			continue
		}
		output := result.Value
		switch output.kind {
		case taskModel, taskSearch:
			if output.text != "" {
				modelBlocks = append(modelBlocks, output.text)
			}
			images = append(images, output.images...)
		case taskPage:
			if output.text != "" {
				pageTexts = append(pageTexts, output.text)
			}
		case taskWeb:
			webResults = output.results
		}
	}

	gathered := gatheredContext{ImageURLs: images}
	if len(gathered.ImageURLs) > maxContextImages {
		gathered.ImageURLs = gathered.ImageURLs[:maxContextImages]
	}
	if blocks := dedupeBlocks(modelBlocks, maxModelBlocks); len(blocks) > 0 {
		gathered.HubContext = strings.Join(blocks, "\n\n")
	}
	if len(pageTexts) > 0 {
		gathered.URLContext = strings.Join(pageTexts, "\n\n")
	}
	if len(webResults) > 0 {
		gathered.WebContext = search.FormatResults(webResults)
	}

	return gathered
}

func (m *Module) fetchModelContext(ctx context.Context, modelID string, withReadme bool) (taskOutput, error) {
	info, err := m.hub.GetModelInfo(ctx, modelID)
	if err != nil {
		return taskOutput{}, fmt.Errorf("model info %s: %w", modelID, err)
	}
	if info == nil {
		return taskOutput{kind: taskModel}, nil
	}

	readme := ""
	var images []string
	if withReadme {
		readme, images, err = m.hub.GetReadmeWithImages(ctx, modelID, maxReadmeImages)
		if err != nil {
			return taskOutput{}, fmt.Errorf("readme %s: %w", modelID, err)
		}
	}

	return taskOutput{kind: taskModel, text: info.ToContext(readme), images: images}, nil
}

// dedupeBlocks drops model blocks whose header line repeats and caps the
// survivors.
func dedupeBlocks(blocks []string, limit int) []string {
	seen := make(map[string]struct{}, len(blocks))
	var unique []string
	for _, block := range blocks {
		header, _, _ := strings.Cut(block, "\n")
		if _, exists := seen[header]; exists {
			continue
		}
		seen[header] = struct{}{}
		unique = append(unique, block)
		if len(unique) == limit {
			break
		}
	}

	return unique
}
