package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"hubwatch/pkg/hub"
	"hubwatch/pkg/search"
)

type fakeHub struct {
	mu         sync.Mutex
	infos      map[string]*hub.ModelInfo
	infoErrs   map[string]error
	readmes    map[string]string
	images     map[string][]string
	readmeErrs map[string]error
	found      map[string][]hub.ModelInfo
	searchErrs map[string]error
}

func (f *fakeHub) GetModelInfo(_ context.Context, modelID string) (*hub.ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.infoErrs[modelID]; err != nil {
		return nil, err
	}
	return f.infos[modelID], nil
}

func (f *fakeHub) GetReadmeWithImages(_ context.Context, modelID string, _ int) (string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readmeErrs[modelID]; err != nil {
		return "", nil, err
	}
	return f.readmes[modelID], f.images[modelID], nil
}

func (f *fakeHub) SearchModels(_ context.Context, searchQuery string, _ int) ([]hub.ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.searchErrs[searchQuery]; err != nil {
		return nil, err
	}
	return f.found[searchQuery], nil
}

type fakeReader struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
}

func (f *fakeReader) FetchPageText(_ context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[pageURL]; err != nil {
		return "", err
	}
	return f.pages[pageURL], nil
}

func (f *fakeReader) FetchArxivPaper(ctx context.Context, pageURL string) (string, error) {
	return f.FetchPageText(ctx, pageURL)
}

type fakeSearcher struct {
	mu        sync.Mutex
	available bool
	results   []search.Result
	err       error
	queries   []string
}

func (f *fakeSearcher) Available() bool {
	return f.available
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func newContextModule(client HubClient, reader WebReader, searcher WebSearcher) *Module {
	return &Module{
		cfg:      Config{Profile: "default"},
		hub:      client,
		reader:   reader,
		searcher: searcher,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func modelInfo(id string) *hub.ModelInfo {
	author, name, _ := strings.Cut(id, "/")
	return &hub.ModelInfo{ID: id, Author: author, Name: name, Downloads: 10}
}

func TestGatherContextSurvivesPartialFailures(t *testing.T) {
	t.Parallel()

	client := &fakeHub{
		infos: map[string]*hub.ModelInfo{
			"acme/rocket-7b": modelInfo("acme/rocket-7b"),
			"qwen/qwen3-32b": modelInfo("qwen/qwen3-32b"),
		},
		infoErrs: map[string]error{"acme/broken": errors.New("hub timeout")},
		found:    map[string][]hub.ModelInfo{"Qwen3": {*modelInfo("qwen/qwen3-32b")}},
	}
	reader := &fakeReader{
		pages: map[string]string{"https://example.com/post": "a long post"},
		errs:  map[string]error{"https://example.com/down": errors.New("http 503")},
	}
	module := newContextModule(client, reader, &fakeSearcher{})

	gathered := module.gatherContext(context.Background(),
		"look at https://example.com/post and https://example.com/down",
		Analysis{
			Intent:  IntentInfo,
			Models:  []string{"acme/rocket-7b", "acme/broken"},
			Queries: []string{"Qwen3"},
		})

	if !strings.Contains(gathered.HubContext, "acme/rocket-7b") {
		t.Fatalf("hub context missing healthy model:\n%s", gathered.HubContext)
	}
	if !strings.Contains(gathered.HubContext, "qwen/qwen3-32b") {
		t.Fatalf("hub context missing searched model:\n%s", gathered.HubContext)
	}
	if strings.Contains(gathered.HubContext, "acme/broken") {
		t.Fatalf("failed lookup leaked into context:\n%s", gathered.HubContext)
	}
	if gathered.URLContext != "a long post" {
		t.Fatalf("url context = %q", gathered.URLContext)
	}
}

func TestGatherContextDedupesAndCapsModelBlocks(t *testing.T) {
	t.Parallel()

	infos := make(map[string]*hub.ModelInfo)
	var models []string
	for _, id := range []string{"a/m1", "b/m2", "c/m3", "d/m4", "e/m5"} {
		infos[id] = modelInfo(id)
		models = append(models, id)
	}
	models = append(models, "a/m1")
	client := &fakeHub{infos: infos}
	module := newContextModule(client, &fakeReader{}, &fakeSearcher{})

	gathered := module.gatherContext(context.Background(), "several models",
		Analysis{Intent: IntentInfo, Models: models})

	blocks := strings.Split(gathered.HubContext, "\n\n")
	if len(blocks) != maxModelBlocks {
		t.Fatalf("got %d model blocks, want %d:\n%s", len(blocks), maxModelBlocks, gathered.HubContext)
	}
	if strings.Count(gathered.HubContext, "ID: a/m1") != 1 {
		t.Fatalf("duplicate block not removed:\n%s", gathered.HubContext)
	}
}

func TestGatherContextCapsImages(t *testing.T) {
	t.Parallel()

	client := &fakeHub{
		infos:   map[string]*hub.ModelInfo{"a/m1": modelInfo("a/m1"), "b/m2": modelInfo("b/m2")},
		readmes: map[string]string{"a/m1": "r1", "b/m2": "r2"},
		images: map[string][]string{
			"a/m1": {"https://x/1.png", "https://x/2.png"},
			"b/m2": {"https://x/3.png", "https://x/4.png"},
		},
	}
	module := newContextModule(client, &fakeReader{}, &fakeSearcher{})

	gathered := module.gatherContext(context.Background(), "compare these",
		Analysis{Intent: IntentCompare, Models: []string{"a/m1", "b/m2"}})

	if len(gathered.ImageURLs) != maxContextImages {
		t.Fatalf("got %d images, want %d", len(gathered.ImageURLs), maxContextImages)
	}
}

func TestGatherContextNewsQueryUsesSearch(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{
		available: true,
		results:   []search.Result{{Title: "Big release", URL: "https://example.com", Body: "new model"}},
	}
	module := newContextModule(&fakeHub{}, &fakeReader{}, searcher)

	gathered := module.gatherContext(context.Background(), "anything new this week?",
		Analysis{Intent: IntentNews})

	if len(searcher.queries) != 1 || !strings.HasPrefix(searcher.queries[0], "AI LLM news ") {
		t.Fatalf("search queries = %v", searcher.queries)
	}
	if !strings.Contains(gathered.WebContext, "Big release") {
		t.Fatalf("web context missing result:\n%s", gathered.WebContext)
	}
}

func TestGatherContextSkipsSearchWhenUnavailable(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{available: false}
	module := newContextModule(&fakeHub{}, &fakeReader{}, searcher)

	gathered := module.gatherContext(context.Background(), "latest AI news?",
		Analysis{Intent: IntentNews})

	if len(searcher.queries) != 0 {
		t.Fatalf("search ran without a key: %v", searcher.queries)
	}
	if gathered.WebContext != "" {
		t.Fatalf("web context = %q, want empty", gathered.WebContext)
	}
}

func TestGatherContextCapsUserURLs(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{pages: map[string]string{
		"https://example.com/1": "one",
		"https://example.com/2": "two",
		"https://example.com/3": "three",
		"https://example.com/4": "four",
	}}
	module := newContextModule(&fakeHub{}, reader, &fakeSearcher{})

	text := "https://example.com/1 https://example.com/2 https://example.com/3 https://example.com/4"
	gathered := module.gatherContext(context.Background(), text, Analysis{Intent: IntentChat})

	parts := strings.Split(gathered.URLContext, "\n\n")
	if len(parts) != maxUserURLs {
		t.Fatalf("got %d url contexts, want %d", len(parts), maxUserURLs)
	}
	if strings.Contains(gathered.URLContext, "four") {
		t.Fatalf("fourth url should be dropped: %s", gathered.URLContext)
	}
}

func TestGatherContextEmptyWithoutTasks(t *testing.T) {
	t.Parallel()

	module := newContextModule(&fakeHub{}, &fakeReader{}, &fakeSearcher{})

	gathered := module.gatherContext(context.Background(), "hello", Analysis{Intent: IntentChat})

	if gathered.HubContext != "" || gathered.URLContext != "" || gathered.WebContext != "" || len(gathered.ImageURLs) != 0 {
		t.Fatalf("gathered = %+v, want zero value", gathered)
	}
}

func TestGatherContextReportsMissingSearchHit(t *testing.T) {
	t.Parallel()

	client := &fakeHub{found: map[string][]hub.ModelInfo{}}
	module := newContextModule(client, &fakeReader{}, &fakeSearcher{})

	gathered := module.gatherContext(context.Background(), "what is FooNet",
		Analysis{Intent: IntentInfo, Queries: []string{"FooNet"}})

	if gathered.HubContext != "" {
		t.Fatalf("hub context = %q, want empty", gathered.HubContext)
	}
}
