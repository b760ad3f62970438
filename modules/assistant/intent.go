package assistant

import (
	"regexp"
	"strings"
)

// Intent is the coarse classification of a free-text user message.
type Intent string

const (
	// IntentChat covers generic conversation with no model references.
	IntentChat Intent = "chat"
	// IntentInfo asks about one specific model.
	IntentInfo Intent = "info"
	// IntentCompare asks to compare two or more models.
	IntentCompare Intent = "compare"
	// IntentNews asks about recent events in the field.
	IntentNews Intent = "news"
)

// Analysis is the outcome of intent classification.
type Analysis struct {
	Intent Intent
	// Models holds exact org/name hub identifiers found in the text.
	Models []string
	// Queries holds bare model-family names usable as hub search queries.
	Queries []string
}

var fullModelIDRe = regexp.MustCompile(`[A-Za-z0-9_-]+/[A-Za-z0-9_.-]+`)

// modelNameRes match well-known model family names with optional suffixes.
var modelNameRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(Qwen[23]?(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(DeepSeek(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(Mistral(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(Mixtral(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(Llama(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(GigaChat[0-9]*(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(GLM(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(Gemma(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(Claude(?:-[A-Za-z0-9.-]+)?)\b`),
	regexp.MustCompile(`(?i)\b(GPT-?[0-9]+(?:-[A-Za-z0-9.-]+)?)\b`),
}

// aliases maps informal model names to their canonical search form.
var aliases = map[string]string{
	"chatgpt": "GPT",
}

var compareTriggers = []string{
	"compare", "comparison", "versus", " vs ", " vs.", "better", "worse",
	"difference", "differences", "which is better", "choose between",
}

var infoTriggers = []string{
	"what is", "what's", "tell me about", "info on", "info about",
	"information about", "specs", "benchmark", "how many parameters",
	"what size", "trained on",
}

var newsTriggers = []string{
	"news", "what's new", "what is new", "whats new", "latest",
	"what's happening", "recent releases", "trends", "what happened",
	"anything new", "what's going on",
}

// Analyze classifies a user message and extracts model references without
// any LLM call.
func Analyze(text string) Analysis {
	lower := strings.ToLower(text)

	var models []string
	seenModels := make(map[string]struct{})
	for _, id := range fullModelIDRe.FindAllString(text, -1) {
		if _, exists := seenModels[id]; exists {
			continue
		}
		seenModels[id] = struct{}{}
		models = append(models, id)
	}

	modelNames := make(map[string]struct{}, len(models))
	for _, id := range models {
		if _, name, found := strings.Cut(id, "/"); found {
			modelNames[name] = struct{}{}
		}
	}

	var queries []string
	seenQueries := make(map[string]struct{})
	addQuery := func(query string) {
		if _, exists := seenQueries[query]; exists {
			return
		}
		if _, exists := modelNames[query]; exists {
			return
		}
		seenQueries[query] = struct{}{}
		queries = append(queries, query)
	}
	for alias, canonical := range aliases {
		if strings.Contains(lower, alias) {
			addQuery(canonical)
		}
	}
	for _, re := range modelNameRes {
		for _, match := range re.FindAllString(text, -1) {
			addQuery(match)
		}
	}

	refs := len(models) + len(queries)
	intent := IntentChat
	switch {
	case containsAny(lower, compareTriggers):
		switch {
		case refs >= 2:
			intent = IntentCompare
		case refs == 1:
			intent = IntentInfo
		}
	case containsAny(lower, infoTriggers):
		if refs > 0 {
			intent = IntentInfo
		}
	case containsAny(lower, newsTriggers):
		if refs > 0 {
			intent = IntentInfo
		} else {
			intent = IntentNews
		}
	case refs > 0:
		intent = IntentInfo
	}

	return Analysis{Intent: intent, Models: models, Queries: queries}
}

func containsAny(text string, triggers []string) bool {
	for _, trigger := range triggers {
		if strings.Contains(text, trigger) {
			return true
		}
	}

	return false
}
