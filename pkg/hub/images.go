package hub

import (
	"regexp"
	"strings"
)

var imagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`),
	regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`),
}

// decorativeMarkers identify badges and logos that add nothing to a model
// announcement.
var decorativeMarkers = []string{"badge", "shield", "icon", ".svg", "logo"}

// relevantImageKeywords rank benchmark and evaluation figures ahead of other
// illustrations.
var relevantImageKeywords = []string{
	"benchmark", "performance", "comparison", "chart", "graph",
	"result", "eval", "score", "accuracy", "metrics", "leaderboard", "table",
}

// ExtractReadmeImages pulls image URLs out of model card markdown and HTML,
// drops decorative assets, resolves repo-relative paths against the model's
// resolve endpoint, and returns up to maxImages unique URLs with
// benchmark-style figures first.
func ExtractReadmeImages(readme, modelID string, maxImages int) []string {
	if maxImages <= 0 {
		return nil
	}

	var raw []string
	for _, pattern := range imagePatterns {
		for _, match := range pattern.FindAllStringSubmatch(readme, -1) {
			raw = append(raw, match[1])
		}
	}

	var relevant, others []string
	for _, imageURL := range raw {
		imageURL = strings.TrimSpace(imageURL)
		if imageURL == "" || isDecorative(imageURL) {
			continue
		}
		if !strings.HasPrefix(imageURL, "http") {
			imageURL = "https://huggingface.co/" + modelID + "/resolve/main/" + strings.TrimLeft(imageURL, "./")
		}
		if isRelevant(imageURL) {
			relevant = append(relevant, imageURL)
		} else {
			others = append(others, imageURL)
		}
	}

	seen := make(map[string]struct{})
	unique := make([]string, 0, maxImages)
	for _, imageURL := range append(relevant, others...) {
		if _, duplicate := seen[imageURL]; duplicate {
			continue
		}
		seen[imageURL] = struct{}{}
		unique = append(unique, imageURL)
		if len(unique) == maxImages {
			break
		}
	}

	return unique
}

func isDecorative(imageURL string) bool {
	lowered := strings.ToLower(imageURL)
	for _, marker := range decorativeMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	return false
}

func isRelevant(imageURL string) bool {
	lowered := strings.ToLower(imageURL)
	for _, keyword := range relevantImageKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}

	return false
}
