package format

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```(?:\\w+)?\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
	boldStarRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__([^_]+)__`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s*(.+)$`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// balancedTags lists the Telegram HTML tags the sanitizer keeps balanced.
var balancedTags = []string{"b", "i", "u", "s", "code", "pre", "a"}

var openTagRes = func() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(balancedTags))
	for _, tag := range balancedTags {
		res[tag] = regexp.MustCompile(fmt.Sprintf(`(?i)<%s(?:\s|>)`, tag))
	}
	return res
}()

// SanitizeHTML converts common Markdown markup in LLM output to the
// Telegram HTML subset and balances unclosed tags. Malformed input degrades
// to readable text rather than an error; the outbound dispatcher's plain
// fallback covers whatever still fails to parse.
func SanitizeHTML(text string) string {
	if text == "" {
		return text
	}
	text = markdownToHTML(text)
	text = balanceTags(text)

	return text
}

// StripTags removes HTML tags for plain-text rendering.
func StripTags(text string) string {
	return tagRe.ReplaceAllString(text, "")
}

func markdownToHTML(text string) string {
	// Fenced and inline code are lifted out first so markup inside code
	// survives untouched.
	var blocks []string
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		body := codeBlockRe.FindStringSubmatch(match)[1]
		blocks = append(blocks, body)
		return fmt.Sprintf("\x00CB%d\x00", len(blocks)-1)
	})

	var inline []string
	if !strings.Contains(text, "<code>") {
		text = inlineCodeRe.ReplaceAllStringFunc(text, func(match string) string {
			body := inlineCodeRe.FindStringSubmatch(match)[1]
			inline = append(inline, body)
			return fmt.Sprintf("\x00IC%d\x00", len(inline)-1)
		})
	}

	if !strings.Contains(text, "<b>") && !strings.Contains(text, "<strong>") {
		text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
		text = boldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	}
	if !strings.Contains(text, "<a href") {
		text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	}
	text = headingRe.ReplaceAllString(text, "<b>$1</b>")

	for index, body := range inline {
		text = strings.Replace(text, fmt.Sprintf("\x00IC%d\x00", index),
			"<code>"+html.EscapeString(body)+"</code>", 1)
	}
	for index, body := range blocks {
		text = strings.Replace(text, fmt.Sprintf("\x00CB%d\x00", index),
			"<pre>"+html.EscapeString(strings.TrimSpace(body))+"</pre>", 1)
	}

	return text
}

func balanceTags(text string) string {
	for _, tag := range balancedTags {
		closer := "</" + tag + ">"
		opens := len(openTagRes[tag].FindAllString(text, -1))
		closes := strings.Count(strings.ToLower(text), closer)
		for opens > closes {
			text += closer
			closes++
		}
		for closes > opens {
			trimmed := strings.TrimRight(text, " \n\t")
			if !strings.HasSuffix(strings.ToLower(trimmed), closer) {
				break
			}
			text = trimmed[:len(trimmed)-len(closer)]
			closes--
		}
	}

	return text
}
