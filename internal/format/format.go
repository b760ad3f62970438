// Package format renders bot-facing Telegram HTML messages.
//
// All user-visible message templates live here so modules share one visual
// language. Functions return HTML in the limited subset Telegram accepts;
// callers send them with the HTML text mode and rely on the dispatcher's
// plain-text fallback when parsing fails.
package format

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"hubwatch/pkg/hub"
)

const (
	separator = "━━━━━━━━━━━━━━━━━━━━"
	divider   = "────────────────────────"
)

// Number renders a count as 1.2M, 45.3K, or a plain integer.
func Number(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// ParamCount renders a parameter total as 70.6B, 350M, or a plain integer.
func ParamCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.0fM", float64(n)/1e6)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// NewModelAnnouncement renders the alert sent when a publisher releases a
// new model.
func NewModelAnnouncement(publisher, modelID string) string {
	url := "https://huggingface.co/" + modelID

	return fmt.Sprintf(
		"🚨 <b>Heads up!</b>\n\nNew model from <b>%s</b>!\n\n%s\n\n🤖 <b>%s</b>\n\n🔗 <a href=\"%s\">View the weights</a>",
		html.EscapeString(publisher), separator, html.EscapeString(modelID), url,
	)
}

// NoReadmeNotice renders the placeholder sent when a new model has no README.
func NoReadmeNotice() string {
	return "🤷 <i>No README yet. Waiting for the authors to tell us what this beast is...</i>"
}

// DeployReport renders GPU requirements for serving one model.
func DeployReport(estimate *hub.DeployEstimate, modelID string) string {
	var lines []string
	lines = append(lines,
		fmt.Sprintf("🖥️ <b>Deploy estimate</b>: <code>%s</code>", html.EscapeString(modelID)),
		"", separator, "",
		fmt.Sprintf("📊 Parameters: <b>%s</b>", ParamCount(estimate.TotalParams)),
		fmt.Sprintf("💾 Precision: <b>%s</b>", estimate.Dtype),
		fmt.Sprintf("📦 Weight size: <b>~%.1f GB</b>", estimate.WeightGB),
		fmt.Sprintf("📈 With inference overhead (~20%%): <b>~%.1f GB</b>", estimate.TotalGB),
		"", separator, "",
	)

	switch {
	case estimate.H200Count == 1:
		spare := 140 - estimate.TotalGB
		lines = append(lines, "🟢 <b>NVIDIA H200</b> (140 GB VRAM):",
			fmt.Sprintf("  → <b>1 × H200</b> (~%.0f GB spare)", spare))
	case estimate.H200Count <= 8:
		lines = append(lines, "🟡 <b>NVIDIA H200</b> (140 GB VRAM):",
			fmt.Sprintf("  → <b>%d × H200</b> (one HGX node)", estimate.H200Count))
	default:
		nodes := (estimate.H200Count + 7) / 8
		lines = append(lines, "🔴 <b>NVIDIA H200</b> (140 GB VRAM):",
			fmt.Sprintf("  → <b>%d × H200</b> (%d nodes)", estimate.H200Count, nodes))
	}
	lines = append(lines, "")

	if estimate.L40SFits {
		spare := 48 - estimate.TotalGB
		lines = append(lines, "🟢 <b>NVIDIA L40S</b> (48 GB VRAM):",
			fmt.Sprintf("  → <b>1 × L40S</b> (~%.0f GB spare)", spare))
	} else {
		lines = append(lines, "🔴 <b>NVIDIA L40S</b> (48 GB VRAM):",
			"  → Does not fit.")
	}

	return strings.Join(lines, "\n")
}

// ModelCard renders a model info card for /info.
func ModelCard(model hub.ModelInfo) string {
	lines := []string{
		fmt.Sprintf("🤖 <b>%s</b>", html.EscapeString(model.ID)),
		fmt.Sprintf("<code>%s</code>", divider),
	}

	if model.Downloads > 0 || model.Likes > 0 {
		var parts []string
		if model.Downloads > 0 {
			parts = append(parts, fmt.Sprintf("📥 <b>%s</b> downloads", Number(model.Downloads)))
		}
		if model.Likes > 0 {
			parts = append(parts, fmt.Sprintf("❤️ <b>%s</b>", Number(model.Likes)))
		}
		lines = append(lines, strings.Join(parts, "   "))
	}

	var meta []string
	if model.PipelineTag != "" {
		meta = append(meta, "🎯 "+model.PipelineTag)
	}
	if model.LibraryName != "" {
		meta = append(meta, "📚 "+model.LibraryName)
	}
	if len(meta) > 0 {
		lines = append(lines, strings.Join(meta, "  "))
	}

	if useful := model.UsefulTags(6); len(useful) > 0 {
		tags := make([]string, 0, len(useful))
		for _, tag := range useful {
			tags = append(tags, fmt.Sprintf("<code>%s</code>", html.EscapeString(tag)))
		}
		lines = append(lines, "🏷 "+strings.Join(tags, " · "))
	}

	lines = append(lines,
		fmt.Sprintf("<code>%s</code>", divider),
		fmt.Sprintf("🔗 <a href=\"%s\">Open on the hub</a>", model.URL()),
	)

	return strings.Join(lines, "\n")
}

// RandomModel renders the /random card.
func RandomModel(model hub.ModelInfo) string {
	lines := []string{
		"🎲 <b>Random model of the day</b>",
		"", separator, "",
		fmt.Sprintf("🤖 <b>%s</b>", html.EscapeString(model.ID)),
		fmt.Sprintf("<code>%s</code>", divider),
	}

	if model.Downloads > 0 || model.Likes > 0 {
		var parts []string
		if model.Downloads > 0 {
			parts = append(parts, fmt.Sprintf("📥 <b>%s</b>", Number(model.Downloads)))
		}
		if model.Likes > 0 {
			parts = append(parts, fmt.Sprintf("❤️ <b>%s</b>", Number(model.Likes)))
		}
		lines = append(lines, strings.Join(parts, "   "))
	}
	if model.PipelineTag != "" {
		lines = append(lines, "🎯 "+model.PipelineTag)
	}

	lines = append(lines,
		fmt.Sprintf("<code>%s</code>", divider),
		"",
		fmt.Sprintf("🔗 <a href=\"%s\">Take a look</a>", model.URL()),
	)

	return strings.Join(lines, "\n")
}

// OrgsList renders the monitored publisher list for /orgs.
func OrgsList(publishers []string) string {
	lines := []string{fmt.Sprintf("🏢 <b>Monitored publishers</b>\n\n%s\n", separator)}
	for _, publisher := range publishers {
		lines = append(lines, fmt.Sprintf("  • <a href=\"https://huggingface.co/%s\">%s</a>",
			publisher, html.EscapeString(publisher)))
	}
	lines = append(lines, "", separator, "", fmt.Sprintf("📊 Total: <b>%d</b>", len(publishers)))

	return strings.Join(lines, "\n")
}

// Stats renders per-publisher model counts sorted by count descending.
// Publishers whose count could not be fetched carry a -1 count and render
// as unavailable.
func Stats(counts map[string]int) string {
	type row struct {
		publisher string
		count     int
	}
	rows := make([]row, 0, len(counts))
	total := 0
	for publisher, count := range counts {
		rows = append(rows, row{publisher, count})
		if count > 0 {
			total += count
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].publisher < rows[j].publisher
	})

	medals := []string{"🥇 ", "🥈 ", "🥉 "}
	lines := []string{fmt.Sprintf("📊 <b>Monitoring statistics</b>\n\n%s\n", separator)}
	for index, r := range rows {
		if r.count < 0 {
			lines = append(lines, fmt.Sprintf("  <b>%s</b>: unavailable", html.EscapeString(r.publisher)))
			continue
		}
		medal := ""
		if index < len(medals) && r.count > 0 {
			medal = medals[index]
		}
		percent := 0.0
		if total > 0 {
			percent = float64(r.count) / float64(total) * 100
		}
		lines = append(lines, fmt.Sprintf("  %s<b>%s</b>: %s (%.1f%%)",
			medal, html.EscapeString(r.publisher), Number(r.count), percent))
	}
	lines = append(lines, "", separator, "",
		fmt.Sprintf("🤖 Total models: <b>%s</b>", Number(total)),
		fmt.Sprintf("🏢 Publishers: <b>%d</b>", len(rows)),
	)

	return strings.Join(lines, "\n")
}

// HeroMessage renders the hero-of-the-day message for /hero.
func HeroMessage(mention, body string) string {
	return fmt.Sprintf("🦸 <b>Hero of the day!</b>\n\n%s, this one is for you:\n\n%s\n\n💌 %s\n\n%s",
		mention, separator, body, separator)
}

// ModelNotFound renders the lookup failure message.
func ModelNotFound(modelID string) string {
	return fmt.Sprintf("❌ Model not found\n\n<code>%s</code>\n\n💡 Check the spelling.\nFormat: <code>author/model-name</code>",
		html.EscapeString(modelID))
}

// Usage renders a short usage hint for a command that needs an argument.
func Usage(command, example string) string {
	return fmt.Sprintf("ℹ️ <b>Specify a model</b>\n\nFormat: <code>/%s author/model</code>\n\n💡 Example:\n<code>/%s %s</code>",
		command, command, example)
}

// GenericError is the fallback reply when a handler failed internally.
func GenericError() string {
	return "⚠️ Something went wrong. Try again later."
}
