package monitor

import (
	"context"
	"fmt"
	"strings"

	"hubwatch/internal/format"
	"hubwatch/pkg/hub"
	"hubwatch/pkg/hubwatch"
)

// summaryReadmeLimit caps how much README text feeds the summary prompt.
const summaryReadmeLimit = 4000

// notifyNewModel announces one release and enriches the announcement with a
// README summary and a deploy estimate.
//
// The announcement, README fetch, and metadata fetch run concurrently; if
// any of them fails the enrichment is abandoned for this release. The
// summary and deploy stages are contained independently afterwards so a
// failed summary never blocks the deploy report.
func (m *Module) notifyNewModel(ctx context.Context, publisher, modelID string) {
	target := m.notifyTarget()

	tasks := []func(ctx context.Context) (any, error){
		func(ctx context.Context) (any, error) {
			_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
				Target:             target,
				Text:               format.NewModelAnnouncement(publisher, modelID),
				Mode:               hubwatch.TextModeHTML,
				DisableLinkPreview: true,
			})
			return nil, err
		},
		func(ctx context.Context) (any, error) {
			return m.hub.GetReadme(ctx, modelID)
		},
		func(ctx context.Context) (any, error) {
			info, err := m.hub.GetModelInfo(ctx, modelID)
			return info, err
		},
	}

	results := hubwatch.GatherTasks(ctx, tasks)
	for _, result := range results {
		if !result.Ok() {
			m.logger.ErrorContext(ctx, "notification failed",
				"model", modelID, "error", result.Err)
			return
		}
	}
	readme, _ := results[1].Value.(string)
	info, _ := results[2].Value.(*hub.ModelInfo)

	m.sendSummary(ctx, target, modelID, readme)
	m.sendDeployReport(ctx, target, modelID, info)
}

func (m *Module) sendSummary(ctx context.Context, target hubwatch.OutboundTarget, modelID, readme string) {
	if readme == "" {
		_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
			Target: target,
			Text:   format.NoReadmeNotice(),
			Mode:   hubwatch.TextModeHTML,
		})
		if err != nil {
			m.logger.WarnContext(ctx, "readme notice send failed", "model", modelID, "error", err)
		}
		return
	}
	if m.llm == nil {
		return
	}

	summary, err := m.summarize(ctx, modelID, readme)
	if err != nil {
		m.logger.WarnContext(ctx, "summary generation failed", "model", modelID, "error", err)
		return
	}
	if summary == "" {
		return
	}

	_, err = m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:             target,
		Text:               format.SanitizeHTML(summary),
		Mode:               hubwatch.TextModeHTML,
		DisableLinkPreview: true,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "summary send failed", "model", modelID, "error", err)
	}
}

func (m *Module) sendDeployReport(ctx context.Context, target hubwatch.OutboundTarget, modelID string, info *hub.ModelInfo) {
	if info == nil {
		return
	}
	estimate := hub.EstimateDeploy(*info)
	if estimate == nil {
		return
	}

	_, err := m.outbound.SendMessage(ctx, hubwatch.SendMessageRequest{
		Target:             target,
		Text:               format.DeployReport(estimate, modelID),
		Mode:               hubwatch.TextModeHTML,
		DisableLinkPreview: true,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "deploy report send failed", "model", modelID, "error", err)
	}
}

func (m *Module) summarize(ctx context.Context, modelID, readme string) (string, error) {
	if len(readme) > summaryReadmeLimit {
		readme = readme[:summaryReadmeLimit]
	}
	prompt := fmt.Sprintf(
		"Write a short summary (3-5 sentences) of the model %s based on its README. "+
			"Mention the key capabilities, parameter sizes, and intended use. "+
			"Respond in plain prose.\n\nREADME:\n%s",
		modelID, readme,
	)

	text, err := m.llm.Generate(ctx, hubwatch.LLMGenerateRequest{
		Model: m.cfg.SummaryModel,
		Messages: []hubwatch.LLMMessage{
			{Role: hubwatch.LLMMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate summary for %s: %w", modelID, err)
	}

	return strings.TrimSpace(text), nil
}

func (m *Module) notifyTarget() hubwatch.OutboundTarget {
	return hubwatch.OutboundTarget{
		Conversation: hubwatch.Conversation{
			ID:   m.cfg.NotifyConversationID,
			Type: hubwatch.ConversationTypeGroup,
		},
	}
}
