package main

import (
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// AgentManager runs the writer, formatter, and reviewer stages. Each stage
// is a single stateless prompt; the pipeline code, not the model, carries
// state between stages.
type AgentManager struct {
	config *Config
	apiKey string
}

// NewAgentManager creates an AgentManager using the given Anthropic API key.
func NewAgentManager(apiKey string, config *Config) (*AgentManager, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	return &AgentManager{config: config, apiKey: apiKey}, nil
}

// Draft produces the first changelog draft from a fetch window. docContext
// optionally carries related documentation pages for cross-linking. The
// returned draft always starts with the timestamp marker for the messages
// that produced it.
func (am *AgentManager) Draft(result *FetchResult, docContext string) (string, error) {
	systemPrompt := am.config.GetWriterSystemPrompt()
	userPrompt := formatMessageDigest(result)
	if docContext != "" {
		userPrompt = userPrompt + "\n\n" + docContext
	}

	settings := types.RequestSettings{
		Model:       am.config.Settings.Agents.Writer.Model,
		MaxTokens:   am.config.Settings.Agents.Writer.MaxTokens,
		Temperature: am.config.Settings.Agents.Writer.Temperature,
	}
	response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", am.apiKey, settings)
	if err != nil {
		return "", fmt.Errorf("writer agent failed: %w", err)
	}
	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in writer response")
	}

	draft := response.Content[0].Text
	if ParseTimestampMarker(draft) == nil {
		draft = FormatTimestampMarker(result.Fetched) + "\n\n" + draft
	}
	return draft, nil
}

// Format restructures a draft into the changelog template. The timestamp
// marker is detached before the call and re-attached afterwards so the
// model cannot drop or alter it.
func (am *AgentManager) Format(content, date string) (string, error) {
	marker, body := SplitTimestampMarker(content)

	systemPromptTemplate := am.config.GetFormatterSystemPrompt()
	if !strings.Contains(systemPromptTemplate, "{{.Template}}") {
		return "", fmt.Errorf("formatter system prompt must contain {{.Template}} variable")
	}
	systemPrompt := strings.ReplaceAll(systemPromptTemplate, "{{.Template}}", am.config.GetTemplate())

	userPrompt := fmt.Sprintf("Changelog date: %s\n\nDraft to format:\n\n%s", date, body)

	settings := types.RequestSettings{
		Model:       am.config.Settings.Agents.Formatter.Model,
		MaxTokens:   am.config.Settings.Agents.Formatter.MaxTokens,
		Temperature: am.config.Settings.Agents.Formatter.Temperature,
	}
	response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", am.apiKey, settings)
	if err != nil {
		return "", fmt.Errorf("formatter agent failed: %w", err)
	}
	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in formatter response")
	}

	formatted := strings.TrimSpace(response.Content[0].Text)
	if marker != "" {
		formatted = marker + "\n\n" + formatted
	}
	return formatted, nil
}

// Review polishes a formatted changelog for tone and correctness. The
// timestamp marker is protected the same way as in Format.
func (am *AgentManager) Review(content string) (string, error) {
	marker, body := SplitTimestampMarker(content)

	settings := types.RequestSettings{
		Model:       am.config.Settings.Agents.Reviewer.Model,
		MaxTokens:   am.config.Settings.Agents.Reviewer.MaxTokens,
		Temperature: am.config.Settings.Agents.Reviewer.Temperature,
	}
	response, err := anthropic.PromptWithSettings(am.config.GetReviewerSystemPrompt(), body, "", am.apiKey, settings)
	if err != nil {
		return "", fmt.Errorf("reviewer agent failed: %w", err)
	}
	if len(response.Content) == 0 {
		return "", fmt.Errorf("no content in reviewer response")
	}

	reviewed := strings.TrimSpace(response.Content[0].Text)
	if marker != "" {
		reviewed = marker + "\n\n" + reviewed
	}
	return reviewed, nil
}

// formatMessageDigest renders a fetch window as the writer's source
// material: one block per message with permalink, local media paths, and
// thread replies.
func formatMessageDigest(result *FetchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Messages from %s to %s:\n",
		result.From.Format("2006-01-02"), result.To.Format("2006-01-02"))

	for i, msg := range result.Messages {
		fmt.Fprintf(&b, "\n--- Message %d (ts %s) ---\n", i+1, msg.Timestamp)
		if msg.Permalink != "" {
			fmt.Fprintf(&b, "Permalink: %s\n", msg.Permalink)
		}
		b.WriteString(msg.Text)
		b.WriteString("\n")

		for _, m := range msg.Media {
			// A skipped file is already staged from a prior run and is just
			// as usable as a fresh download.
			if m.Status == DownloadFailed {
				continue
			}
			kind := "file"
			switch {
			case m.IsImage:
				kind = "image"
			case m.IsVideo:
				kind = "video"
			}
			fmt.Fprintf(&b, "Attached %s: %s\n", kind, m.LocalPath)
		}

		for _, reply := range msg.Replies {
			fmt.Fprintf(&b, "Reply (ts %s): %s\n", reply.Timestamp, reply.Text)
		}
	}

	return b.String()
}
