package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// Enrichment holds the LLM suggestions for an issue.
type Enrichment struct {
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

// Client wraps the Anthropic API for issue enrichment.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildEnrichPrompt constructs the system and user prompts for issue enrichment.
func buildEnrichPrompt(title, description string, tags []string) (system string, user string) {
	system = `You triage tickets for a small team's issue tracker. Given an issue's title, optional description and the list of available tags, return a JSON object with exactly three fields:

- "description": a clear description of the issue in 1-4 sentences. If a description is provided, improve it for clarity without dropping details. If not, write one from the title.
- "priority": one of "low", "medium", "high", "urgent". Crashes, data loss and security problems are "high" or "urgent"; cosmetic issues and nice-to-haves are "low".
- "tags": the names of the available tags that apply, chosen only from the list given. Use an empty array if none apply.

Rules:
- Return valid JSON only, no markdown fencing or explanation
- Never invent tag names`

	var sb strings.Builder
	sb.WriteString("Issue title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nExisting description: ")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	if len(tags) > 0 {
		sb.WriteString("\nAvailable tags: ")
		sb.WriteString(strings.Join(tags, ", "))
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// EnrichIssue asks the LLM for an improved description, a priority and
// matching tags.
func (c *Client) EnrichIssue(ctx context.Context, title, description string, tags []string) (*Enrichment, error) {
	systemPrompt, userPrompt := buildEnrichPrompt(title, description, tags)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseEnrichment(text)
}

func parseEnrichment(text string) (*Enrichment, error) {
	text = stripFence(text)
	var e Enrichment
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	e.Priority = strings.ToLower(strings.TrimSpace(e.Priority))
	return &e, nil
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
