// Package triage provides the default collab.Triage implementation: a
// single Anthropic API call that recommends retry, terminate, or
// extend for a stalled agent session.
package triage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jayminwest/overstory/internal/collab"
)

// Client evaluates stalled sessions against the Anthropic API. The
// zero value is not usable; construct with New.
type Client struct {
	sdk   anthropic.Client
	model anthropic.Model
}

// Config selects the API key and model used for triage calls. If
// APIKey is empty, ANTHROPIC_API_KEY is read from the environment. If
// Model is empty, a fast model is used since triage is a narrow
// classification task, not a coding task.
type Config struct {
	APIKey string
	Model  string
}

// New constructs a Client. It returns an error only when no API key is
// available from either Config or the environment; callers that want
// triage to be entirely optional should treat that as "disabled" and
// fall back to a no-op collab.Triage rather than failing startup.
func New(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("triage: no Anthropic API key configured")
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeHaiku4_5_20251001
	}

	return &Client{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}, nil
}

// Evaluate asks the model to pick one of retry, terminate, or extend
// for the given stalled session. Any transport or parse failure is
// returned as an error; §7's fail-open handling of external-
// collaborator errors lives in the watchdog's escalation ladder, not
// here.
func (c *Client) Evaluate(ctx context.Context, req collab.TriageRequest) (collab.TriageVerdict, error) {
	prompt := fmt.Sprintf(
		"Agent %q in project %q has not reported activity since %s. "+
			"Recommend exactly one of: retry, terminate, extend. "+
			"retry means the agent is likely recoverable with a nudge. "+
			"terminate means the agent is stuck or has failed and its "+
			"terminal should be killed. extend means the agent is doing "+
			"legitimately slow work and should be left alone. "+
			"Respond with only that single word.",
		req.AgentName, req.ProjectRoot, req.LastActivity.Format("15:04:05 MST"),
	)

	resp, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 16,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("triage: api call: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return parseVerdict(text.String())
}

func parseVerdict(raw string) (collab.TriageVerdict, error) {
	word := strings.ToLower(strings.TrimSpace(raw))
	word = strings.Trim(word, ".\"'")
	switch {
	case strings.Contains(word, "terminate"):
		return collab.TriageTerminate, nil
	case strings.Contains(word, "retry"):
		return collab.TriageRetry, nil
	case strings.Contains(word, "extend"):
		return collab.TriageExtend, nil
	default:
		return "", fmt.Errorf("triage: unrecognized verdict %q", raw)
	}
}
