package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

const snapshotLimit = 24000

// ClaudeAnalyzer captures a state snapshot of the target with an operator
// supplied command and asks Claude to classify what is wrong with it.
type ClaudeAnalyzer struct {
	client    anthropic.Client
	model     string
	maxTokens int
	snapshot  string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClaudeAnalyzer builds an analyzer from config. snapshotCommand may be a
// per-target override; when empty the global analyzer command is used.
func NewClaudeAnalyzer(apiKey string, cfg config.AnalyzerConfig, snapshotCommand string, logger *slog.Logger) (*ClaudeAnalyzer, error) {
	if snapshotCommand == "" {
		snapshotCommand = cfg.SnapshotCommand
	}
	if snapshotCommand == "" {
		return nil, utils.NewAppError("analyzer.init", "no snapshot command configured", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaudeAnalyzer{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		snapshot:  snapshotCommand,
		timeout:   cfg.Timeout,
		logger:    logger,
	}, nil
}

// Analyze runs the snapshot command, sends the output to the model, and
// parses the structured findings out of the reply.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, target string) ([]models.Finding, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	snapshot, err := a.captureSnapshot(ctx)
	if err != nil {
		return nil, utils.NewAppError("analyzer.snapshot", "snapshot command failed", err)
	}

	response, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(target, snapshot))),
		},
	})
	if err != nil {
		return nil, utils.NewAppError("analyzer.call", "model request failed", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	findings, err := ParseFindings(text.String(), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	a.logger.Debug("analysis complete",
		"target", target,
		"findings", len(findings),
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)
	return findings, nil
}

func (a *ClaudeAnalyzer) captureSnapshot(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", a.snapshot)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	text := string(out)
	if len(text) > snapshotLimit {
		text = text[len(text)-snapshotLimit:]
	}
	return text, nil
}

func buildPrompt(target, snapshot string) string {
	return fmt.Sprintf(`You are a cluster health analyst monitoring the resource pool %q.

Below is the current state snapshot. Identify every service that is unhealthy.

Snapshot:
%s

Respond with ONLY a raw JSON object, no markdown fences:
{
  "findings": [
    {
      "service": "name of the affected service",
      "namespace": "namespace if known, else empty",
      "severity": "low|medium|high|critical",
      "status_keyword": "CrashLoop|OOM|ImagePull|Pending|Unknown",
      "description": "one sentence on what is wrong"
    }
  ]
}

Return {"findings": []} when everything is healthy. Use "Unknown" for any failure mode outside the listed keywords.`, target, snapshot)
}
