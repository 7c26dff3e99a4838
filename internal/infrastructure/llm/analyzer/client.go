// Package analyzer implements C8: calling the external LLM with a cacheable
// system preamble and parsing its structured response. Grounded on the
// anthropic-sdk-go usage pattern for post-execution analysis elsewhere in
// the corpus, generalized from a single-shot analysis call to the
// project-analysis response shape this pipeline needs.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

const systemPreamble = `You are a senior software architect reviewing an unfamiliar codebase.
Given the project context below, produce a JSON object with exactly these keys:
summary (string), techStack (object mapping category to array of strings),
complexity ("simple"|"moderate"|"complex"), recommendations (array of
{kind, priority, message}), completionScore (integer 0-100),
maturityLevel ("poc"|"prototype"|"production"), productionGaps (array of
strings), estimatedValue ({amount, currency, confidence}).
Respond with ONLY the raw JSON object, no markdown fences, no commentary.`

type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
}

func (c Config) normalize() Config {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

type Client struct {
	cfg    Config
	client anthropic.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.normalize()
	return &Client{
		cfg:    cfg,
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		logger: logger,
	}
}

// Analyze implements C8's contract. The system preamble is identical across
// calls and marked cacheable at the provider's protocol layer; correctness
// never depends on whether the provider honours the cache hint.
func (c *Client) Analyze(ctx context.Context, projectContext domain.ProjectContext, projectID string) (domain.Analysis, error) {
	userMessage := buildUserMessage(projectContext)

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: anthropic.Float(c.cfg.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPreamble, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	})
	if err != nil {
		return domain.Analysis{}, classifyAndWrap(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	analysis, parseErr := parseAnalysis(text.String())
	if parseErr != nil {
		c.logger.Warn("analyzer_parse_failed", "project_id", projectID, "error", parseErr)
		analysis = domain.FallbackAnalysis(projectID, c.cfg.Model)
	}
	analysis.ProjectID = projectID
	analysis.Model = c.cfg.Model
	analysis.TokensUsed = int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	return analysis, nil
}

func buildUserMessage(pc domain.ProjectContext) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Project summary: %d files, %d lines of code, %d bytes.\n\n", pc.FileCount, pc.LinesOfCode, pc.TotalSize))
	if pc.Readme != nil {
		b.WriteString("=== README ===\n")
		b.WriteString(pc.Readme.Content)
		b.WriteString("\n\n")
	}
	if pc.Manifest != nil {
		b.WriteString("=== Manifest (" + pc.Manifest.Path + ") ===\n")
		b.WriteString(pc.Manifest.Content)
		b.WriteString("\n\n")
	}
	for _, f := range pc.Files {
		b.WriteString("=== " + f.Path + " ===\n")
		b.WriteString(f.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var bracedJSON = regexp.MustCompile(`(?s)\{.*\}`)

// parseAnalysis extracts a JSON object from the model's response, preferring
// a fenced json block and falling back to the first {...} span, mirroring
// the brace-matching fallback used by the corpus's other LLM client.
func parseAnalysis(text string) (domain.Analysis, error) {
	var raw string
	if m := fencedJSON.FindStringSubmatch(text); len(m) == 2 {
		raw = m[1]
	} else if m := bracedJSON.FindString(text); m != "" {
		raw = m
	} else {
		return domain.Analysis{}, fmt.Errorf("no JSON object found in analyzer response")
	}

	var parsed struct {
		Summary         string                     `json:"summary"`
		TechStack       domain.TechStack            `json:"techStack"`
		Complexity      domain.ComplexityLevel      `json:"complexity"`
		Recommendations []domain.Recommendation     `json:"recommendations"`
		CompletionScore int                         `json:"completionScore"`
		MaturityLevel   domain.MaturityLevel        `json:"maturityLevel"`
		ProductionGaps  []string                    `json:"productionGaps"`
		EstimatedValue  domain.EstimatedValue       `json:"estimatedValue"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.Analysis{}, fmt.Errorf("unmarshal analyzer response: %w", err)
	}

	analysis := domain.Analysis{
		Summary:         parsed.Summary,
		TechStack:       parsed.TechStack,
		Complexity:      parsed.Complexity,
		Recommendations: parsed.Recommendations,
		CompletionScore: parsed.CompletionScore,
		MaturityLevel:   parsed.MaturityLevel,
		ProductionGaps:  parsed.ProductionGaps,
		EstimatedValue:  parsed.EstimatedValue,
	}
	if analysis.TechStack == nil {
		analysis.TechStack = domain.TechStack{}
	}
	if analysis.Complexity == "" {
		analysis.Complexity = domain.ComplexityModerate
	}
	if analysis.MaturityLevel == "" {
		analysis.MaturityLevel = domain.MaturityPOC
	}
	if analysis.ProductionGaps == nil {
		analysis.ProductionGaps = []string{}
	}
	if analysis.EstimatedValue.Confidence == "" {
		analysis.EstimatedValue.Confidence = "low"
	}
	return analysis, nil
}

// classifyAndWrap maps provider errors onto the shared retry vocabulary C6
// understands (429/529 status codes, or message text it already scans for).
func classifyAndWrap(err error) error {
	var apiErr *anthropic.Error
	if ae, ok := err.(*anthropic.Error); ok {
		apiErr = ae
	}
	if apiErr != nil {
		return fmt.Errorf("analyzer call failed with status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("analyzer call failed: %w", err)
}
