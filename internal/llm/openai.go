package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIDetector implements Detector using OpenAI chat completions in JSON mode.
type OpenAIDetector struct {
	client       oai.Client
	model        string
	systemPrompt string
	logger       *log.Logger
	onUsage      func(promptTokens, completionTokens int64)
}

// OpenAIConfig holds configuration for the OpenAI detector.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional, e.g. a proxy or a test server
	Model        string // e.g., "gpt-4o"
	SystemPrompt string // Optional custom system prompt
	// OnUsage, when set, receives token usage for every successful call.
	OnUsage func(promptTokens, completionTokens int64)
}

// NewOpenAIDetector creates a new OpenAI verse detector. Requests are not
// retried.
func NewOpenAIDetector(cfg OpenAIConfig, logger *log.Logger) *OpenAIDetector {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SystemPromptVerseDetection
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIDetector{
		client:       oai.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
		logger:       logger,
		onUsage:      cfg.OnUsage,
	}
}

// DetectVerses asks the model which verses text refers to.
func (d *OpenAIDetector) DetectVerses(ctx context.Context, text string) ([]VerseSuggestion, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(d.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(d.systemPrompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.2),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &DetectionError{Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &DetectionError{Err: fmt.Errorf("no choices in response")}
	}
	if d.onUsage != nil {
		d.onUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	suggestions, dropped, err := ParseSuggestions(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, &DetectionError{Err: err}
	}
	if dropped > 0 && d.logger != nil {
		d.logger.Printf("llm: dropped %d suggestions with invalid confidence", dropped)
	}
	return suggestions, nil
}

// rawSuggestion keeps confidence_score undecoded so each entry can be
// validated on its own.
type rawSuggestion struct {
	Reference       string          `json:"reference"`
	ConfidenceScore json.RawMessage `json:"confidence_score"`
}

type rawResponse struct {
	Verses []rawSuggestion `json:"verses"`
}

// ParseSuggestions decodes a model response. Markdown code fences are
// tolerated and a bare array is accepted in place of {"verses": [...]}.
// A suggestion with a missing or non-numeric confidence_score, or an empty
// reference, is dropped and counted; numeric scores are rounded and clamped
// to [0,100]. Only a response that is not JSON at all is an error.
func ParseSuggestions(content string) ([]VerseSuggestion, int, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw []rawSuggestion
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			return nil, 0, fmt.Errorf("failed to parse verse suggestions: %w (content: %s)", err, content)
		}
	} else {
		var resp rawResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return nil, 0, fmt.Errorf("failed to parse verse suggestions: %w (content: %s)", err, content)
		}
		raw = resp.Verses
	}

	out := make([]VerseSuggestion, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		ref := strings.TrimSpace(r.Reference)
		score, ok := parseConfidence(r.ConfidenceScore)
		if ref == "" || !ok {
			dropped++
			continue
		}
		out = append(out, VerseSuggestion{Reference: ref, Confidence: score})
	}
	return out, dropped, nil
}

// parseConfidence accepts only JSON numbers.
func parseConfidence(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return ClampConfidence(f), true
}

// ClampConfidence rounds f and clamps it to [0,100].
func ClampConfidence(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, f))))
}
