package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

const groundingSystemPrompt = `You pick UI elements on mobile and web screenshots.
You receive a screenshot, a numbered list of candidate elements with pixel boxes, and a user intent.
Reply with a JSON object: {"selected_id": "<candidate id>", "confidence": <0..1>, "reason": "<short>"}.
If no candidate matches, use the closest one and a low confidence.`

// OpenAIConfig configures an OpenAI-compatible vision grounder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIGrounder asks a vision-capable chat model to arbitrate candidates.
type OpenAIGrounder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGrounder creates a grounder backed by the chat completions API.
// An empty APIKey falls back to OPENAI_API_KEY.
func NewOpenAIGrounder(cfg OpenAIConfig) (*OpenAIGrounder, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("openai grounder: API key not set")
	}

	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger.Info("openai grounder: model=%s base=%s", model, oc.BaseURL)
	return &OpenAIGrounder{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: timeout,
	}, nil
}

// Pick implements Grounder.
func (g *OpenAIGrounder) Pick(ctx context.Context, req GroundingRequest) Selection {
	if len(req.Candidates) == 0 {
		return FallbackSelection(req.Candidates, "no candidates")
	}

	data, err := os.ReadFile(req.ScreenshotPath) //#nosec G304 -- screenshot written by the executor
	if err != nil {
		logger.Warn("openai grounder: read screenshot: %v", err)
		return FallbackSelection(req.Candidates, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: groundingSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: groundingPrompt(req)},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		logger.Warn("openai grounder: [%v] %v", time.Since(start), err)
		return FallbackSelection(req.Candidates, err.Error())
	}
	logger.Debug("openai grounder: [%v] %d choices", time.Since(start), len(resp.Choices))

	if len(resp.Choices) == 0 {
		return FallbackSelection(req.Candidates, "no choices")
	}

	sel, err := parseSelection(resp.Choices[0].Message.Content)
	if err != nil {
		logger.Warn("openai grounder: %v", err)
		return FallbackSelection(req.Candidates, err.Error())
	}
	if _, ok := FindCandidate(req.Candidates, sel.SelectedID); !ok {
		return FallbackSelection(req.Candidates, "unknown candidate "+sel.SelectedID)
	}
	return sel
}

func groundingPrompt(req GroundingRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", req.Intent)
	if req.Hint != nil {
		fmt.Fprintf(&b, "Last seen near normalized box x=%.3f y=%.3f w=%.3f h=%.3f\n",
			req.Hint.X, req.Hint.Y, req.Hint.W, req.Hint.H)
	}
	b.WriteString("Candidates:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "- id=%s type=%s text=%q box=[%.0f,%.0f,%.0f,%.0f]\n",
			c.ID, c.Type, c.Text, c.BBox.X, c.BBox.Y, c.BBox.W, c.BBox.H)
	}
	return b.String()
}

// parseSelection tolerates models that wrap JSON in a code fence.
func parseSelection(content string) (Selection, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	var sel Selection
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &sel); err != nil {
		return Selection{}, fmt.Errorf("parse selection: %w", err)
	}
	if sel.SelectedID == "" {
		return Selection{}, fmt.Errorf("parse selection: empty selected_id")
	}
	return sel, nil
}
