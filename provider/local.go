package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelflow/modelflow/core/chat"
)

const defaultLocalContextLimit = 2048

// localProvider talks to a locally hosted completion server (llama.cpp,
// gpt4all-api, and compatible). History is flattened into a single prompt
// of "role: content" lines, the way small local models are usually primed.
type localProvider struct {
	id           string
	completeURL  string
	client       *http.Client
	contextLimit int
	tokenizerID  string
	model        string
}

// NewLocal creates a Provider for a locally run model server.
func NewLocal(cfg Config, client *http.Client) (Provider, error) {
	if client == nil {
		client = http.DefaultClient
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:4891/v1"
	}

	limit := cfg.ContextLimit
	if limit == 0 {
		limit = defaultLocalContextLimit
	}

	tokenizerID := cfg.TokenizerID
	if tokenizerID == "" {
		tokenizerID = "heuristic:v1"
	}

	return &localProvider{
		id:           cfg.ID,
		completeURL:  baseURL + "/completions",
		client:       client,
		contextLimit: limit,
		tokenizerID:  tokenizerID,
		model:        cfg.Model,
	}, nil
}

func (p *localProvider) ID() string          { return p.id }
func (p *localProvider) ContextLimit() int   { return p.contextLimit }
func (p *localProvider) TokenizerID() string { return p.tokenizerID }

// FlattenPrompt renders a message sequence as the single prompt string sent
// to local completion servers.
func FlattenPrompt(messages []chat.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}

type localCompletionPayload struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type localCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *localProvider) Complete(ctx context.Context, messages []chat.Message, params chat.GenerationParams) (*chat.CompletionResult, error) {
	payload := localCompletionPayload{
		Model:  p.model,
		Prompt: FlattenPrompt(messages),
	}
	if v, ok := extractInt(params, "max_tokens"); ok {
		payload.MaxTokens = &v
	}
	if v, ok := extractFloat(params, "temperature"); ok {
		payload.Temperature = &v
	}
	if v, ok := extractStringSlice(params, "stop"); ok {
		payload.Stop = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &FatalError{ProviderID: p.id, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.completeURL, bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{ProviderID: p.id, Err: fmt.Errorf("construct request: %w", err)}
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &TransientError{ProviderID: p.id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(p.id, resp.StatusCode, parseAPIError(resp))
	}

	var parsed localCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &TransientError{ProviderID: p.id, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &FatalError{ProviderID: p.id, Err: ErrEmptyCompletion}
	}

	choice := parsed.Choices[0]
	return &chat.CompletionResult{
		Content:      strings.TrimSpace(choice.Text),
		ProviderID:   p.id,
		Model:        parsed.Model,
		FinishReason: choice.FinishReason,
		Usage: chat.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}
