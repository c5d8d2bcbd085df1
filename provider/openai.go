package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelflow/modelflow/core/chat"
)

const contentTypeJSON = "application/json"

// modelContextLimits maps hosted model names to their context windows.
// Consulted when configuration does not override the limit.
var modelContextLimits = map[string]int{
	"gpt-3.5-turbo":     16385,
	"gpt-3.5-turbo-16k": 16385,
	"gpt-4":             8192,
	"gpt-4-32k":         32768,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
}

// openAIProvider talks to an OpenAI-compatible chat completions endpoint.
type openAIProvider struct {
	id           string
	apiKey       string
	model        string
	chatURL      string
	headers      map[string]string
	client       *http.Client
	contextLimit int
	tokenizerID  string
}

// NewOpenAI creates a Provider for an OpenAI-compatible hosted backend.
// When cfg.ContextLimit is zero the limit is derived from the model name;
// unknown models are rejected so a misconfigured flow fails at construction
// rather than mid-dispatch.
func NewOpenAI(cfg Config, client *http.Client) (Provider, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("provider %s: model must not be empty", cfg.ID)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	limit := cfg.ContextLimit
	if limit == 0 {
		known, ok := modelContextLimits[cfg.Model]
		if !ok {
			return nil, fmt.Errorf("%w: no context limit known for model %q, set context_limit explicitly", ErrUnknownModel, cfg.Model)
		}
		limit = known
	}

	tokenizerID := cfg.TokenizerID
	if tokenizerID == "" {
		tokenizerID = "bpe:cl100k_base"
	}

	return &openAIProvider{
		id:           cfg.ID,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		chatURL:      baseURL + "/chat/completions",
		headers:      cfg.Headers,
		client:       client,
		contextLimit: limit,
		tokenizerID:  tokenizerID,
	}, nil
}

func (p *openAIProvider) ID() string          { return p.id }
func (p *openAIProvider) ContextLimit() int   { return p.contextLimit }
func (p *openAIProvider) TokenizerID() string { return p.tokenizerID }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	User        string          `json:"user,omitempty"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *openAIProvider) Complete(ctx context.Context, messages []chat.Message, params chat.GenerationParams) (*chat.CompletionResult, error) {
	payload := openAIChatPayload{
		Model:    p.model,
		Messages: make([]openAIMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	applyParams(&payload, params)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &FatalError{ProviderID: p.id, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{ProviderID: p.id, Err: fmt.Errorf("construct request: %w", err)}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Network-level failures (refused, reset, DNS) are retryable.
		return nil, &TransientError{ProviderID: p.id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(p.id, resp.StatusCode, parseAPIError(resp))
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &TransientError{ProviderID: p.id, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &FatalError{ProviderID: p.id, Err: ErrEmptyCompletion}
	}

	choice := parsed.Choices[0]
	return &chat.CompletionResult{
		Content:      choice.Message.Content,
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

func applyParams(payload *openAIChatPayload, params chat.GenerationParams) {
	if v, ok := extractInt(params, "max_tokens"); ok {
		payload.MaxTokens = &v
	}
	if v, ok := extractFloat(params, "temperature"); ok {
		payload.Temperature = &v
	}
	if v, ok := extractFloat(params, "top_p"); ok {
		payload.TopP = &v
	}
	if v, ok := extractStringSlice(params, "stop"); ok {
		payload.Stop = v
	}
	if v, ok := params["user"].(string); ok {
		payload.User = v
	}
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("status %d and unreadable body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("upstream error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
	}
	return fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func extractFloat(params chat.GenerationParams, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func extractInt(params chat.GenerationParams, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func extractStringSlice(params chat.GenerationParams, key string) ([]string, bool) {
	if params == nil {
		return nil, false
	}
	switch v := params[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
