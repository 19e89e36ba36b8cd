package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultDeepSeekEndpoint = "https://api.deepseek.com/v1"
	DefaultDeepSeekModel    = "deepseek-chat"
)

// ChatProvider analyzes articles through an OpenAI-compatible chat
// completions endpoint (DeepSeek by default).
type ChatProvider struct {
	name        string
	endpointURL string
	apiKey      string
	model       string
	client      *http.Client
}

func NewChatProvider(name, endpoint, apiKey, model string, timeout time.Duration) *ChatProvider {
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = DefaultDeepSeekModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	trimmedName := strings.ToLower(strings.TrimSpace(name))
	if trimmedName == "" {
		trimmedName = "deepseek"
	}
	return &ChatProvider{
		name:        trimmedName,
		endpointURL: chatCompletionsURL(endpoint),
		apiKey:      strings.TrimSpace(apiKey),
		model:       trimmedModel,
		client:      &http.Client{Timeout: timeout},
	}
}

func (p *ChatProvider) Name() string {
	return p.name
}

func (p *ChatProvider) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if p == nil {
		return Analysis{}, fmt.Errorf("chat provider is nil")
	}
	if p.apiKey == "" {
		return Analysis{}, fmt.Errorf("%s: api key is not configured", p.name)
	}

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature:    0.3,
		ResponseFormat: &chatResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpointURL, bytes.NewReader(body))
	if err != nil {
		return Analysis{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Analysis{}, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Analysis{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Analysis{}, fmt.Errorf("%s status 429: %w", p.name, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload chatErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return Analysis{}, fmt.Errorf("%s status %d: %s", p.name, resp.StatusCode, msg)
			}
		}
		return Analysis{}, fmt.Errorf("%s status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Analysis{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Analysis{}, fmt.Errorf("%s: empty reply: %w", p.name, ErrMalformedResponse)
	}

	return ParseAnalysis(parsed.Choices[0].Message.Content)
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func chatCompletionsURL(endpoint string) string {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		trimmed = DefaultDeepSeekEndpoint
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultDeepSeekEndpoint + "/chat/completions"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		parsed.Path = path
	case path == "":
		parsed.Path = "/chat/completions"
	default:
		parsed.Path = path + "/chat/completions"
	}
	return parsed.String()
}
