package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.0-flash"
)

// GeminiProvider calls the Gemini generateContent REST endpoint.
type GeminiProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewGeminiProvider(baseURL, apiKey, model string, timeout time.Duration) *GeminiProvider {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = DefaultGeminiModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiProvider{
		baseURL: base,
		apiKey:  strings.TrimSpace(apiKey),
		model:   trimmedModel,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if p == nil {
		return Analysis{}, fmt.Errorf("gemini provider is nil")
	}
	if p.apiKey == "" {
		return Analysis{}, fmt.Errorf("gemini: api key is not configured")
	}

	body, err := json.Marshal(geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: buildUserPrompt(req)}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.3,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, url.PathEscape(p.model), url.QueryEscape(p.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Analysis{}, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Analysis{}, fmt.Errorf("send gemini request: %w", redactKey(err, p.apiKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Analysis{}, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Analysis{}, fmt.Errorf("gemini status 429: %w", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload geminiErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil && strings.TrimSpace(errPayload.Error.Message) != "" {
			if strings.EqualFold(errPayload.Error.Status, "RESOURCE_EXHAUSTED") {
				return Analysis{}, fmt.Errorf("gemini: %s: %w", errPayload.Error.Message, ErrRateLimited)
			}
			return Analysis{}, fmt.Errorf("gemini status %d: %s", resp.StatusCode, errPayload.Error.Message)
		}
		return Analysis{}, fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Analysis{}, fmt.Errorf("decode gemini response: %w", err)
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Analysis{}, fmt.Errorf("gemini: empty reply: %w", ErrMalformedResponse)
	}

	return ParseAnalysis(text.String())
}

// redactKey keeps the API key (sent as a query parameter) out of logged errors.
func redactKey(err error, key string) error {
	if err == nil || key == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED")
	msg = strings.ReplaceAll(msg, key, "REDACTED")
	return errors.New(msg)
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
