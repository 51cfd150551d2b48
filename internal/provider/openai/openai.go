// Package openai translates text through the chat completions API with a
// fixed translation prompt.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/httputil"
	"github.com/lmoretti/lingo-gateway/internal/provider"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = "You are a translation engine. Translate the user's text from %s to %s. Reply with the translation only, no explanations, preserving formatting."

type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func New(apiKey, baseURL string) *Provider {
	return &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   defaultModel,
		client:  httputil.DefaultClient(),
	}
}

func (p *Provider) ID() string {
	return "openai"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) Translate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if len(req.Texts) != 1 {
		return nil, fmt.Errorf("openai: single-text calls only, got %d texts: %w", len(req.Texts), domain.ErrModel)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, req.SourceLang, req.TargetLang)},
			{Role: "user", Content: req.Texts[0]},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.ClassifyStatus(p.ID(), resp.StatusCode, respBody)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices: %w", domain.ErrModel)
	}

	return &provider.Result{
		Texts:  []string{cr.Choices[0].Message.Content},
		Tokens: cr.Usage.TotalTokens,
	}, nil
}
