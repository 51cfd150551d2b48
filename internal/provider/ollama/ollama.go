// Package ollama translates text through a locally resident model served
// by Ollama. Only one inference context fits in memory at a time, so the
// dispatcher registers this provider as Local and serializes calls to it.
package ollama

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

const defaultModel = "gemma2:2b"

type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

func New(baseURL string) *Provider {
	return &Provider{
		baseURL: baseURL,
		model:   defaultModel,
		client:  httputil.DefaultClient(),
	}
}

func (p *Provider) ID() string {
	return "ollama"
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message       chatMessage `json:"message"`
	Done          bool        `json:"done"`
	PromptEvalCnt int         `json:"prompt_eval_count"`
	EvalCount     int         `json:"eval_count"`
}

func (p *Provider) Translate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if len(req.Texts) != 1 {
		return nil, fmt.Errorf("ollama: single-text calls only, got %d texts: %w", len(req.Texts), domain.ErrModel)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{
				Role: "system",
				Content: fmt.Sprintf("You are a translation engine. Translate the user's text from %s to %s. Reply with the translation only.",
					req.SourceLang, req.TargetLang),
			},
			{Role: "user", Content: req.Texts[0]},
		},
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	return &provider.Result{
		Texts:  []string{cr.Message.Content},
		Tokens: cr.PromptEvalCnt + cr.EvalCount,
	}, nil
}
