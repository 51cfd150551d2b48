// Package deepl implements the DeepL v2 text translation API.
package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/httputil"
	"github.com/lmoretti/lingo-gateway/internal/provider"
)

// MaxBatchTexts is the API's per-request text limit.
const MaxBatchTexts = 50

type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey, baseURL string) *Provider {
	return &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httputil.DefaultClient(),
	}
}

func (p *Provider) ID() string {
	return "deepl"
}

type translateResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func (p *Provider) Translate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	form := url.Values{}
	for _, t := range req.Texts {
		form.Add("text", t)
	}
	form.Set("source_lang", strings.ToUpper(req.SourceLang))
	form.Set("target_lang", strings.ToUpper(req.TargetLang))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, provider.ClassifyStatus(p.ID(), resp.StatusCode, body)
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(tr.Translations) != len(req.Texts) {
		return nil, fmt.Errorf("expected %d translations, got %d: %w",
			len(req.Texts), len(tr.Translations), domain.ErrModel)
	}

	texts := make([]string, len(tr.Translations))
	for i, t := range tr.Translations {
		texts[i] = t.Text
	}

	return &provider.Result{Texts: texts}, nil
}

type usageResponse struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// RemainingQuota reports the account's remaining character allowance.
func (p *Provider) RemainingQuota(ctx context.Context) (domain.RemainingQuota, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/usage", nil)
	if err != nil {
		return domain.RemainingQuota{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.RemainingQuota{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.RemainingQuota{}, provider.ClassifyStatus(p.ID(), resp.StatusCode, body)
	}

	var ur usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return domain.RemainingQuota{}, fmt.Errorf("decode response: %w", err)
	}

	remaining := ur.CharacterLimit - ur.CharacterCount
	if remaining < 0 {
		remaining = 0
	}
	return domain.RemainingQuota{Chars: remaining}, nil
}
