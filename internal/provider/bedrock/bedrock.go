// Package bedrock translates text through an Anthropic model on AWS
// Bedrock with a fixed translation prompt.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/provider"
)

const defaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"

type Provider struct {
	client *bedrockruntime.Client
	region string
}

func New(ctx context.Context, region string) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Provider{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
	}, nil
}

func NewWithConfig(cfg aws.Config) *Provider {
	return &Provider{
		client: bedrockruntime.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

func (p *Provider) ID() string {
	return "bedrock"
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Translate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if len(req.Texts) != 1 {
		return nil, fmt.Errorf("bedrock: single-text calls only, got %d texts: %w", len(req.Texts), domain.ErrModel)
	}

	modelID := req.Model
	if modelID == "" {
		modelID = defaultModelID
	}

	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		System: fmt.Sprintf("You are a translation engine. Translate the user's text from %s to %s. Reply with the translation only.",
			req.SourceLang, req.TargetLang),
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Texts[0]},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}

	output, err := p.client.InvokeModel(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w: %v", domain.ErrNetwork, err)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(output.Body, &ar); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(ar.Content) == 0 {
		return nil, fmt.Errorf("bedrock: empty content: %w", domain.ErrModel)
	}

	return &provider.Result{
		Texts:  []string{ar.Content[0].Text},
		Tokens: ar.Usage.InputTokens + ar.Usage.OutputTokens,
	}, nil
}
