package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"cruise-scraper/models"
	"cruise-scraper/utils"
)

const defaultLLMModel = "gpt-4o-mini"

const decisionPrompt = `You route cruise search queries to data adapters.
Available adapters: %s.
Reply with a single JSON object {"adapterName": string, "adapterArgs": object} and nothing else.
Prefer the structured API when the query has a destination or cruise line.`

// LLMOptions configures an LLMPolicy.
type LLMOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Adapters   []string
	Rule       RulePolicy
	Logger     *utils.Logger
}

// LLMPolicy asks a chat model to pick the first adapter. Any failure or an
// answer naming an unknown adapter falls back to the rule.
type LLMPolicy struct {
	client   openai.Client
	model    string
	adapters []string
	rule     RulePolicy
	logger   *utils.Logger
}

// NewLLMPolicy builds the chat client. Without opts.Adapters the model may
// choose between the rule's primary and fallback adapters.
func NewLLMPolicy(opts LLMOptions) *LLMPolicy {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.Model
	if model == "" {
		model = defaultLLMModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	adapters := opts.Adapters
	if len(adapters) == 0 {
		adapters = []string{opts.Rule.primary(), opts.Rule.fallback()}
	}
	return &LLMPolicy{
		client:   openai.NewClient(reqOpts...),
		model:    model,
		adapters: adapters,
		rule:     opts.Rule,
		logger:   logger,
	}
}

func (p *LLMPolicy) Decide(ctx context.Context, q models.Query) (models.Decision, error) {
	d, err := p.ask(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return models.Decision{}, ctx.Err()
		}
		p.logger.Warn("[policy] Model decision failed, using rule: %v", err)
		return p.rule.Decide(ctx, q)
	}
	p.logger.Debug("[policy] Model picked %s", d.AdapterName)
	return d, nil
}

func (p *LLMPolicy) Fallback(ctx context.Context, q models.Query, tried models.Decision) (models.Decision, bool) {
	return p.rule.Fallback(ctx, q, tried)
}

func (p *LLMPolicy) ask(ctx context.Context, q models.Query) (models.Decision, error) {
	query, err := json.Marshal(q)
	if err != nil {
		return models.Decision{}, fmt.Errorf("encode query: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(decisionPrompt, strings.Join(p.adapters, ", "))),
			openai.UserMessage(string(query)),
		},
	})
	if err != nil {
		return models.Decision{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Decision{}, errors.New("chat completion: no choices")
	}
	return p.parseDecision(resp.Choices[0].Message.Content)
}

func (p *LLMPolicy) parseDecision(content string) (models.Decision, error) {
	var d models.Decision
	if err := json.Unmarshal([]byte(stripFences(content)), &d); err != nil {
		return d, fmt.Errorf("decode decision: %w", err)
	}
	for _, name := range p.adapters {
		if name == d.AdapterName {
			if d.AdapterArgs == nil {
				d.AdapterArgs = models.AdapterArgs{}
			}
			return d, nil
		}
	}
	return models.Decision{}, fmt.Errorf("unknown adapter %q", d.AdapterName)
}

// stripFences removes a markdown code fence around a model reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
