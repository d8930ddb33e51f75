package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jiangjiechen/auction-arena/config"
	openai_provider "github.com/jiangjiechen/auction-arena/provider/openai"
)

// Role tags a conversation message.
const (
	RoleSystem    = "system"
	RoleHuman     = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry in a conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System, Human and Assistant are convenience constructors for Message.
func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func Human(content string) Message     { return Message{Role: RoleHuman, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Options tune one completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption of one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// Provider is the black-box reasoning oracle bidders consult. Implementations
// must be safe for concurrent use; callers are expected to retry on any error.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, Usage, error)
	// CountTokens estimates how many tokens the messages occupy, used to size
	// the output budget against the model's context window.
	CountTokens(messages []Message) int
	ContextWindow() int
	ModelName() string
}

// NewProvider creates a provider for the given model key based on configuration.
func NewProvider(cfg config.LLMConfig, model string) (Provider, error) {
	for _, pc := range cfg.Providers {
		mc, ok := pc.Models[model]
		if !ok {
			continue
		}
		switch pc.Type {
		case "openai":
			apiKey := pc.APIKey
			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			if apiKey == "" {
				return nil, errors.New("OPENAI_API_KEY not set")
			}
			return &openAIProvider{
				client: openai_provider.NewClient(apiKey, pc.BaseURL, mc, pc.Timeout),
				model:  mc,
			}, nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", pc.Type)
		}
	}
	return nil, fmt.Errorf("model %s not configured under any provider", model)
}

// openAIProvider adapts the raw OpenAI client to the Provider interface.
type openAIProvider struct {
	client *openai_provider.Client
	model  config.LLMModel
}

func (p *openAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, Usage, error) {
	msgs := make([]openai_provider.Message, len(messages))
	for i, m := range messages {
		msgs[i] = openai_provider.Message{Role: m.Role, Content: m.Content}
	}
	text, in, out, err := p.client.Complete(ctx, msgs, opts.Temperature, opts.MaxTokens)
	if err != nil {
		return "", Usage{}, err
	}
	usage := Usage{
		PromptTokens:     in,
		CompletionTokens: out,
	}
	usage.Cost = float64(in)/1000.0*p.model.CostPer1K + float64(out)/1000.0*p.model.CostPer1KOutput
	return text, usage, nil
}

// CountTokens approximates token counts at four characters per token plus a
// fixed per-message overhead. Good enough for sizing output budgets; exact
// counts come back in Usage after the call.
func (p *openAIProvider) CountTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)/4 + 4
	}
	return total
}

func (p *openAIProvider) ContextWindow() int {
	if p.model.ContextWindow > 0 {
		return p.model.ContextWindow
	}
	return 8000
}

func (p *openAIProvider) ModelName() string { return p.model.Name }

// OutputBudget computes the max-output-token budget for a call given the
// remaining context window, floored at the model's minimum output allowance.
func OutputBudget(p Provider, messages []Message, minOutput int) int {
	if minOutput <= 0 {
		minOutput = 192
	}
	budget := p.ContextWindow() - p.CountTokens(messages)
	if budget < minOutput {
		budget = minOutput
	}
	return budget
}
