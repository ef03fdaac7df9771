package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"nijichat/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// ChatModelCompleter sends the rendered prompt as a single user turn to an eino chat model.
type ChatModelCompleter struct {
	chatModel model.BaseChatModel
	opts      []model.Option
}

// NewChatModelCompleter builds the chat model for provider from cfg.Providers.
func NewChatModelCompleter(ctx context.Context, provider string, cfg *config.Config) (*ChatModelCompleter, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelName := cfg.Inference.Model
	if modelName == "" {
		modelName = provCfg.Model
	}
	token := provCfg.APIKey
	if token == "" {
		token = cfg.Inference.APIKey
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case ProviderOpenAI:
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  token,
		})
	case ProviderGemini:
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: token,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    token,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: DefaultParameters.MaxNewTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("new %s chat model: %w", provider, err)
	}
	return NewChatModelCompleterWith(chatModel), nil
}

// NewChatModelCompleterWith wraps an existing chat model.
func NewChatModelCompleterWith(chatModel model.BaseChatModel) *ChatModelCompleter {
	return &ChatModelCompleter{
		chatModel: chatModel,
		opts: []model.Option{
			model.WithMaxTokens(DefaultParameters.MaxNewTokens),
			model.WithTemperature(float32(DefaultParameters.Temperature)),
			model.WithTopP(float32(DefaultParameters.TopP)),
		},
	}
}

func (c *ChatModelCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.chatModel.Generate(ctx, []*schema.Message{
		schema.UserMessage(prompt),
	}, c.opts...)
	if err != nil {
		return "", fmt.Errorf("generate chat completion: %w", err)
	}
	if resp == nil {
		return "", errors.New("chat model returned no message")
	}
	return resp.Content, nil
}
