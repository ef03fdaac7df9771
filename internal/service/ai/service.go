package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nijichat/internal/config"
	"nijichat/internal/models"
)

const defaultTimeout = 60 * time.Second

// Completer turns a rendered prompt into raw model output.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Service produces the assistant reply for a thread. Generate never fails: transport and
// decoding problems are answered from the fallback table.
type Service struct {
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
}

func NewService(completer Completer, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{completer: completer, timeout: timeout, logger: logger}
}

// NewServiceFromConfig wires the completer named by cfg.Inference.Provider.
func NewServiceFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	provider := cfg.Inference.Provider
	var (
		completer Completer
		err       error
	)
	switch provider {
	case "", ProviderInference:
		completer = NewInferenceClient(cfg.Inference.URL, cfg.Inference.APIKey, nil)
	default:
		completer, err = NewChatModelCompleter(ctx, provider, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s completer: %w", provider, err)
	}
	return NewService(completer, cfg.InferenceTimeout(), logger), nil
}

// Generate returns the assistant reply for thread.
func (s *Service) Generate(ctx context.Context, thread []models.Message) string {
	if len(thread) == 0 {
		return UnavailableReply
	}
	last := thread[len(thread)-1]
	prompt := BuildPrompt(thread)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	output, err := s.completer.Complete(callCtx, prompt)
	if err != nil {
		s.logger.Warn("generate reply failed, using fallback", "error", err)
		return Fallback(last.Content)
	}
	if reply := stripEcho(output, prompt); reply != "" {
		return reply
	}
	return EmptyReply
}
