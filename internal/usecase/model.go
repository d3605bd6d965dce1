package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"collections-agent/internal/domain"
	"collections-agent/internal/integrations/openai"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, format *openai.ResponseFormat) (string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// modelResolver loads the completion model name from Parameter Store once.
// A failed load is retried on the next call.
type modelResolver struct {
	params ParamGetter
	name   string

	mu     sync.RWMutex
	loaded bool
	model  string
}

func newModelResolver(p ParamGetter, paramPrefix string) (*modelResolver, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &modelResolver{params: p, name: paramPrefix + "/config/openai_model"}, nil
}

func (r *modelResolver) resolve(ctx context.Context) (string, error) {
	r.mu.RLock()
	if r.loaded {
		model := r.model
		r.mu.RUnlock()
		return model, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.model, nil
	}
	model, err := r.params.GetParameter(ctx, r.name)
	if err != nil {
		return "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("usecase: openai model parameter is empty")
	}
	r.model = model
	r.loaded = true
	return model, nil
}
