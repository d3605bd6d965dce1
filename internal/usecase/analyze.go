package usecase

import (
	"context"
	"errors"
	"strings"

	"collections-agent/internal/domain"
)

const maxAnalyzeDebtors = 50

// AnalyzeService asks the completion API for a segmentation of debtor
// profiles: risk level, priority tags and a collection strategy per debtor.
type AnalyzeService struct {
	llm    LLMClient
	models *modelResolver
}

func NewAnalyzeService(p ParamGetter, llm LLMClient, paramPrefix string) (*AnalyzeService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	models, err := newModelResolver(p, paramPrefix)
	if err != nil {
		return nil, err
	}
	return &AnalyzeService{llm: llm, models: models}, nil
}

func (s *AnalyzeService) AnalyzeDebtors(ctx context.Context, debtors []domain.Debtor) (string, error) {
	if len(debtors) == 0 {
		return "", newError(ErrorInvalidInput, "no_debtors", nil)
	}
	if len(debtors) > maxAnalyzeDebtors {
		return "", newError(ErrorInvalidInput, "too_many_debtors", nil)
	}
	for _, d := range debtors {
		if strings.TrimSpace(d.Name) == "" {
			return "", newError(ErrorInvalidInput, "debtor_name_missing", nil)
		}
	}
	model, err := s.models.resolve(ctx)
	if err != nil {
		return "", newError(ErrorInternal, "ssm_load_error", err)
	}
	messages, err := buildAnalysisMessages(debtors)
	if err != nil {
		return "", newError(ErrorInternal, "marshal_error", err)
	}
	raw, err := s.llm.Chat(ctx, model, messages, nil)
	if err != nil {
		return "", upstreamError("openai", err)
	}
	analysis := strings.TrimSpace(raw)
	if analysis == "" {
		return "", newError(ErrorUpstream, "openai_empty_response", nil)
	}
	return analysis, nil
}
