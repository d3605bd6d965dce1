package usecase

import (
	"context"
	"errors"
	"time"

	"collections-agent/internal/domain"
	"collections-agent/internal/integrations/openai"
	"collections-agent/internal/schema"
)

const summaryFormatName = "conversation_summary"

// SummarizeService turns a normalized transcript into a ConversationSummary.
type SummarizeService struct {
	llm    LLMClient
	models *modelResolver
	now    func() time.Time
}

func NewSummarizeService(p ParamGetter, llm LLMClient, paramPrefix string) (*SummarizeService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	models, err := newModelResolver(p, paramPrefix)
	if err != nil {
		return nil, err
	}
	return &SummarizeService{llm: llm, models: models, now: time.Now}, nil
}

// Summarize makes one summarization attempt. Any response that does not
// conform to the summary schema fails the attempt; no partial summary is
// returned. The date is the processing time.
func (s *SummarizeService) Summarize(ctx context.Context, entries []domain.TranscriptEntry) (domain.ConversationSummary, error) {
	if len(entries) == 0 {
		return domain.ConversationSummary{}, newError(ErrorInvalidInput, "empty_transcript", nil)
	}
	model, err := s.models.resolve(ctx)
	if err != nil {
		return domain.ConversationSummary{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	format, err := schema.Source(schema.ConversationSummary)
	if err != nil {
		return domain.ConversationSummary{}, newError(ErrorInternal, "schema_load_error", err)
	}

	raw, err := s.llm.Chat(ctx, model, buildSummaryMessages(entries), &openai.ResponseFormat{
		Name:   summaryFormatName,
		Schema: format,
	})
	if err != nil {
		return domain.ConversationSummary{}, upstreamError("openai", err)
	}
	parsed, err := parseSummary(raw)
	if err != nil {
		return domain.ConversationSummary{}, newError(ErrorUpstream, "openai_malformed_response", err)
	}
	return domain.ConversationSummary{
		Date:    s.now().UTC(),
		Summary: parsed.Summary,
		Outcome: parsed.Outcome,
	}, nil
}
