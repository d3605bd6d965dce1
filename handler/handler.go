package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"collections-agent/internal/domain"
	"collections-agent/internal/poller"
	"collections-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
)

const (
	codeRouteNotFound    = "ROUTE_NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type CallUseCase interface {
	StartCall(ctx context.Context, in usecase.StartCallInput) (usecase.StartCallOutput, error)
	EndCall(ctx context.Context, customerID string) (poller.Status, error)
	CallStatus(ctx context.Context, customerID string) (poller.Status, error)
	History(ctx context.Context, customerID string) ([]domain.ConversationSummary, error)
}

type AnalyzeUseCase interface {
	AnalyzeDebtors(ctx context.Context, debtors []domain.Debtor) (string, error)
}

type SettingsStore interface {
	Get() domain.AgentSettings
	Set(next domain.AgentSettings) (domain.AgentSettings, error)
}

type Handler struct {
	calls    CallUseCase
	analyze  AnalyzeUseCase
	settings SettingsStore
	log      *slog.Logger
}

type startCallRequest struct {
	CustomerID   string         `json:"customerId"`
	PhoneNumber  string         `json:"phoneNumber"`
	Debtor       *domain.Debtor `json:"debtor,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	FirstMessage string         `json:"firstMessage,omitempty"`
	Wait         bool           `json:"wait,omitempty"`
}

type callResponse struct {
	CustomerID     string         `json:"customerId"`
	CallID         string         `json:"callId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	Replayed       bool           `json:"replayed"`
	Final          *poller.Status `json:"final,omitempty"`
}

type historyResponse struct {
	CustomerID    string                       `json:"customerId"`
	Conversations []domain.ConversationSummary `json:"conversations"`
}

type analyzeRequest struct {
	Debtors []domain.Debtor `json:"debtors"`
}

type analyzeResponse struct {
	Analysis string `json:"analysis"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHandler(calls CallUseCase, analyze AnalyzeUseCase, settings SettingsStore, logger *slog.Logger) (*Handler, error) {
	if calls == nil {
		return nil, errors.New("handler: call usecase must not be nil")
	}
	if analyze == nil {
		return nil, errors.New("handler: analyze usecase must not be nil")
	}
	if settings == nil {
		return nil, errors.New("handler: settings store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{calls: calls, analyze: analyze, settings: settings, log: logger}, nil
}

// Handle serves one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID)

	status, body := h.route(ctx, log, req)
	raw, err := json.Marshal(body)
	if err != nil {
		log.Error("marshal response", "error", err)
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","message":"marshal_error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}, nil
}

func (h *Handler) route(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	segments := splitPath(req.Path)
	method := strings.ToUpper(req.HTTPMethod)

	switch {
	case len(segments) == 1 && segments[0] == "calls":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.startCall(ctx, log, req)

	case len(segments) == 2 && segments[0] == "calls":
		switch method {
		case http.MethodGet:
			st, err := h.calls.CallStatus(ctx, segments[1])
			if err != nil {
				return h.failure(log, err)
			}
			return http.StatusOK, st
		case http.MethodDelete:
			st, err := h.calls.EndCall(ctx, segments[1])
			if err != nil {
				return h.failure(log, err)
			}
			return http.StatusOK, st
		}
		return methodNotAllowed()

	case len(segments) == 3 && segments[0] == "customers" && segments[2] == "conversations":
		if method != http.MethodGet {
			return methodNotAllowed()
		}
		history, err := h.calls.History(ctx, segments[1])
		if err != nil {
			return h.failure(log, err)
		}
		return http.StatusOK, historyResponse{CustomerID: strings.TrimSpace(segments[1]), Conversations: history}

	case len(segments) == 2 && segments[0] == "debtors" && segments[1] == "analyze":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		var in analyzeRequest
		if err := decodeBody(req.Body, &in); err != nil {
			return invalidBody()
		}
		analysis, err := h.analyze.AnalyzeDebtors(ctx, in.Debtors)
		if err != nil {
			return h.failure(log, err)
		}
		return http.StatusOK, analyzeResponse{Analysis: analysis}

	case len(segments) == 1 && segments[0] == "agent-settings":
		switch method {
		case http.MethodGet:
			return http.StatusOK, h.settings.Get()
		case http.MethodPut:
			var in domain.AgentSettings
			if err := decodeBody(req.Body, &in); err != nil {
				return invalidBody()
			}
			saved, err := h.settings.Set(in)
			if err != nil {
				return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: err.Error()}
			}
			return http.StatusOK, saved
		}
		return methodNotAllowed()
	}
	return http.StatusNotFound, errorResponse{Error: codeRouteNotFound, Message: "no route for " + method + " " + req.Path}
}

func (h *Handler) startCall(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) (int, any) {
	var in startCallRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return invalidBody()
	}
	out, err := h.calls.StartCall(ctx, usecase.StartCallInput{
		CustomerID:     in.CustomerID,
		PhoneNumber:    in.PhoneNumber,
		Debtor:         in.Debtor,
		Prompt:         in.Prompt,
		FirstMessage:   in.FirstMessage,
		IdempotencyKey: headerValue(req.Headers, idempotencyHeader),
		Wait:           in.Wait,
	})
	if err != nil {
		return h.failure(log, err)
	}

	status := http.StatusAccepted
	if out.Replayed || out.Final != nil {
		status = http.StatusOK
	}
	return status, callResponse{
		CustomerID:     out.CustomerID,
		CallID:         out.CallID,
		ConversationID: out.ConversationID,
		StartedAt:      out.StartedAt.UTC(),
		Replayed:       out.Replayed,
		Final:          out.Final,
	}
}

func (h *Handler) failure(log *slog.Logger, err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		log.Error("unexpected error", "error", err)
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "internal_error"}
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", string(ue.Code), "reason", ue.Reason, "error", ue.Err)
	} else {
		log.Warn("request rejected", "code", string(ue.Code), "reason", ue.Reason)
	}
	return status, errorResponse{Error: string(ue.Code), Message: ue.Reason}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func invalidBody() (int, errorResponse) {
	return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_body"}
}

func methodNotAllowed() (int, errorResponse) {
	return http.StatusMethodNotAllowed, errorResponse{Error: codeMethodNotAllowed, Message: "method_not_allowed"}
}

func decodeBody(body string, v any) error {
	if len(body) > maxBodyBytes {
		return errors.New("handler: body too large")
	}
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("handler: trailing data in body")
	}
	return nil
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// headerValue looks a header up case-insensitively; API Gateway preserves
// the client's casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
