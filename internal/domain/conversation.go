package domain

import (
	"encoding/json"
	"time"
)

// HangUpMarker is the literal text that denotes the end of a call in a
// normalized transcript.
const HangUpMarker = "[HANGS UP]"

// Raw transcript roles as reported by the voice provider.
const (
	TurnRoleAgent = "agent"
	TurnRoleUser  = "user"
)

// ConversationListItem is one row of the provider's conversation listing.
type ConversationListItem struct {
	ConversationID    string `json:"conversation_id"`
	AgentID           string `json:"agent_id,omitempty"`
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
	Status            string `json:"status"`
}

// Conversation is the provider's full view of a call. It is read-only from
// this service's perspective.
type Conversation struct {
	ConversationID string                `json:"conversation_id"`
	AgentID        string                `json:"agent_id,omitempty"`
	Status         string                `json:"status"`
	Transcript     []TranscriptTurn      `json:"transcript"`
	Metadata       ConversationMetadata  `json:"metadata"`
	Analysis       *ConversationAnalysis `json:"analysis,omitempty"`
}

// ConversationMetadata carries provider-populated call facts. Duration is
// zero until the call has ended.
type ConversationMetadata struct {
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
	CallDurationSecs  int    `json:"call_duration_secs"`
	TerminationReason string `json:"termination_reason"`
}

// ConversationAnalysis is the provider's own, unreliable, outcome signal.
type ConversationAnalysis struct {
	CallSuccessful    string `json:"call_successful"`
	TranscriptSummary string `json:"transcript_summary"`
}

// TranscriptTurn is one raw exchange unit. ToolResults is kept undecoded so a
// malformed value never fails the whole conversation.
type TranscriptTurn struct {
	Role           string          `json:"role"`
	Message        *string         `json:"message"`
	ToolResults    json.RawMessage `json:"tool_results,omitempty"`
	TimeInCallSecs int             `json:"time_in_call_secs"`
}

type Speaker string

const (
	SpeakerAgent    Speaker = "Agent"
	SpeakerCustomer Speaker = "Customer"
)

// TranscriptEntry is one normalized transcript line.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Outcome string

const (
	OutcomeSuccessful   Outcome = "successful"
	OutcomeUnsuccessful Outcome = "unsuccessful"
	OutcomePending      Outcome = "pending"
)

// Valid reports whether o is one of the three known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccessful, OutcomeUnsuccessful, OutcomePending:
		return true
	}
	return false
}

// ConversationSummary is the durable result of a finished call. Entries are
// appended to a customer's history and never mutated.
type ConversationSummary struct {
	Date           time.Time `json:"date"`
	Summary        string    `json:"summary"`
	Outcome        Outcome   `json:"outcome"`
	ConversationID string    `json:"conversationId,omitempty"`
}
