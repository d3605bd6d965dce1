// Package conversation holds the pure decisions made over a polled provider
// conversation: whether the call has finished, and how its raw transcript
// reads once normalized.
package conversation

import (
	"strings"

	"collections-agent/internal/domain"
)

var terminalStatuses = map[string]struct{}{
	"done":      {},
	"completed": {},
	"failed":    {},
}

// Substrings of a termination reason that indicate the line was dropped.
var disconnectHints = []string{
	"disconnect",
	"hang up",
	"hung up",
	"hangup",
	"call ended",
	"ended by",
	"end_call",
}

// IsComplete reports whether a conversation has finished. Any one signal is
// enough: terminal status, a disconnect termination reason, a recorded call
// duration, or a hang-up marker in the transcript.
func IsComplete(c domain.Conversation) bool {
	return TerminalStatus(c.Status) ||
		Disconnected(c.Metadata.TerminationReason) ||
		HasDuration(c.Metadata) ||
		TranscriptHangsUp(c.Transcript)
}

// CallEnded reports the metadata-level end-of-call evidence, i.e. every
// signal of IsComplete except the transcript marker.
func CallEnded(c domain.Conversation) bool {
	return TerminalStatus(c.Status) ||
		Disconnected(c.Metadata.TerminationReason) ||
		HasDuration(c.Metadata)
}

func TerminalStatus(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

func Disconnected(reason string) bool {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		return false
	}
	for _, hint := range disconnectHints {
		if strings.Contains(reason, hint) {
			return true
		}
	}
	return false
}

// HasDuration is true once the provider has populated a positive duration,
// which only happens after the call has ended.
func HasDuration(m domain.ConversationMetadata) bool {
	return m.CallDurationSecs > 0
}

func TranscriptHangsUp(turns []domain.TranscriptTurn) bool {
	for _, t := range turns {
		if t.Message != nil && strings.Contains(*t.Message, domain.HangUpMarker) {
			return true
		}
	}
	return false
}
