package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"collections-agent/internal/domain"
)

const endCallTool = "end_call"

type toolResult struct {
	ToolName string `json:"tool_name"`
}

// Normalize converts a provider conversation into ordered transcript entries.
// A turn whose tool result names the end-call action becomes the hang-up
// marker; turns with neither text nor that signal are dropped, and kept text
// is copied verbatim. When the call has ended (CallEnded, not a marker merely
// spoken inside a turn) and the transcript does not already finish with the
// marker, a customer hang-up entry is appended.
func Normalize(c domain.Conversation) []domain.TranscriptEntry {
	return NormalizeTurns(c.Transcript, CallEnded(c), startTime(c))
}

// NormalizeTurns is Normalize over raw turns. ended carries the end-of-call
// evidence and start anchors entry timestamps.
func NormalizeTurns(turns []domain.TranscriptTurn, ended bool, start time.Time) []domain.TranscriptEntry {
	entries := make([]domain.TranscriptEntry, 0, len(turns)+1)
	var last time.Time
	for _, t := range turns {
		text := ""
		if t.Message != nil {
			text = *t.Message
		}
		if endsCall(t.ToolResults) {
			text = domain.HangUpMarker
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		last = start.Add(time.Duration(t.TimeInCallSecs) * time.Second)
		entries = append(entries, domain.TranscriptEntry{
			Speaker:   speakerFor(t.Role),
			Text:      text,
			Timestamp: last,
		})
	}

	if ended && !endsWithHangUp(entries) {
		if last.IsZero() {
			last = start
		}
		entries = append(entries, domain.TranscriptEntry{
			Speaker:   domain.SpeakerCustomer,
			Text:      domain.HangUpMarker,
			Timestamp: last,
		})
	}
	return entries
}

func endsWithHangUp(entries []domain.TranscriptEntry) bool {
	return len(entries) > 0 && strings.TrimSpace(entries[len(entries)-1].Text) == domain.HangUpMarker
}

// endsCall treats an absent, empty or malformed tool result list as no signal.
func endsCall(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var results []toolResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return false
	}
	for _, r := range results {
		if r.ToolName == endCallTool {
			return true
		}
	}
	return false
}

func speakerFor(role string) domain.Speaker {
	if strings.EqualFold(role, domain.TurnRoleAgent) {
		return domain.SpeakerAgent
	}
	return domain.SpeakerCustomer
}

func startTime(c domain.Conversation) time.Time {
	if c.Metadata.StartTimeUnixSecs <= 0 {
		return time.Time{}
	}
	return time.Unix(c.Metadata.StartTimeUnixSecs, 0).UTC()
}
