package poller

import (
	"sort"
	"time"

	"collections-agent/internal/domain"
)

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateErrored   State = "errored"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateErrored, StateCancelled:
		return true
	}
	return false
}

// SelectCandidate picks the conversation belonging to a call started at
// start: the earliest one whose start second is strictly after start,
// truncated to whole seconds. Ties break on conversation id. Provider
// ordering is not relied on. skip may be nil.
func SelectCandidate(items []domain.ConversationListItem, start time.Time, skip func(conversationID string) bool) (domain.ConversationListItem, bool) {
	threshold := floorDiv(start.UnixMilli(), 1000)

	matches := make([]domain.ConversationListItem, 0, len(items))
	for _, it := range items {
		if it.ConversationID == "" || it.StartTimeUnixSecs <= threshold {
			continue
		}
		if skip != nil && skip(it.ConversationID) {
			continue
		}
		matches = append(matches, it)
	}
	if len(matches) == 0 {
		return domain.ConversationListItem{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].StartTimeUnixSecs != matches[j].StartTimeUnixSecs {
			return matches[i].StartTimeUnixSecs < matches[j].StartTimeUnixSecs
		}
		return matches[i].ConversationID < matches[j].ConversationID
	})
	return matches[0], true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
