package usecase

import (
	"sync"
	"time"
)

const defaultIdempotencyTTL = 10 * time.Minute

type reserveOutcome int

const (
	reserved reserveOutcome = iota
	replay
	inFlight
	keyReused
)

type callRecord struct {
	hash    string
	placed  bool
	result  StartCallOutput
	expires time.Time
}

// callLedger remembers recent call placements so a repeated request does
// not dial the same number twice.
type callLedger struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]callRecord
}

func newCallLedger(ttl time.Duration, now func() time.Time) *callLedger {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if now == nil {
		now = time.Now
	}
	return &callLedger{ttl: ttl, now: now, items: make(map[string]callRecord)}
}

// reserve claims key for a request with the given hash. On replay the
// stored result is returned.
func (l *callLedger) reserve(key, hash string) (StartCallOutput, reserveOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evictLocked(now)

	if rec, ok := l.items[key]; ok {
		switch {
		case rec.hash != hash:
			return StartCallOutput{}, keyReused
		case !rec.placed:
			return StartCallOutput{}, inFlight
		default:
			return rec.result, replay
		}
	}
	l.items[key] = callRecord{hash: hash, expires: now.Add(l.ttl)}
	return StartCallOutput{}, reserved
}

func (l *callLedger) complete(key string, result StartCallOutput) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.items[key]
	if !ok {
		return
	}
	rec.placed = true
	rec.result = result
	rec.expires = l.now().Add(l.ttl)
	l.items[key] = rec
}

// release forgets a reservation whose call was never placed.
func (l *callLedger) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.items[key]; ok && !rec.placed {
		delete(l.items, key)
	}
}

func (l *callLedger) evictLocked(now time.Time) {
	for k, rec := range l.items {
		if rec.placed && now.After(rec.expires) {
			delete(l.items, k)
		}
	}
}
