package transcript

import (
	"sync"
	"time"
)

// Tracker holds the in-flight hypothesis state for one utterance. The
// ingest path is the only writer; Snapshot may be read from the
// commit path, so the four fields sit behind one mutex.
type Tracker struct {
	mu        sync.Mutex
	longest   string
	latest    string
	longestAt time.Time
	latestAt  time.Time
}

// Snapshot is an atomic read of the tracker.
type Snapshot struct {
	Longest   string
	Latest    string
	LongestAt time.Time
	LatestAt  time.Time
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Update records a partial hypothesis. Longest only grows; a shorter
// revision never shrinks it.
func (t *Tracker) Update(text string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = text
	t.latestAt = now
	if runeLen(text) > runeLen(t.longest) {
		t.longest = text
		t.longestAt = now
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Longest:   t.longest,
		Latest:    t.latest,
		LongestAt: t.longestAt,
		LatestAt:  t.latestAt,
	}
}

// Reset clears all fields. Called once an utterance commits.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.longest = ""
	t.latest = ""
	t.longestAt = time.Time{}
	t.latestAt = time.Time{}
}
