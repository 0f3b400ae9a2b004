// Package transcript arbitrates between streaming ASR partials and
// the finals that eventually replace them. Finals can arrive
// truncated (especially forced finals cut by the ingest timeout), so
// each one is reconciled against the longest in-flight partial and
// the previously committed text before it is allowed downstream.
package transcript

import (
	"strings"
	"time"
)

// Skip and rewrite reasons carried on verdicts, for logs.
const (
	ReasonFragmentOfLongerPartial = "fragment_of_longer_partial"
	ReasonShorterThanLastSent     = "shorter_than_last_sent"
	ReasonLongerContainsSent      = "longer_contains_shorter_already_sent"
	ReasonReplacedByLongerPartial = "replaced_by_longer_partial"
	ReasonMergedWithLongerPartial = "merged_with_longer_partial"
)

// minMergeOverlap is the smallest run of runes treated as a real
// overlap between a final and a partial. Below this, shared stock
// phrases produce false joins.
const minMergeOverlap = 20

// forcedSkipMargin: a forced final may only be dropped as a fragment
// when the longest partial exceeds it by more than this many runes.
const forcedSkipMargin = 20

// mergeGainMin: a merge must grow the final by more than this many
// runes, otherwise the join is noise.
const mergeGainMin = 3

// Config bounds the reconciler's memory of the last commit.
type Config struct {
	// DedupWindow is how long a committed final suppresses
	// re-deliveries and dedupes subsequent partials.
	DedupWindow time.Duration
}

// FinalVerdict is the outcome of reconciling one final hypothesis.
type FinalVerdict struct {
	Commit bool
	Text   string // text to emit when Commit is set
	Reason string // skip reason, or how Text diverged from the input
}

// PartialVerdict is the forwarding decision for one partial.
type PartialVerdict struct {
	Forward    bool
	Text       string // full partial, or the delta past the last final
	Delta      bool   // Text is a tail relative to the last final
	NewSegment bool
}

type committed struct {
	text   string
	at     time.Time
	forced bool
}

// Reconciler runs the decision sequence for one session. It must be
// driven from a single goroutine; only the embedded Tracker is safe
// for concurrent reads.
type Reconciler struct {
	cfg   Config
	pt    *Tracker
	last  committed
	clock func() time.Time
}

func New(cfg Config) *Reconciler {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Second
	}
	return &Reconciler{cfg: cfg, pt: NewTracker(), clock: time.Now}
}

// Tracker exposes the utterance state, e.g. for surfacing the current
// hypothesis to late joiners.
func (r *Reconciler) Tracker() *Tracker {
	return r.pt
}

// Partial records p and decides what, if anything, to forward
// downstream.
func (r *Reconciler) Partial(text string) PartialVerdict {
	now := r.clock()
	p := strings.TrimSpace(text)
	if p == "" {
		return PartialVerdict{}
	}
	r.pt.Update(p, now)

	c := r.last
	if c.text == "" || now.Sub(c.at) > r.cfg.DedupWindow {
		return PartialVerdict{Forward: true, Text: p}
	}

	np, nc := normalizeText(p), normalizeText(c.text)
	if np == nc {
		return PartialVerdict{}
	}
	if strings.HasPrefix(np, nc) && runeLen(p) > runeLen(c.text) {
		if delta := deltaAfter(p, c.text); delta != "" {
			return PartialVerdict{Forward: true, Text: delta, Delta: true}
		}
		return PartialVerdict{}
	}
	if startsNewSegment(p, c.text) {
		return PartialVerdict{Forward: true, Text: p, NewSegment: true}
	}
	return PartialVerdict{}
}

// Final reconciles a final hypothesis. On commit the verdict carries
// the (possibly rewritten) text and the tracker is reset for the next
// utterance.
func (r *Reconciler) Final(text string, forced bool) FinalVerdict {
	now := r.clock()
	f := strings.TrimSpace(text)
	if f == "" || normalizeText(f) == "" {
		return FinalVerdict{}
	}

	snap := r.pt.Snapshot()
	if skipAsFragment(f, snap.Longest, forced) {
		return FinalVerdict{Reason: ReasonFragmentOfLongerPartial}
	}
	if reason, skip := r.skipAgainstLast(f, now); skip {
		return FinalVerdict{Reason: reason}
	}

	out, reason := rewriteFromPartial(f, snap.Longest)
	r.last = committed{text: out, at: now, forced: forced}
	r.pt.Reset()
	return FinalVerdict{Commit: true, Text: out, Reason: reason}
}

// ForceTimeout commits the longest hypothesis when the utterance
// timer fires without the provider finalizing. The zero verdict means
// there was nothing pending.
func (r *Reconciler) ForceTimeout() FinalVerdict {
	snap := r.pt.Snapshot()
	if strings.TrimSpace(snap.Longest) == "" {
		return FinalVerdict{}
	}
	return r.Final(snap.Longest, true)
}

// skipAsFragment is the fragment-containment rule: a final that is a
// truncation of a longer in-flight partial is dropped so the fuller
// text can commit instead.
func skipAsFragment(f, longest string, forced bool) bool {
	lf, ll := runeLen(f), runeLen(longest)
	if ll < lf {
		return false
	}
	if forced && ll <= lf+forcedSkipMargin {
		return false
	}
	tf := tokenize(f)
	if len(tf) == 0 {
		return false
	}
	tl := tokenize(longest)
	lenDiff := ll - lf
	start := startMatchRatio(tf, tl)
	contains := containsAllRatio(tf, tl)
	switch {
	case len(tf) <= 3 && lenDiff > 50 && contains >= 0.5:
		return true
	case start >= 0.8:
		return true
	case contains >= 0.9 && lenDiff > 10:
		return true
	case contains >= 0.8 && lenDiff > 50:
		return true
	}
	return false
}

// skipAgainstLast suppresses a final that repeats or extends the text
// already committed inside the dedup window. The shorter copy was
// already sent and cannot be unsent, so emitting either order again
// would duplicate content.
func (r *Reconciler) skipAgainstLast(f string, now time.Time) (string, bool) {
	if r.last.text == "" || now.Sub(r.last.at) > r.cfg.DedupWindow {
		return "", false
	}
	nf, nl := normalizeText(f), normalizeText(r.last.text)
	switch {
	case strings.Contains(nl, nf):
		return ReasonShorterThanLastSent, true
	case strings.Contains(nf, nl):
		return ReasonLongerContainsSent, true
	}
	return "", false
}

// rewriteFromPartial upgrades f using the longest partial: full
// replacement when the partial extends f, otherwise an overlap join.
func rewriteFromPartial(f, longest string) (string, string) {
	if longest == "" || normalizeText(longest) == "" {
		return f, ""
	}
	if runeLen(longest) > runeLen(f) && strings.HasPrefix(normalizeText(longest), normalizeText(f)) {
		return longest, ReasonReplacedByLongerPartial
	}
	if merged, ok := overlapMerge(f, longest); ok && runeLen(merged) > runeLen(f)+mergeGainMin {
		return merged, ReasonMergedWithLongerPartial
	}
	return f, ""
}

// overlapMerge joins the final and the partial on a shared run of
// text, whichever side carries the overlap.
func overlapMerge(f, longest string) (string, bool) {
	if m, ok := joinOnOverlap(f, longest); ok {
		return m, true
	}
	return joinOnOverlap(longest, f)
}

// joinOnOverlap returns a followed by the tail of b when a suffix of
// a longer than minMergeOverlap equals a prefix of b.
func joinOnOverlap(a, b string) (string, bool) {
	ra, rb := []rune(a), []rune(b)
	limit := len(ra)
	if len(rb) < limit {
		limit = len(rb)
	}
	for k := limit; k > minMergeOverlap; k-- {
		if string(ra[len(ra)-k:]) == string(rb[:k]) {
			return a + string(rb[k:]), true
		}
	}
	return "", false
}

// deltaAfter is the raw tail of p past the committed prefix c.
func deltaAfter(p, c string) string {
	if strings.HasPrefix(p, c) {
		return strings.TrimSpace(p[len(c):])
	}
	fields := strings.Fields(p)
	skip := len(tokenize(c))
	if skip >= len(fields) {
		return ""
	}
	return strings.TrimSpace(strings.Join(fields[skip:], " "))
}

// startsNewSegment reports whether p opens a fresh sentence rather
// than revising the one just committed.
func startsNewSegment(p, c string) bool {
	if endsTerminal(c) && startsUpper(p) {
		return true
	}
	tp := tokenize(p)
	if len(tp) == 0 {
		return false
	}
	for _, t := range lastTokens(c, 3) {
		if t == tp[0] {
			return false
		}
	}
	return true
}
