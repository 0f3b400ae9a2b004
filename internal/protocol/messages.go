package protocol

import "time"

// TranscriptEvent is the bus representation of recognized speech for
// one session: a forwarded partial or a committed final.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	IsPartial bool      `json:"is_partial"`
	Forced    bool      `json:"forced,omitempty"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Annotation carries reference matches produced by the transcript
// analyzer for a committed final.
type Annotation struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Refs      []string  `json:"refs"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptPartialPrefix = "transcript.partial"
	SubjectTranscriptFinalPrefix   = "transcript.final"
	SubjectAnnotationPrefix        = "transcript.annotation"
)

// TranscriptPartialSubject returns the per-session subject partials
// are published on.
func TranscriptPartialSubject(sessionID string) string {
	return SubjectTranscriptPartialPrefix + "." + sessionID
}

// TranscriptFinalSubject returns the per-session subject committed
// finals are published on.
func TranscriptFinalSubject(sessionID string) string {
	return SubjectTranscriptFinalPrefix + "." + sessionID
}

// AnnotationSubject returns the per-session subject analyzer output is
// published on.
func AnnotationSubject(sessionID string) string {
	return SubjectAnnotationPrefix + "." + sessionID
}
