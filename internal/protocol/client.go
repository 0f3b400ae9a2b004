package protocol

// Inbound control frame types accepted on host and listener wires.
const (
	MsgInit           = "init"
	MsgTranscription  = "transcription"
	MsgChangeLanguage = "change_language"
	MsgHeartbeat      = "heartbeat"
	MsgStop           = "stop"
)

// Outbound frame types.
const (
	MsgTranslation     = "translation"
	MsgSessionReady    = "session_ready"
	MsgLanguageChanged = "language_changed"
	MsgError           = "error"
)

// ClientMessage is one inbound JSON text frame from a host or
// listener wire. Fields beyond Type are populated per message type.
type ClientMessage struct {
	Type       string  `json:"type"`
	SourceLang string  `json:"source_lang,omitempty"`
	Text       string  `json:"text,omitempty"`
	IsPartial  bool    `json:"is_partial,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	TargetLang string  `json:"target_lang,omitempty"`
}

// TranslationMessage delivers source or translated text to a listener.
type TranslationMessage struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	TranslatedText string `json:"translated_text,omitempty"`
	HasTranslation bool   `json:"has_translation"`
	IsPartial      bool   `json:"is_partial"`
	SeqID          uint64 `json:"seq_id"`
}

// SessionReadyMessage acknowledges a host init or a listener join.
type SessionReadyMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
}

// LanguageChangedMessage acknowledges a listener language switch.
type LanguageChangedMessage struct {
	Type        string `json:"type"`
	TargetLang  string `json:"target_lang"`
	LangVersion uint64 `json:"lang_version"`
}

// ErrorMessage reports a rejected request without closing the wire.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
