package frames

// Well-known meta keys attached to frames as they move through a session.
const (
	MetaSessionID   = "session_id"
	MetaTraceID     = "trace_id"
	MetaUtteranceID = "utterance_id"
	MetaSource      = "source"
	MetaLanguage    = "language"
	MetaReason      = "reason"
	MetaEncoding    = "encoding"
)
