package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Capture path: malformed or short audio frames. Never fatal.
	ReasonCaptureDrop ReasonCode = "capture_drop"

	// Generation path: the opaque transcribe-and-generate call.
	ReasonGenerationCall        ReasonCode = "generation_call"
	ReasonGenerationTimeout     ReasonCode = "generation_timeout"
	ReasonGenerationUnavailable ReasonCode = "generation_unavailable"
	ReasonGenerationBusy        ReasonCode = "generation_busy"

	// Synthesis path: degraded to text-only on failure.
	ReasonSynthesisCall        ReasonCode = "synthesis_call"
	ReasonSynthesisTimeout     ReasonCode = "synthesis_timeout"
	ReasonSynthesisUnavailable ReasonCode = "synthesis_unavailable"
	ReasonSynthesisRateLimit   ReasonCode = "synthesis_rate_limit"

	// Protocol and transport.
	ReasonProtocolViolation ReasonCode = "protocol_violation"
	ReasonTransportSend     ReasonCode = "transport_send"
)
