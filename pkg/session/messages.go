package session

import (
	"encoding/json"
	"fmt"

	"github.com/satriadp/lisan/pkg/errorsx"
)

// Message types on the duplex wire. Audio travels as binary frames;
// everything else is a tagged JSON object.
const (
	TypeIncrement    = "increment"
	TypeTurnComplete = "turn_complete"
	TypePing         = "ping"
	TypePong         = "pong"
	TypePlaybackDone = "playback_done"
)

// IncrementMessage carries one streamed fragment of assistant text.
type IncrementMessage struct {
	Type          string `json:"type"`
	UtteranceID   uint64 `json:"utterance_id"`
	Text          string `json:"text"`
	IsFinal       bool   `json:"is_final"`
	SequenceIndex int    `json:"sequence_index"`
	Error         bool   `json:"error,omitempty"`
}

// TurnCompleteMessage is the terminal message for one utterance. The
// client must treat it as the sole signal authorizing the next utterance.
type TurnCompleteMessage struct {
	Type            string `json:"type"`
	UtteranceID     uint64 `json:"utterance_id"`
	TotalIncrements int    `json:"total_increments"`
	TotalLatencyMs  int64  `json:"total_latency_ms"`
	MetTarget       bool   `json:"met_target"`
	AudioDegraded   bool   `json:"audio_degraded,omitempty"`
}

type PingMessage struct {
	Type string `json:"type"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// PlaybackDoneMessage reports client-side playback completion for an
// utterance. Informational only; turn gating is driven by turn_complete.
type PlaybackDoneMessage struct {
	Type        string `json:"type"`
	UtteranceID uint64 `json:"utterance_id"`
}

// ClientMessage is the closed set of inbound JSON messages.
type ClientMessage interface {
	clientMessage()
}

func (PingMessage) clientMessage()         {}
func (PongMessage) clientMessage()         {}
func (PlaybackDoneMessage) clientMessage() {}

// DecodeClientMessage parses one inbound JSON message. Unknown or
// malformed types are protocol violations, not crashes.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonProtocolViolation)
	}
	switch probe.Type {
	case TypePing:
		var m PingMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonProtocolViolation)
		}
		return m, nil
	case TypePong:
		var m PongMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonProtocolViolation)
		}
		return m, nil
	case TypePlaybackDone:
		var m PlaybackDoneMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonProtocolViolation)
		}
		return m, nil
	default:
		return nil, errorsx.New(fmt.Sprintf("unknown message type %q", probe.Type), errorsx.ReasonProtocolViolation)
	}
}

func encodeMessage(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// all outbound message types marshal cleanly
		return nil
	}
	return data
}
