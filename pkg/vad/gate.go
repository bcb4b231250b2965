package vad

import (
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/satriadp/lisan/pkg/errorsx"
	"github.com/satriadp/lisan/pkg/frames"
	"github.com/satriadp/lisan/pkg/logging"
	"github.com/satriadp/lisan/pkg/metrics"
)

type State int

const (
	StateIdle State = iota
	StateVoiceCandidate
	StateVoiced
	StateSilenceCandidate
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateVoiceCandidate:
		return "VOICE_CANDIDATE"
	case StateVoiced:
		return "VOICED"
	case StateSilenceCandidate:
		return "SILENCE_CANDIDATE"
	default:
		return "UNKNOWN"
	}
}

type EventKind int

const (
	EventUtteranceStart EventKind = iota
	EventUtteranceEnd
)

// Event is emitted on confirmed utterance boundaries. Utterance is only
// set on EventUtteranceEnd, once the utterance is sealed.
type Event struct {
	Kind        EventKind
	UtteranceID uint64
	At          time.Time
	Utterance   *Utterance
}

type Config struct {
	SampleRate        int
	WindowSamples     int
	Threshold         float64
	MinVoiceWindows   int
	MinSilenceWindows int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.WindowSamples <= 0 {
		c.WindowSamples = 320
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.02
	}
	if c.MinVoiceWindows <= 0 {
		c.MinVoiceWindows = 3
	}
	if c.MinSilenceWindows <= 0 {
		c.MinSilenceWindows = 30
	}
	return c
}

// Gate classifies capture windows as voice or silence and emits utterance
// boundaries with hysteresis: a short energy burst never starts an
// utterance and a short dip never ends one. The gate never blocks on its
// consumer; boundary events go through a buffered channel.
type Gate struct {
	cfg    Config
	buf    *WindowBuffer
	ids    *frames.UtteranceIDGen
	events chan Event
	logger *slog.Logger
	obs    metrics.Observer

	state       State
	voicedRun   int
	silenceRun  int
	pending     [][]int16
	tail        [][]int16
	startTime   time.Time
	silenceFrom time.Time
	curID       uint64
	sessionID   string
}

func NewGate(sessionID string, cfg Config, logger *slog.Logger) *Gate {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:       cfg,
		buf:       NewWindowBuffer(cfg.WindowSamples),
		ids:       &frames.UtteranceIDGen{},
		events:    make(chan Event, 16),
		logger:    logging.NewComponentLogger(logger, "vad_gate"),
		state:     StateIdle,
		sessionID: sessionID,
	}
}

func (g *Gate) SetObserver(obs metrics.Observer) { g.obs = obs }

func (g *Gate) Events() <-chan Event { return g.events }

func (g *Gate) State() State { return g.state }

// ProcessFrame consumes one capture frame. Malformed frames (empty payload
// or odd byte length) are dropped with a warning and never fatal.
func (g *Gate) ProcessFrame(f frames.AudioFrame) {
	payload := f.RawPayload()
	if len(payload) == 0 || len(payload)%2 != 0 {
		g.logger.Warn("malformed_frame_dropped",
			slog.String("session_id", g.sessionID),
			slog.Int("size_bytes", len(payload)),
			slog.String("reason_code", string(errorsx.ReasonCaptureDrop)))
		g.record(metrics.EventFrameDrop)
		return
	}
	for _, w := range g.buf.Push(f.Samples()) {
		g.processWindow(w, f.CapturedAt())
	}
}

// ProcessWindow feeds one pre-cut analysis window directly, bypassing the
// accumulation buffer. Used by tests and by callers that already frame
// their capture at the window size.
func (g *Gate) ProcessWindow(w []int16, at time.Time) {
	g.processWindow(w, at)
}

// Reset drops any in-flight utterance and re-arms the gate.
func (g *Gate) Reset() {
	g.state = StateIdle
	g.voicedRun = 0
	g.silenceRun = 0
	g.pending = nil
	g.tail = nil
	g.buf.Reset()
}

func (g *Gate) processWindow(w []int16, at time.Time) {
	voiced := RMS(w) > g.cfg.Threshold

	switch g.state {
	case StateIdle:
		if !voiced {
			return
		}
		g.pending = [][]int16{w}
		g.voicedRun = 1
		g.startTime = at
		g.state = StateVoiceCandidate
		if g.voicedRun >= g.cfg.MinVoiceWindows {
			g.confirmVoice(at)
		}

	case StateVoiceCandidate:
		if !voiced {
			// false start absorbed
			g.pending = nil
			g.voicedRun = 0
			g.state = StateIdle
			return
		}
		g.pending = append(g.pending, w)
		g.voicedRun++
		if g.voicedRun >= g.cfg.MinVoiceWindows {
			g.confirmVoice(at)
		}

	case StateVoiced:
		if voiced {
			g.pending = append(g.pending, w)
			return
		}
		g.tail = [][]int16{w}
		g.silenceRun = 1
		g.silenceFrom = at
		g.state = StateSilenceCandidate
		if g.silenceRun >= g.cfg.MinSilenceWindows {
			g.seal()
		}

	case StateSilenceCandidate:
		if voiced {
			// dip absorbed: the pause belongs to the utterance
			g.pending = append(g.pending, g.tail...)
			g.pending = append(g.pending, w)
			g.tail = nil
			g.silenceRun = 0
			g.state = StateVoiced
			return
		}
		g.tail = append(g.tail, w)
		g.silenceRun++
		if g.silenceRun >= g.cfg.MinSilenceWindows {
			g.seal()
		}
	}
}

func (g *Gate) confirmVoice(at time.Time) {
	g.state = StateVoiced
	g.curID = g.ids.Next()
	g.record(metrics.EventUtteranceStart)
	g.logger.Debug("utterance_start",
		slog.String("session_id", g.sessionID),
		slog.Uint64("utterance_id", g.curID))
	g.emit(Event{Kind: EventUtteranceStart, UtteranceID: g.curID, At: at})
}

func (g *Gate) seal() {
	u := &Utterance{
		ID:         g.curID,
		SessionID:  g.sessionID,
		StartTime:  g.startTime,
		EndTime:    g.silenceFrom,
		sampleRate: g.cfg.SampleRate,
		windows:    g.pending,
	}
	g.record(metrics.EventUtteranceEnd)
	g.logger.Debug("utterance_end",
		slog.String("session_id", g.sessionID),
		slog.Uint64("utterance_id", u.ID),
		slog.Int("windows", u.Windows()))
	g.pending = nil
	g.tail = nil
	g.voicedRun = 0
	g.silenceRun = 0
	g.state = StateIdle
	g.emit(Event{Kind: EventUtteranceEnd, UtteranceID: u.ID, At: u.EndTime, Utterance: u})
}

func (g *Gate) emit(ev Event) {
	select {
	case g.events <- ev:
	default:
		g.logger.Warn("gate_event_dropped",
			slog.String("session_id", g.sessionID),
			slog.Uint64("utterance_id", ev.UtteranceID))
		g.record(metrics.EventGateDrop)
	}
}

func (g *Gate) record(name string) {
	if g.obs == nil {
		return
	}
	g.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"session_id":   g.sessionID,
			"utterance_id": utteranceTag(g.curID),
			"component":    "vad",
		},
	})
}

func utteranceTag(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

// RMS computes the normalized root-mean-square energy of a window,
// in [0,1] relative to full-scale int16.
func RMS(w []int16) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(w)))
}
