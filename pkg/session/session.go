package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satriadp/lisan/pkg/convo"
	"github.com/satriadp/lisan/pkg/errorsx"
	"github.com/satriadp/lisan/pkg/frames"
	"github.com/satriadp/lisan/pkg/generation"
	"github.com/satriadp/lisan/pkg/logging"
	"github.com/satriadp/lisan/pkg/metrics"
	"github.com/satriadp/lisan/pkg/synthesis"
	"github.com/satriadp/lisan/pkg/vad"
)

// Sender is the outbound half of the duplex connection. Implemented by
// the transport; kept narrow so sessions never see transport internals.
type Sender interface {
	SendText(data []byte) error
	SendBinary(data []byte) error
}

type Config struct {
	Language             string
	SampleRate           int
	Channels             int
	ContextWindow        int
	WatchdogTimeout      time.Duration
	FirstIncrementTarget time.Duration
	Gate                 vad.Config
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = "en"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 30 * time.Second
	}
	if c.FirstIncrementTarget <= 0 {
		c.FirstIncrementTarget = 300 * time.Millisecond
	}
	if c.Gate.SampleRate == 0 {
		c.Gate.SampleRate = c.SampleRate
	}
	return c
}

// Session owns one duplex conversation: audio in through the gate,
// increments and audio out through the connection. All turn work for a
// session runs sequentially on its own goroutine; generation must finish
// before synthesis starts, and the history must observe turns in order.
type Session struct {
	id     string
	conn   Sender
	cfg    Config
	gate   *vad.Gate
	str    *generation.Streamer
	disp   *synthesis.Dispatcher
	hist   *convo.Context
	state  *tracker
	obs    metrics.Observer
	logger *slog.Logger

	pendingResponse atomic.Bool
	activeUtterance atomic.Uint64
	seq             atomic.Int64

	turnMu   sync.Mutex
	turnDone bool
	watchdog *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(id string, conn Sender, str *generation.Streamer, disp *synthesis.Dispatcher, cfg Config, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		gate:   vad.NewGate(id, cfg.Gate, logger),
		str:    str,
		disp:   disp,
		hist:   convo.NewContext(cfg.ContextWindow),
		state:  newTracker(),
		obs:    metrics.NoopObserver{},
		logger: logging.NewComponentLogger(logger, "session"),
		ctx:    ctx,
		cancel: cancel,
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state.State() }

func (s *Session) PendingResponse() bool { return s.pendingResponse.Load() }

func (s *Session) History() *convo.Context { return s.hist }

func (s *Session) SetObserver(obs metrics.Observer) {
	if obs != nil {
		s.obs = obs
		s.gate.SetObserver(obs)
	}
}

// Start launches the turn loop consuming gate events.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.gate.Events():
			switch ev.Kind {
			case vad.EventUtteranceStart:
				if err := s.state.Transition(StateListening, "voice confirmed"); err != nil {
					s.logger.Warn("transition_rejected",
						slog.String("session_id", s.id),
						slog.String("error", err.Error()))
				}
			case vad.EventUtteranceEnd:
				s.handleTurn(ev.Utterance)
			}
		}
	}
}

// HandleBinary accepts one inbound audio frame. Frames arriving while a
// response is outstanding are dropped as a no-op; that is the gating
// contract, not an error path.
func (s *Session) HandleBinary(data []byte) {
	if s.pendingResponse.Load() {
		s.logger.Debug("frame_dropped_pending_response",
			slog.String("session_id", s.id))
		s.record(metrics.EventFrameDrop, s.activeUtterance.Load(), 0)
		return
	}
	f := frames.NewAudioFrame(s.id, s.seq.Add(1), data, s.cfg.SampleRate, s.cfg.Channels, nil)
	s.gate.ProcessFrame(f)
}

// HandleText accepts one inbound JSON message.
func (s *Session) HandleText(data []byte) {
	msg, err := DecodeClientMessage(data)
	if err != nil {
		s.logger.Warn("bad_client_message",
			slog.String("session_id", s.id),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		return
	}
	switch m := msg.(type) {
	case PingMessage:
		s.sendText(encodeMessage(PongMessage{Type: TypePong}))
	case PongMessage:
		// keepalive reply, nothing to do
	case PlaybackDoneMessage:
		s.logger.Debug("playback_done",
			slog.String("session_id", s.id),
			slog.Uint64("utterance_id", m.UtteranceID))
	}
}

// handleTurn runs one full utterance turn: stream generation increments
// out as they arrive, then dispatch one synthesis call, then signal
// completion exactly once.
func (s *Session) handleTurn(u *vad.Utterance) {
	if u == nil {
		return
	}
	if !s.pendingResponse.CompareAndSwap(false, true) {
		s.logger.Warn("utterance_while_pending",
			slog.String("session_id", s.id),
			slog.Uint64("utterance_id", u.ID),
			slog.String("reason_code", string(errorsx.ReasonProtocolViolation)))
		return
	}
	s.activeUtterance.Store(u.ID)
	s.beginTurn()
	start := time.Now()

	if err := s.state.Transition(StateGenerating, "utterance sealed"); err != nil {
		s.logger.Warn("transition_rejected",
			slog.String("session_id", s.id),
			slog.String("error", err.Error()))
	}

	req := generation.Request{
		SessionID:    s.id,
		UtteranceID:  u.ID,
		Audio:        u.PCM16(),
		SampleRate:   u.SampleRate(),
		Context:      s.hist.Render(),
		Language:     s.cfg.Language,
		UtteranceEnd: start,
	}
	res := s.str.Run(s.ctx, req, func(inc generation.Increment) {
		s.sendText(encodeMessage(IncrementMessage{
			Type:          TypeIncrement,
			UtteranceID:   u.ID,
			Text:          inc.Text,
			IsFinal:       inc.IsFinal,
			SequenceIndex: inc.SequenceIndex,
			Error:         inc.Err,
		}))
	})

	if err := s.state.Transition(StateSynthesizing, "generation complete"); err != nil {
		s.logger.Warn("transition_rejected",
			slog.String("session_id", s.id),
			slog.String("error", err.Error()))
	}

	if res.Transcript != "" {
		s.hist.RecordUser(res.Transcript, start)
	}

	var degraded bool
	if s.disp != nil && !res.Failed {
		out := s.disp.Dispatch(s.ctx, s.id, u.ID, s.cfg.Language, res.FullText)
		degraded = out.Degraded
		if len(out.Audio) > 0 {
			if err := s.conn.SendBinary(out.Audio); err != nil {
				s.logger.Error("audio_send_failed",
					slog.String("session_id", s.id),
					slog.Uint64("utterance_id", u.ID),
					slog.String("reason_code", string(errorsx.ReasonTransportSend)),
					slog.String("error", err.Error()))
			}
		}
	}

	if !res.Failed {
		s.hist.AddTurn(convo.Turn{
			Role:      convo.RoleAssistant,
			Text:      res.FullText,
			At:        time.Now(),
			LatencyMs: time.Since(start).Milliseconds(),
			Metadata:  map[string]string{"utterance_id": strconv.FormatUint(u.ID, 10)},
		})
	}

	met := !res.FirstIncrementAt.IsZero() &&
		res.FirstIncrementAt.Sub(start) <= s.cfg.FirstIncrementTarget
	s.completeTurn(u.ID, res.TotalIncrements, time.Since(start), met, degraded)
}

// beginTurn arms the watchdog for a fresh turn. If completion is never
// signaled the watchdog force-resets the gate rather than stranding the
// session behind pendingResponse forever.
func (s *Session) beginTurn() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.turnDone = false
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(s.cfg.WatchdogTimeout, s.watchdogFired)
}

func (s *Session) watchdogFired() {
	s.turnMu.Lock()
	if s.turnDone {
		s.turnMu.Unlock()
		return
	}
	s.turnDone = true
	s.turnMu.Unlock()

	s.logger.Error("watchdog_force_reset",
		slog.String("session_id", s.id),
		slog.Uint64("utterance_id", s.activeUtterance.Load()),
		slog.String("reason_code", string(errorsx.ReasonProtocolViolation)))
	s.record(metrics.EventWatchdogFired, s.activeUtterance.Load(), 0)
	s.state.ForceIdle("watchdog")
	s.gate.Reset()
	s.pendingResponse.Store(false)
}

// completeTurn sends the terminal message for the utterance. At most one
// turn_complete ever goes out per turn; a second attempt is logged as a
// protocol violation and dropped.
func (s *Session) completeTurn(utteranceID uint64, totalIncrements int, latency time.Duration, metTarget, degraded bool) {
	s.turnMu.Lock()
	if s.turnDone {
		s.turnMu.Unlock()
		s.logger.Warn("duplicate_turn_complete",
			slog.String("session_id", s.id),
			slog.Uint64("utterance_id", utteranceID),
			slog.String("reason_code", string(errorsx.ReasonProtocolViolation)))
		return
	}
	s.turnDone = true
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.turnMu.Unlock()

	s.sendText(encodeMessage(TurnCompleteMessage{
		Type:            TypeTurnComplete,
		UtteranceID:     utteranceID,
		TotalIncrements: totalIncrements,
		TotalLatencyMs:  latency.Milliseconds(),
		MetTarget:       metTarget,
		AudioDegraded:   degraded,
	}))
	s.record(metrics.EventTurnComplete, utteranceID, latency)
	s.state.ForceIdle("turn complete")
	s.pendingResponse.Store(false)
}

// Close tears the session down and cancels any in-flight turn work.
func (s *Session) Close() {
	s.cancel()
	s.turnMu.Lock()
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.turnMu.Unlock()
	s.wg.Wait()
}

func (s *Session) sendText(data []byte) {
	if data == nil {
		return
	}
	if err := s.conn.SendText(data); err != nil {
		s.logger.Error("text_send_failed",
			slog.String("session_id", s.id),
			slog.String("reason_code", string(errorsx.ReasonTransportSend)),
			slog.String("error", err.Error()))
	}
}

func (s *Session) record(name string, utteranceID uint64, d time.Duration) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(d.Milliseconds()),
		Tags: map[string]string{
			"session_id":   s.id,
			"utterance_id": strconv.FormatUint(utteranceID, 10),
			"component":    "session",
		},
	})
}
