package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satriadp/lisan/pkg/generation"
	"github.com/satriadp/lisan/pkg/metrics"
	"github.com/satriadp/lisan/pkg/synthesis"
	"github.com/satriadp/lisan/pkg/vad"
)

type sentEntry struct {
	binary bool
	data   []byte
}

type mockConn struct {
	mu      sync.Mutex
	entries []sentEntry
}

func (c *mockConn) SendText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, sentEntry{data: append([]byte(nil), data...)})
	return nil
}

func (c *mockConn) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, sentEntry{binary: true, data: append([]byte(nil), data...)})
	return nil
}

func (c *mockConn) snapshot() []sentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *mockConn) turnCompletes() []TurnCompleteMessage {
	var out []TurnCompleteMessage
	for _, e := range c.snapshot() {
		if e.binary {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(e.data, &probe) != nil || probe.Type != TypeTurnComplete {
			continue
		}
		var m TurnCompleteMessage
		if err := json.Unmarshal(e.data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *mockConn) increments() []IncrementMessage {
	var out []IncrementMessage
	for _, e := range c.snapshot() {
		if e.binary {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(e.data, &probe) != nil || probe.Type != TypeIncrement {
			continue
		}
		var m IncrementMessage
		if err := json.Unmarshal(e.data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type testGenerator struct {
	tokens     []generation.Token
	transcript string
	block      chan struct{}
}

func (g *testGenerator) Name() string { return "test" }

func (g *testGenerator) Stream(ctx context.Context, req generation.Request) (<-chan generation.Token, error) {
	out := make(chan generation.Token)
	go func() {
		defer close(out)
		if g.block != nil {
			select {
			case <-g.block:
			case <-ctx.Done():
				return
			}
		}
		if g.transcript != "" {
			select {
			case out <- generation.Token{Transcript: g.transcript}:
			case <-ctx.Done():
				return
			}
		}
		for _, tok := range g.tokens {
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type testSynthesizer struct {
	mu    sync.Mutex
	calls int
	texts []string
}

func (s *testSynthesizer) Name() string { return "test" }

func (s *testSynthesizer) Synthesize(ctx context.Context, req synthesis.Request) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.texts = append(s.texts, req.Text)
	return []byte{0xAA, 0xBB}, nil
}

func (s *testSynthesizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func voicedFrame() []byte {
	return pcmFrame(0.9)
}

func silentFrame() []byte {
	return pcmFrame(0)
}

func pcmFrame(level float64) []byte {
	v := int16(level * 32768)
	out := make([]byte, 320*2)
	for i := 0; i < 320; i++ {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func testConfig() Config {
	return Config{
		Language:        "en",
		ContextWindow:   5,
		WatchdogTimeout: 5 * time.Second,
		Gate: vad.Config{
			Threshold:         0.5,
			MinVoiceWindows:   1,
			MinSilenceWindows: 2,
		},
	}
}

func newTestSession(t *testing.T, gen generation.Generator, synth synthesis.Synthesizer, cfg Config) (*Session, *mockConn) {
	t.Helper()
	conn := &mockConn{}
	str := generation.NewStreamer(gen, nil, generation.StreamerConfig{Timeout: 2 * time.Second}, nil)
	var disp *synthesis.Dispatcher
	if synth != nil {
		var err error
		disp, err = synthesis.NewDispatcher(synth, synthesis.DispatcherConfig{
			Voices:  synthesis.VoiceMap{Default: "aria"},
			Timeout: time.Second,
		}, nil)
		if err != nil {
			t.Fatalf("new dispatcher: %v", err)
		}
	}
	s := New("s1", conn, str, disp, cfg, nil)
	s.Start()
	t.Cleanup(s.Close)
	return s, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func speakUtterance(s *Session) {
	for i := 0; i < 3; i++ {
		s.HandleBinary(voicedFrame())
	}
	for i := 0; i < 3; i++ {
		s.HandleBinary(silentFrame())
	}
}

func TestSessionFullTurn(t *testing.T) {
	gen := &testGenerator{
		transcript: "hello",
		tokens:     []generation.Token{{Text: "Hi"}, {Text: " there"}, {Text: " !"}},
	}
	synth := &testSynthesizer{}
	s, conn := newTestSession(t, gen, synth, testConfig())

	speakUtterance(s)
	waitFor(t, "turn complete", func() bool { return len(conn.turnCompletes()) == 1 })

	incs := conn.increments()
	if len(incs) != 4 {
		t.Fatalf("expected 3 text increments plus final, got %d", len(incs))
	}
	var full strings.Builder
	for i, inc := range incs {
		if inc.SequenceIndex != i {
			t.Fatalf("increment %d carries sequence index %d", i, inc.SequenceIndex)
		}
		full.WriteString(inc.Text)
	}
	if !incs[len(incs)-1].IsFinal {
		t.Fatal("last increment must be final")
	}

	if synth.callCount() != 1 {
		t.Fatalf("synthesis must run exactly once per utterance, got %d calls", synth.callCount())
	}
	if synth.texts[0] != full.String() {
		t.Fatalf("synthesized text %q does not match increment concatenation %q", synth.texts[0], full.String())
	}

	tc := conn.turnCompletes()[0]
	if tc.UtteranceID != incs[0].UtteranceID {
		t.Fatalf("turn complete utterance id %d, increments carry %d", tc.UtteranceID, incs[0].UtteranceID)
	}
	if tc.TotalIncrements != 4 {
		t.Fatalf("turn complete reports %d increments", tc.TotalIncrements)
	}

	// terminal message ordering: everything else for the utterance first
	entries := conn.snapshot()
	last := entries[len(entries)-1]
	if last.binary {
		t.Fatal("audio chunk must precede turn complete")
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(last.data, &probe); err != nil || probe.Type != TypeTurnComplete {
		t.Fatalf("last message must be turn complete, got %s", probe.Type)
	}

	if s.PendingResponse() {
		t.Fatal("pending response must clear after turn complete")
	}
	if s.State() != StateIdle {
		t.Fatalf("session must return to idle, got %v", s.State())
	}

	var audioChunks int
	for _, e := range entries {
		if e.binary {
			audioChunks++
		}
	}
	if audioChunks != 1 {
		t.Fatalf("expected one audio chunk, got %d", audioChunks)
	}
}

func TestSessionDropsFramesWhilePending(t *testing.T) {
	release := make(chan struct{})
	gen := &testGenerator{
		tokens: []generation.Token{{Text: "ok"}},
		block:  release,
	}
	s, conn := newTestSession(t, gen, &testSynthesizer{}, testConfig())
	obs := metrics.NewMemoryObserver()
	s.SetObserver(obs)

	speakUtterance(s)
	waitFor(t, "pending response", s.PendingResponse)

	for i := 0; i < 5; i++ {
		s.HandleBinary(voicedFrame())
	}
	drops := len(obs.Named(metrics.EventFrameDrop))
	if drops != 5 {
		t.Fatalf("frames during pending response must be dropped, got %d drops", drops)
	}

	close(release)
	waitFor(t, "first turn complete", func() bool {
		return len(conn.turnCompletes()) == 1 && !s.PendingResponse()
	})

	// the very next voiced speech starts a fresh utterance
	speakUtterance(s)
	waitFor(t, "second turn complete", func() bool { return len(conn.turnCompletes()) == 2 })
}

func TestSessionWatchdogForceResets(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gen := &testGenerator{block: release}
	cfg := testConfig()
	cfg.WatchdogTimeout = 60 * time.Millisecond

	s, _ := newTestSession(t, gen, &testSynthesizer{}, cfg)
	obs := metrics.NewMemoryObserver()
	s.SetObserver(obs)

	speakUtterance(s)
	waitFor(t, "pending response", s.PendingResponse)
	waitFor(t, "watchdog reset", func() bool { return !s.PendingResponse() })

	if s.State() != StateIdle {
		t.Fatalf("watchdog must force the session idle, got %v", s.State())
	}
	if len(obs.Named(metrics.EventWatchdogFired)) == 0 {
		t.Fatal("watchdog event not recorded")
	}
}

func TestSessionGenerationFailureStillCompletes(t *testing.T) {
	gen := &failingGenerator{}
	synth := &testSynthesizer{}
	s, conn := newTestSession(t, gen, synth, testConfig())

	speakUtterance(s)
	waitFor(t, "turn complete", func() bool { return len(conn.turnCompletes()) == 1 })

	incs := conn.increments()
	if len(incs) != 1 || !incs[0].IsFinal || !incs[0].Error {
		t.Fatalf("expected a single terminal error increment, got %+v", incs)
	}
	if synth.callCount() != 0 {
		t.Fatal("failed generation must not reach synthesis")
	}
	if s.PendingResponse() {
		t.Fatal("pending response must clear after a failed turn")
	}
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }

func (failingGenerator) Stream(ctx context.Context, req generation.Request) (<-chan generation.Token, error) {
	return nil, generation.ErrModelUnavailable
}

func TestSessionRecordsHistory(t *testing.T) {
	gen := &testGenerator{
		transcript: "what is the weather",
		tokens:     []generation.Token{{Text: "Sunny"}, {Text: " today"}},
	}
	s, conn := newTestSession(t, gen, &testSynthesizer{}, testConfig())

	speakUtterance(s)
	waitFor(t, "turn complete", func() bool { return len(conn.turnCompletes()) == 1 })

	turns := s.History().Turns()
	if len(turns) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(turns))
	}
	if turns[0].Text != "what is the weather" {
		t.Fatalf("user turn %q", turns[0].Text)
	}
	if turns[1].Text != "Sunny today" {
		t.Fatalf("assistant turn %q", turns[1].Text)
	}
}

func TestSessionPingPong(t *testing.T) {
	s, conn := newTestSession(t, &testGenerator{}, nil, testConfig())

	s.HandleText([]byte(`{"type":"ping"}`))

	waitFor(t, "pong", func() bool {
		for _, e := range conn.snapshot() {
			if !e.binary && strings.Contains(string(e.data), TypePong) {
				return true
			}
		}
		return false
	})
}

func TestSessionIgnoresUnknownMessage(t *testing.T) {
	s, conn := newTestSession(t, &testGenerator{}, nil, testConfig())

	s.HandleText([]byte(`{"type":"mystery"}`))
	s.HandleText([]byte(`not json`))

	if entries := conn.snapshot(); len(entries) != 0 {
		t.Fatalf("bad messages must be dropped silently, got %d replies", len(entries))
	}
}
