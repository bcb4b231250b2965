package frames

import (
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindAudio   Kind = "audio"
	KindControl Kind = "control"
	KindSystem  Kind = "system"
)

type ControlCode string

const (
	ControlCancel        ControlCode = "cancel"
	ControlWatchdogReset ControlCode = "watchdog_reset"
)

// Frame is the currency of the ingest path: capture audio, plus in-band
// control and system signaling tagged with the owning session.
type Frame interface {
	Kind() Kind
	Seq() int64
	Meta() map[string]string
}

// AudioFrame carries one capture window of PCM16LE samples. Frames are
// immutable once created and owned by the buffer until consumed.
type AudioFrame struct {
	seq        int64
	capturedAt time.Time
	data       []byte
	rate       int
	ch         int
	meta       map[string]string
	pooled     bool
}

func NewAudioFrame(sessionID string, seq int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		seq:        seq,
		capturedAt: time.Now(),
		data:       data,
		rate:       rate,
		ch:         ch,
		meta:       mergeMeta(sessionID, meta),
	}
}

func NewAudioFrameFromPool(sessionID string, seq int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	f := NewAudioFrame(sessionID, seq, buf, rate, ch, meta)
	f.pooled = true
	return f
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) Seq() int64              { return a.seq }
func (a AudioFrame) CapturedAt() time.Time   { return a.capturedAt }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }

// Samples returns the frame payload decoded as little-endian int16 samples.
func (a AudioFrame) Samples() []int16 {
	out := make([]int16, len(a.data)/2)
	for i := range out {
		out[i] = int16(a.data[2*i]) | int16(a.data[2*i+1])<<8
	}
	return out
}

func ReleaseAudioFrame(f Frame) bool {
	af, ok := f.(AudioFrame)
	if !ok {
		if ap, ok := f.(*AudioFrame); ok {
			af = *ap
		} else {
			return false
		}
	}
	if af.pooled {
		ReleaseAudioBuf(af.data)
		return true
	}
	return false
}

type ControlFrame struct {
	seq  int64
	code ControlCode
	meta map[string]string
}

func NewControlFrame(sessionID string, seq int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{
		seq:  seq,
		code: code,
		meta: mergeMeta(sessionID, meta),
	}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) Seq() int64              { return c.seq }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }

type SystemFrame struct {
	seq  int64
	name string
	meta map[string]string
}

func NewSystemFrame(sessionID string, seq int64, name string, meta map[string]string) SystemFrame {
	return SystemFrame{
		seq:  seq,
		name: name,
		meta: mergeMeta(sessionID, meta),
	}
}

func (s SystemFrame) Kind() Kind              { return KindSystem }
func (s SystemFrame) Seq() int64              { return s.seq }
func (s SystemFrame) Meta() map[string]string { return cloneMeta(s.meta) }
func (s SystemFrame) Name() string            { return s.name }

// SeqGen hands out monotonic frame sequence numbers per session.
type SeqGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewSeqGen() *SeqGen {
	return &SeqGen{value: make(map[string]int64)}
}

func (g *SeqGen) Next(sessionID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[sessionID] + 1
	g.value[sessionID] = v
	return v
}

// UtteranceIDGen hands out process-wide monotonic utterance identifiers.
type UtteranceIDGen struct {
	value atomic.Uint64
}

func (g *UtteranceIDGen) Next() uint64 {
	return g.value.Add(1)
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}

func mergeMeta(sessionID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if sessionID != "" {
		out[MetaSessionID] = sessionID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
