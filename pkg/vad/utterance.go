package vad

import "time"

// Utterance is one contiguous span of detected speech, sealed by the gate
// once hysteresis confirms sustained silence. Sealed utterances are
// immutable and consumed exactly once by the generation streamer.
type Utterance struct {
	ID         uint64
	SessionID  string
	StartTime  time.Time
	EndTime    time.Time
	sampleRate int
	windows    [][]int16
}

func (u *Utterance) Duration() time.Duration {
	return u.EndTime.Sub(u.StartTime)
}

func (u *Utterance) SampleRate() int { return u.sampleRate }

func (u *Utterance) Windows() int { return len(u.windows) }

func (u *Utterance) SampleCount() int {
	n := 0
	for _, w := range u.windows {
		n += len(w)
	}
	return n
}

// PCM16 renders the utterance audio as little-endian 16-bit PCM bytes.
func (u *Utterance) PCM16() []byte {
	out := make([]byte, 0, u.SampleCount()*2)
	for _, w := range u.windows {
		for _, s := range w {
			out = append(out, byte(s), byte(s>>8))
		}
	}
	return out
}
