package vad

// WindowBuffer accumulates raw PCM samples from the capture path into
// fixed-size analysis windows. Single producer (the transport read loop),
// single consumer (the gate); no locking needed.
type WindowBuffer struct {
	size int
	buf  []int16
}

func NewWindowBuffer(windowSamples int) *WindowBuffer {
	if windowSamples <= 0 {
		windowSamples = 320
	}
	return &WindowBuffer{size: windowSamples}
}

func (b *WindowBuffer) WindowSize() int { return b.size }

// Push appends samples and returns every completed window. Returned
// windows are freshly allocated and safe to retain.
func (b *WindowBuffer) Push(samples []int16) [][]int16 {
	b.buf = append(b.buf, samples...)
	var out [][]int16
	for len(b.buf) >= b.size {
		w := make([]int16, b.size)
		copy(w, b.buf[:b.size])
		b.buf = b.buf[b.size:]
		out = append(out, w)
	}
	return out
}

// Pending returns the number of buffered samples not yet forming a window.
func (b *WindowBuffer) Pending() int { return len(b.buf) }

func (b *WindowBuffer) Reset() { b.buf = b.buf[:0] }
