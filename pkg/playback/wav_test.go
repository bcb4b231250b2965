package playback

import (
	"bytes"
	"testing"

	wav "github.com/youpy/go-wav"
)

func TestDecodeChunkRawPassthrough(t *testing.T) {
	raw := []byte{1, 0, 2, 0, 3, 0}
	chunk, err := DecodeChunk(raw, 16000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(chunk.PCM, raw) {
		t.Fatalf("raw chunk must pass through unchanged: %v", chunk.PCM)
	}
	if chunk.SampleRate != 16000 || chunk.Channels != 1 {
		t.Fatalf("raw chunk must take session defaults, got %d/%d", chunk.SampleRate, chunk.Channels)
	}
}

func TestDecodeChunkUnwrapsWAV(t *testing.T) {
	pcm := []byte{0x10, 0x00, 0x20, 0x00, 0x30, 0x00, 0x40, 0x00}
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(pcm)/2), 1, 22050, 16)
	if _, err := w.Write(pcm); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	chunk, err := DecodeChunk(buf.Bytes(), 16000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(chunk.PCM, pcm) {
		t.Fatalf("wav payload mismatch: %v", chunk.PCM)
	}
	if chunk.SampleRate != 22050 {
		t.Fatalf("sample rate must come from the container, got %d", chunk.SampleRate)
	}
	if chunk.Channels != 1 {
		t.Fatalf("channels must come from the container, got %d", chunk.Channels)
	}
}

func TestDecodeChunkTruncatedWAV(t *testing.T) {
	if _, err := DecodeChunk([]byte("RIFF0000WAVE"), 16000, 1); err == nil {
		t.Fatal("truncated container must fail decode")
	}
}
