package playback

import (
	"bytes"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"
)

// Chunk is one decoded unit of playable audio.
type Chunk struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// DecodeChunk normalizes one received audio chunk. WAV containers are
// unwrapped to raw PCM16; anything without a RIFF header is assumed to
// already be raw PCM at the session rate.
func DecodeChunk(data []byte, defaultRate, defaultChannels int) (chunk Chunk, err error) {
	if !isWAV(data) {
		return Chunk{PCM: data, SampleRate: defaultRate, Channels: defaultChannels}, nil
	}
	// go-wav panics on truncated containers instead of returning an
	// error, so convert that into a decode failure the caller can drop.
	defer func() {
		if r := recover(); r != nil {
			chunk = Chunk{}
			err = fmt.Errorf("malformed wav container: %v", r)
		}
	}()
	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return Chunk{}, err
	}
	var pcm bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pcm.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Chunk{}, err
		}
	}
	return Chunk{
		PCM:        pcm.Bytes(),
		SampleRate: int(format.SampleRate),
		Channels:   int(format.NumChannels),
	}, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}
