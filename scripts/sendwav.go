package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	wav "github.com/youpy/go-wav"
)

// Streams a WAV file to a running server in real-time sized frames and
// prints what comes back. Useful for exercising the full turn loop
// without a microphone.
func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "server websocket url")
	wavPath := flag.String("wav", "", "path to a PCM16 WAV file")
	frameMS := flag.Int("frame-ms", 20, "frame size in milliseconds")
	tail := flag.Duration("tail", 3*time.Second, "silence to append after the file")
	flag.Parse()

	if *wavPath == "" {
		fmt.Println("usage: sendwav -wav=utterance.wav [-url=ws://...]")
		os.Exit(1)
	}

	f, err := os.Open(*wavPath)
	if err != nil {
		fmt.Println("open:", err)
		os.Exit(1)
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		fmt.Println("wav format:", err)
		os.Exit(1)
	}
	if format.BitsPerSample != 16 {
		fmt.Println("need a 16-bit PCM WAV")
		os.Exit(1)
	}
	pcm, err := io.ReadAll(reader)
	if err != nil {
		fmt.Println("wav read:", err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		fmt.Println("dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go printResponses(conn, done)

	sampleRate := int(format.SampleRate)
	channels := int(format.NumChannels)
	frameBytes := sampleRate * channels * 2 * *frameMS / 1000
	interval := time.Duration(*frameMS) * time.Millisecond

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		<-ticker.C
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			fmt.Println("write:", err)
			os.Exit(1)
		}
	}

	// Trailing silence lets the server seal the utterance.
	silence := make([]byte, frameBytes)
	for elapsed := time.Duration(0); elapsed < *tail; elapsed += interval {
		<-ticker.C
		if err := conn.WriteMessage(websocket.BinaryMessage, silence); err != nil {
			break
		}
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		fmt.Println("timed out waiting for turn_complete")
	}
}

func printResponses(conn *websocket.Conn, done chan<- struct{}) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			close(done)
			return
		}
		if kind == websocket.BinaryMessage {
			fmt.Printf("[audio %d bytes]\n", len(data))
			continue
		}
		var probe struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}
		switch probe.Type {
		case "increment":
			if probe.Text != "" {
				fmt.Print(probe.Text)
			}
		case "turn_complete":
			fmt.Printf("\n%s\n", data)
			close(done)
			return
		}
	}
}
