// Command aural-client is a reference client for the aural server.
// It streams PCM16 audio to the server in real time and writes the
// synthesized reply audio to a file.
//
// Usage:
//
//	go run ./cmd/aural-client --in utterance.pcm --out reply.pcm
//	cat utterance.pcm | go run ./cmd/aural-client --in -
//
// Input must be raw little-endian PCM16 at the given rate. Stereo
// input is downmixed to mono with --channels 2.
// MIC_DEVICE_ID and OUTPUT_DEVICE_ID are reserved for platform audio
// capture layers; this client reads files instead.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auralab/go-aural/internal/config"
	"github.com/auralab/go-aural/pkg/protocol"
	"github.com/auralab/go-aural/pkg/synth"
)

var (
	addr     = flag.String("addr", "", "server websocket URL (default ws://localhost:8000/ws)")
	inPath   = flag.String("in", "-", "input PCM16 file, - for stdin")
	out      = flag.String("out", "reply.pcm", "output PCM16 file")
	rate     = flag.Int("rate", 16000, "input sample rate in Hz")
	channels = flag.Int("channels", 1, "input channel count (stereo is downmixed)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("config error: %v", err)
	}

	url := *addr
	if url == "" {
		url = "ws://localhost" + cfg.ServerAddress + "/ws"
	}

	fmt.Printf("🎤 Connecting to %s\n", url)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fatalf("dial error: %v", err)
	}
	defer ws.Close()

	in, err := openInput(*inPath)
	if err != nil {
		fatalf("input error: %v", err)
	}
	defer in.Close()

	outFile, err := os.Create(*out)
	if err != nil {
		fatalf("output error: %v", err)
	}
	defer outFile.Close()

	if *channels != 1 && *channels != 2 {
		fatalf("unsupported channel count %d", *channels)
	}

	done := make(chan struct{})
	go receive(ws, outFile, done)

	if err := sendUtterance(ws, in, *rate, *channels); err != nil {
		fatalf("send error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		fmt.Println("⚠️  Timed out waiting for reply")
	}

	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	fmt.Printf("✅ Reply audio written to %s\n", *out)
}

// sendUtterance paces the input stream so the server sees audio at
// roughly capture rate, then signals end of utterance. Each chunk goes
// out as a sequenced audio frame.
func sendUtterance(ws *websocket.Conn, in io.Reader, rate, channels int) error {
	msg, err := protocol.NewStartMessage(rate)
	if err != nil {
		return err
	}
	if err := writeControl(ws, msg); err != nil {
		return err
	}

	// 100ms of PCM16 per chunk.
	chunk := make([]byte, rate/10*2*channels)
	sent := 0
	var seq uint32
	for {
		n, err := io.ReadFull(in, chunk)
		if n > 0 {
			payload := chunk[:n]
			if channels == 2 {
				payload = synth.SamplesToBytes(synth.StereoToMono(synth.BytesToSamples(payload)))
			}
			frame := protocol.AudioFrame{Sequence: seq, Payload: payload}
			if werr := ws.WriteMessage(websocket.BinaryMessage, frame.Encode()); werr != nil {
				return werr
			}
			seq++
			sent += len(payload)
			time.Sleep(100 * time.Millisecond)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}

	fmt.Printf("🎤 Sent %d bytes of audio\n", sent)
	msg, err = protocol.NewStopMessage(false)
	if err != nil {
		return err
	}
	return writeControl(ws, msg)
}

// receive prints control messages and writes audio payloads until the
// turn completes.
func receive(ws *websocket.Conn, audioOut io.Writer, done chan<- struct{}) {
	defer close(done)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			var frame protocol.AudioFrame
			if err := frame.Decode(data); err != nil {
				fmt.Printf("⚠️  Bad audio frame: %v\n", err)
				continue
			}
			audioOut.Write(frame.Payload)

		case websocket.TextMessage:
			msg, err := protocol.ParseMessage(data)
			if err != nil {
				fmt.Printf("⚠️  Bad message: %v\n", err)
				continue
			}
			switch msg.Type {
			case protocol.TypeTranscript:
				if td, err := msg.GetTranscriptData(); err == nil {
					fmt.Printf("📝 You said: %s\n", td.Text)
				}
			case protocol.TypeAssistantText:
				if ad, err := msg.GetAssistantTextData(); err == nil {
					fmt.Printf("💬 %s\n", ad.Text)
				}
			case protocol.TypeToolNotice:
				if nd, err := msg.GetToolNoticeData(); err == nil {
					if nd.Rejected {
						fmt.Printf("🔧 Tool rejected: %s\n", nd.Name)
					} else {
						fmt.Printf("🔧 Tool ran: %s\n", nd.Name)
					}
				}
			case protocol.TypeError:
				if ed, err := msg.GetErrorData(); err == nil {
					fmt.Printf("❌ Server error (%s): %s\n", ed.Code, ed.Message)
					if ed.Fatal {
						return
					}
				}
			case protocol.TypeEndOfTurn:
				if ed, err := msg.GetEndOfTurnData(); err == nil {
					fmt.Printf("🏁 Turn complete: %d sentences, cancelled=%v\n",
						ed.Sentences, ed.Cancelled)
				}
				return
			}
		}
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func writeControl(ws *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func fatalf(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}
