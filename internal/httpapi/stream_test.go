package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vachaklabs/vachak/internal/httpapi"
	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/speaker"
	"github.com/vachaklabs/vachak/pkg/tts"
)

// streamDoneFrame mirrors the terminal JSON frame of /synth/stream.
type streamDoneFrame struct {
	Done        bool    `json:"done"`
	Stopped     bool    `json:"stopped"`
	Chunks      int     `json:"chunks"`
	SynthesisMS float64 `json:"synthesis_ms"`
	StreamingMS float64 `json:"streaming_ms"`
	TotalMS     float64 `json:"total_ms"`
}

// fastSpeaker builds speakers that stream 20 ms chunks with minimal pacing,
// keeping the tests quick.
func fastSpeaker(provider tts.Provider, pacing time.Duration) func() (*speaker.Speaker, func(), error) {
	return func() (*speaker.Speaker, func(), error) {
		spk, err := speaker.New(provider, speaker.WithStreamer(audio.NewStreamer(
			audio.WithChunkDuration(20*time.Millisecond),
			audio.WithPacing(pacing),
		)))
		if err != nil {
			return nil, nil, err
		}
		return spk, func() {}, nil
	}
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/synth/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test over") })
	return conn
}

func sendText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write %q: %v", payload, err)
	}
}

// readUntilText consumes binary chunk frames until the first text frame and
// returns the concatenated chunk payloads, the chunk count and the text frame.
func readUntilText(t *testing.T, conn *websocket.Conn) ([]byte, int, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pcm []byte
	chunks := 0
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read (after %d chunks): %v", chunks, err)
		}
		if typ == websocket.MessageBinary {
			chunks++
			pcm = append(pcm, data...)
			continue
		}
		return pcm, chunks, data
	}
}

// expectClose reads until the connection closes and returns the close error.
func expectClose(t *testing.T, conn *websocket.Conn) websocket.CloseError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		var closeErr websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("connection ended without a close frame: %v", err)
		}
		return closeErr
	}
}

func TestStream_DeliversChunksThenDoneFrame(t *testing.T) {
	t.Parallel()
	chunkBytes := audio.StreamFormat.ChunkBytes(20 * time.Millisecond)
	pcm := bytes.Repeat([]byte{7}, 3*chunkBytes)
	provider := &fakeProvider{pcm: pcm}
	ts := newTestServer(t, httpapi.Config{
		ProviderName: "azure",
		Provider:     provider,
		NewSpeaker:   fastSpeaker(provider, time.Millisecond),
	})
	conn := dialStream(t, ts)

	sendText(t, conn, `{"text": "namaste duniya", "locale": "hi-IN"}`)

	got, chunks, terminal := readUntilText(t, conn)
	if chunks != 3 {
		t.Errorf("binary chunks = %d, want 3", chunks)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("streamed bytes differ from synthesized PCM")
	}

	var done streamDoneFrame
	if err := json.Unmarshal(terminal, &done); err != nil {
		t.Fatalf("terminal frame is not JSON: %v", err)
	}
	if !done.Done || done.Stopped {
		t.Errorf("terminal frame = %+v, want done and not stopped", done)
	}
	if done.Chunks != 3 {
		t.Errorf("terminal chunk count = %d, want 3", done.Chunks)
	}
	if done.TotalMS <= 0 {
		t.Errorf("total duration = %.2f ms, want positive", done.TotalMS)
	}

	if closeErr := expectClose(t, conn); closeErr.Code != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", closeErr.Code)
	}
}

func TestStream_StopEndsUtteranceEarly(t *testing.T) {
	t.Parallel()
	chunkBytes := audio.StreamFormat.ChunkBytes(20 * time.Millisecond)
	const totalChunks = 64
	provider := &fakeProvider{pcm: bytes.Repeat([]byte{7}, totalChunks*chunkBytes)}
	ts := newTestServer(t, httpapi.Config{
		Provider:   provider,
		NewSpeaker: fastSpeaker(provider, 25*time.Millisecond),
	})
	conn := dialStream(t, ts)

	sendText(t, conn, `{"text": "a very long announcement", "locale": "en-IN"}`)

	// Let a couple of chunks arrive, then stop mid-stream.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for range 2 {
		typ, _, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read chunk: %v", err)
		}
		if typ != websocket.MessageBinary {
			t.Fatalf("frame type = %v, want binary", typ)
		}
	}
	sendText(t, conn, `"stop"`)

	_, chunks, terminal := readUntilText(t, conn)
	var done streamDoneFrame
	if err := json.Unmarshal(terminal, &done); err != nil {
		t.Fatalf("terminal frame is not JSON: %v", err)
	}
	if !done.Stopped || done.Done {
		t.Errorf("terminal frame = %+v, want stopped and not done", done)
	}
	// Two chunks were read before the stop; the total must fall well short.
	if total := chunks + 2; total >= totalChunks {
		t.Errorf("stream delivered all %d chunks despite stop", total)
	}

	if closeErr := expectClose(t, conn); closeErr.Code != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", closeErr.Code)
	}
}

func TestStream_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		payload    string
		wantCode   websocket.StatusCode
		wantReason string
	}{
		{"not json", `speak please`, websocket.StatusInvalidFramePayloadData, "JSON"},
		{"empty text", `{"text": "  ", "locale": "hi-IN"}`, websocket.StatusPolicyViolation, "empty"},
		{"unknown locale", `{"text": "hello", "locale": "xx-XX"}`, websocket.StatusPolicyViolation, "unsupported locale"},
	}

	provider := &fakeProvider{pcm: []byte{1, 2}}
	ts := newTestServer(t, httpapi.Config{Provider: provider})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialStream(t, ts)
			sendText(t, conn, tt.payload)

			closeErr := expectClose(t, conn)
			if closeErr.Code != tt.wantCode {
				t.Errorf("close status = %v, want %v", closeErr.Code, tt.wantCode)
			}
			if !strings.Contains(closeErr.Reason, tt.wantReason) {
				t.Errorf("close reason = %q, want it to mention %q", closeErr.Reason, tt.wantReason)
			}
		})
	}
}

func TestStream_RejectsOverlongText(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpapi.Config{
		Provider:     &fakeProvider{pcm: []byte{1, 2}},
		MaxTextChars: 5,
	})
	conn := dialStream(t, ts)
	sendText(t, conn, `{"text": "abcdef", "locale": "en-IN"}`)

	closeErr := expectClose(t, conn)
	if closeErr.Code != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", closeErr.Code)
	}
	if !strings.Contains(closeErr.Reason, "limit is 5") {
		t.Errorf("close reason = %q, want it to name the limit", closeErr.Reason)
	}
}

func TestStream_RejectsBinaryRequestFrame(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, httpapi.Config{Provider: &fakeProvider{pcm: []byte{1, 2}}})
	conn := dialStream(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write binary frame: %v", err)
	}

	if closeErr := expectClose(t, conn); closeErr.Code != websocket.StatusUnsupportedData {
		t.Errorf("close status = %v, want unsupported data", closeErr.Code)
	}
}

func TestStream_ProviderFailureClosesWithError(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{err: &tts.UpstreamError{Provider: "azure", Status: 503}}
	ts := newTestServer(t, httpapi.Config{Provider: provider})
	conn := dialStream(t, ts)

	sendText(t, conn, `{"text": "hello", "locale": "en-IN"}`)

	closeErr := expectClose(t, conn)
	if closeErr.Code != websocket.StatusInternalError {
		t.Errorf("close status = %v, want internal error", closeErr.Code)
	}
	if !strings.Contains(closeErr.Reason, "synthesize") {
		t.Errorf("close reason = %q, want the synthesis stage named", closeErr.Reason)
	}
}
