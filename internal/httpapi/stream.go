package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/vachaklabs/vachak/internal/observe"
	"github.com/vachaklabs/vachak/pkg/audio"
	"github.com/vachaklabs/vachak/pkg/speaker"
	"github.com/vachaklabs/vachak/pkg/tts"
)

const (
	// requestFrameTimeout bounds how long the server waits for the client's
	// request frame after the handshake.
	requestFrameTimeout = 30 * time.Second

	// terminalWriteTimeout bounds the final JSON frame once the utterance
	// has ended. The client may already be gone by then.
	terminalWriteTimeout = 5 * time.Second

	// chunkWriteTimeout bounds one chunk delivery to a slow client.
	chunkWriteTimeout = 10 * time.Second
)

// streamRequest is the single JSON text frame a streaming client sends after
// the handshake.
type streamRequest struct {
	Text    string `json:"text"`
	Locale  string `json:"locale"`
	Rewrite bool   `json:"rewrite"`
}

// streamDone is the JSON text frame that ends a stream. Durations are in
// milliseconds. Exactly one of Done and Stopped is true.
type streamDone struct {
	Done        bool    `json:"done"`
	Stopped     bool    `json:"stopped,omitempty"`
	Chunks      int     `json:"chunks"`
	SynthesisMS float64 `json:"synthesis_ms"`
	StreamingMS float64 `json:"streaming_ms"`
	TotalMS     float64 `json:"total_ms"`
}

// handleStream runs one utterance over a WebSocket: one JSON request frame
// in, binary PCM chunk frames out, a JSON terminal frame, then a close whose
// status reflects how the utterance ended. A "stop" text frame from the
// client stops the utterance mid-stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The service fronts trusted internal callers.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		observe.Logger(ctx).Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exit")

	req, ok := s.readStreamRequest(ctx, conn)
	if !ok {
		return
	}
	locale, err := tts.ParseLocale(req.Locale)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, closeReason(err.Error()))
		return
	}

	spk, release, err := s.newSpeaker()
	if err != nil {
		observe.Logger(ctx).Error("speaker construction failed", "error", err)
		conn.Close(websocket.StatusInternalError, "speaker unavailable")
		return
	}
	defer release()

	// The sink and the terminal callbacks both run on the speaker's
	// goroutine; the done channel publishes the chunk count to this one.
	chunks := 0
	sink := audio.SinkFunc(func(ctx context.Context, chunk []byte) error {
		// A write aborted by cancellation tears down the whole connection.
		// Finish the in-flight chunk; the streamer observes the stop at the
		// next chunk boundary.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chunkWriteTimeout)
		defer cancel()
		if err := conn.Write(writeCtx, websocket.MessageBinary, chunk); err != nil {
			return err
		}
		chunks++
		return nil
	})

	type outcome struct {
		metrics speaker.Metrics
		err     error
	}
	done := make(chan outcome, 1)

	spk.Speak(ctx, speaker.Request{
		Text:    req.Text,
		Locale:  locale,
		Rewrite: req.Rewrite,
		Sink:    sink,
		OnDone:  func(m speaker.Metrics) { done <- outcome{metrics: m} },
		OnError: func(err error) { done <- outcome{err: err} },
	})

	// Watch for a stop frame or the client going away while streaming.
	go func() {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				spk.Stop()
				return
			}
			if typ == websocket.MessageText && isStopFrame(data) {
				spk.Stop()
			}
		}
	}()

	res := <-done
	phase := spk.Phase()

	s.metrics.RecordStreamChunks(ctx, int64(chunks))

	if res.err != nil {
		s.metrics.RecordSynthesisError(ctx, s.providerName, res.err)
		observe.Logger(ctx).Error("stream utterance failed",
			"provider", s.providerName, "locale", locale, "error", res.err)
		conn.Close(websocket.StatusInternalError, closeReason(res.err.Error()))
		return
	}

	if res.metrics.SynthesisDuration > 0 {
		// The streaming path bypasses the service-level cache.
		s.metrics.RecordSynthesis(ctx, s.providerName, locale, false, res.metrics.SynthesisDuration)
	}

	stopped := phase == speaker.PhaseStopped
	_ = writeJSONFrame(conn, streamDone{
		Done:        !stopped,
		Stopped:     stopped,
		Chunks:      chunks,
		SynthesisMS: millis(res.metrics.SynthesisDuration),
		StreamingMS: millis(res.metrics.StreamingDuration),
		TotalMS:     millis(res.metrics.TotalDuration),
	})
	if stopped {
		conn.Close(websocket.StatusNormalClosure, "stopped")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// readStreamRequest reads and validates the request frame. On rejection it
// closes the connection with a status describing why and returns ok=false.
func (s *Server) readStreamRequest(ctx context.Context, conn *websocket.Conn) (streamRequest, bool) {
	var req streamRequest

	readCtx, cancel := context.WithTimeout(ctx, requestFrameTimeout)
	defer cancel()
	typ, data, err := conn.Read(readCtx)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "request frame not received")
		return req, false
	}
	if typ != websocket.MessageText {
		conn.Close(websocket.StatusUnsupportedData, "request frame must be text")
		return req, false
	}
	if err := json.Unmarshal(data, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "request frame must be JSON")
		return req, false
	}

	text := tts.Sanitize(req.Text)
	if text == "" {
		conn.Close(websocket.StatusPolicyViolation, "text must not be empty")
		return req, false
	}
	if n := utf8.RuneCountInString(text); n > s.maxTextChars {
		conn.Close(websocket.StatusPolicyViolation,
			fmt.Sprintf("text is %d characters, the limit is %d", n, s.maxTextChars))
		return req, false
	}
	return req, true
}

// isStopFrame reports whether a client text frame asks to stop the
// utterance. Accepts the bare word and its JSON-quoted form.
func isStopFrame(data []byte) bool {
	s := strings.TrimSpace(string(data))
	s = strings.Trim(s, `"`)
	return strings.EqualFold(s, "stop")
}

// writeJSONFrame sends v as a text frame, bounded by its own timeout so a
// gone client cannot hold the handler open.
func writeJSONFrame(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// closeReason trims s to the close frame's 123-byte reason budget without
// splitting a rune.
func closeReason(s string) string {
	const max = 123
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func millis(d time.Duration) float64 {
	return d.Seconds() * 1000
}
