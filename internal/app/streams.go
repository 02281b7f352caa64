package app

import (
	"context"
	"sync"

	"github.com/vachaklabs/vachak/pkg/speaker"
)

// StreamManager tracks the speakers behind live streaming connections.
//
// Hijacked WebSocket connections are invisible to [net/http.Server.Shutdown],
// so graceful teardown needs its own handle on them: Drain stops every live
// utterance and waits until the stream handlers have wound down. All exported
// methods are safe for concurrent use.
type StreamManager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	draining bool
	nextID   uint64
	active   map[uint64]*speaker.Speaker
}

// NewStreamManager returns an empty, ready-to-use [StreamManager].
func NewStreamManager() *StreamManager {
	m := &StreamManager{active: make(map[uint64]*speaker.Speaker)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Register adds the speaker behind a new streaming connection and returns a
// release function the connection handler must call when it ends. Release is
// idempotent. A stream arriving while the manager is draining is stopped
// immediately; its handler still observes the usual stopped wind-down.
func (m *StreamManager) Register(spk *speaker.Speaker) (release func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.active[id] = spk
	draining := m.draining
	m.mu.Unlock()

	if draining {
		spk.Stop()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.active, id)
			m.cond.Broadcast()
			m.mu.Unlock()
		})
	}
}

// Active reports how many streaming connections are live.
func (m *StreamManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Drain stops every live stream and waits for their handlers to release,
// bounded by ctx. It returns ctx.Err() when streams were still live at the
// deadline.
func (m *StreamManager) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	speakers := make([]*speaker.Speaker, 0, len(m.active))
	for _, spk := range m.active {
		speakers = append(speakers, spk)
	}
	m.mu.Unlock()

	// Stop is non-blocking; each handler winds down on its own goroutine and
	// releases when its connection closes.
	for _, spk := range speakers {
		spk.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		for len(m.active) > 0 {
			m.cond.Wait()
		}
		m.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
