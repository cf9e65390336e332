package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/HelioGo/internal/calibrate"
)

// StatusEvent is a single SSE message: either a log line or a full
// run-state snapshot.
type StatusEvent struct {
	Time  string          `json:"t"`
	Kind  string          `json:"k"` // "log" or "state"
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE
// clients. The most recent state snapshot is replayed to new
// subscribers so a page refresh shows the run immediately.
type StatusBroadcaster struct {
	mu        sync.RWMutex
	clients   map[chan string]struct{}
	lastState string
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a
// cleanup function. The caller must call the returned cleanup when
// done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	if b.lastState != "" {
		ch <- b.lastState
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a log message to all subscribed clients.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Kind:  "log",
		Level: level,
		Msg:   msg,
	}, false)
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastState sends a run-state snapshot to all clients and
// retains it for future subscribers.
func (b *StatusBroadcaster) BroadcastState(snap calibrate.Snapshot) {
	state, err := json.Marshal(snap)
	if err != nil {
		return
	}
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Kind:  "state",
		State: state,
	}, true)
}

func (b *StatusBroadcaster) send(evt StatusEvent, retain bool) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if retain {
		b.lastState = payload
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter wraps the broadcaster as an io.Writer so the debug
// log can be mirrored into the SSE stream.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
