// Package debounce batches rapid-fire inbound messages per user so one
// orchestrator turn answers a burst instead of racing several turns.
package debounce

import (
	"strings"
	"sync"
	"time"
)

const (
	// MinWindow and MaxWindow bound the configurable debounce delay.
	MinWindow = 500 * time.Millisecond
	MaxWindow = 5 * time.Second
)

// ClampWindow forces a configured delay into the supported range. Zero
// disables debouncing entirely.
func ClampWindow(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d < MinWindow {
		return MinWindow
	}
	if d > MaxWindow {
		return MaxWindow
	}
	return d
}

// Message is one inbound user message awaiting dispatch.
type Message struct {
	UserID  string
	Channel string
	Text    string
}

type buffer struct {
	messages []Message
	timer    *time.Timer
}

// Inbound batches messages per user and flushes each batch after the window
// elapses without a new arrival. Flush receives the batch in arrival order.
type Inbound struct {
	mu      sync.Mutex
	window  time.Duration
	buffers map[string]*buffer
	flush   func(batch []Message)
	stopped bool
}

// NewInbound creates a debouncer. A zero window makes Enqueue flush
// immediately.
func NewInbound(window time.Duration, flush func(batch []Message)) *Inbound {
	return &Inbound{
		window:  ClampWindow(window),
		buffers: make(map[string]*buffer),
		flush:   flush,
	}
}

// Enqueue adds a message. The user's timer restarts on every arrival, so a
// burst is delivered as one batch once the sender pauses.
func (d *Inbound) Enqueue(msg Message) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.window == 0 {
		d.mu.Unlock()
		d.flush([]Message{msg})
		return
	}

	buf, ok := d.buffers[msg.UserID]
	if !ok {
		buf = &buffer{}
		d.buffers[msg.UserID] = buf
	}
	buf.messages = append(buf.messages, msg)
	if buf.timer != nil {
		buf.timer.Stop()
	}
	userID := msg.UserID
	buf.timer = time.AfterFunc(d.window, func() {
		d.flushUser(userID)
	})
	d.mu.Unlock()
}

// FlushAll delivers every pending batch immediately. Used at shutdown.
func (d *Inbound) FlushAll() {
	d.mu.Lock()
	var batches [][]Message
	for userID, buf := range d.buffers {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		if len(buf.messages) > 0 {
			batches = append(batches, buf.messages)
		}
		delete(d.buffers, userID)
	}
	d.mu.Unlock()

	for _, batch := range batches {
		d.flush(batch)
	}
}

// Stop flushes pending batches and rejects further messages.
func (d *Inbound) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.FlushAll()
}

func (d *Inbound) flushUser(userID string) {
	d.mu.Lock()
	buf, ok := d.buffers[userID]
	if !ok || len(buf.messages) == 0 {
		d.mu.Unlock()
		return
	}
	batch := buf.messages
	delete(d.buffers, userID)
	d.mu.Unlock()

	d.flush(batch)
}

// JoinTexts combines a batch into one message body, preserving order.
func JoinTexts(batch []Message) string {
	parts := make([]string, 0, len(batch))
	for _, m := range batch {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}
