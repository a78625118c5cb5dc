package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kychiang/studydeck/internal/logging"
)

// ChangeEvent is one realtime change notification from the API.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Event     string          `json:"event"` // "*", INSERT, UPDATE, DELETE
	Record    json.RawMessage `json:"record,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RefreshFunc is invoked when a table changes remotely; implementations force
// a cache refresh for that table.
type RefreshFunc func(table string)

// StateFunc observes feed connectivity transitions: true on connect, false on
// dial failure or disconnect. The feed doubles as the process's connectivity
// signal.
type StateFunc func(connected bool)

// Subscription maintains a websocket change feed and fans events out to the
// registered refresh callback. Reconnects with capped exponential backoff.
type Subscription struct {
	url     string
	refresh RefreshFunc
	onState StateFunc
	dialer  *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscription creates a Subscription for the given websocket URL.
func NewSubscription(url string, refresh RefreshFunc) *Subscription {
	return &Subscription{
		url:     url,
		refresh: refresh,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// OnState registers the connectivity observer. Call before Start.
func (s *Subscription) OnState(fn StateFunc) {
	s.onState = fn
}

func (s *Subscription) notifyState(connected bool) {
	if s.onState != nil {
		s.onState(connected)
	}
}

// Start begins the subscription loop. It returns immediately; the feed runs
// until Close or context cancellation.
func (s *Subscription) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Close tears the subscription down and waits for the loop to exit.
func (s *Subscription) Close() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.notifyState(false)
			attempt++
			delay := reconnectBackoff(attempt)
			logging.Warn("realtime dial failed, retrying", map[string]interface{}{
				"attempt":   attempt,
				"delay_sec": delay.Seconds(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.notifyState(true)

		s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		s.notifyState(false)
	}
}

func (s *Subscription) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		var event ChangeEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() == nil {
				logging.Warn("realtime read failed, reconnecting",
					map[string]interface{}{"error": err.Error()})
			}
			return
		}

		if event.Table == "" {
			continue
		}
		if s.refresh != nil {
			s.refresh(event.Table)
		}
	}
}

// reconnectBackoff returns the delay before reconnect attempt n.
// Doubles per attempt from one second, capped at 32 seconds.
func reconnectBackoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * time.Second
}
