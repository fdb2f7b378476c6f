package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 256

	// wildcard subscribes to every event type
	wildcard = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage is sent by websocket clients to change their subscription
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Type   string `json:"type"`   // event type, or "*" for all
}

// ServerMessage is sent to websocket clients
type ServerMessage struct {
	Type    string `json:"type"` // an event type, "subscribed", "unsubscribed" or "error"
	Payload any    `json:"payload"`
}

// eventFilter tracks the event types a client wants
type eventFilter struct {
	mu    sync.RWMutex
	types map[string]bool
}

// newEventFilter parses a comma separated type list; empty means all events
func newEventFilter(raw string) *eventFilter {
	f := &eventFilter{types: make(map[string]bool)}
	if strings.TrimSpace(raw) == "" {
		f.types[wildcard] = true
		return f
	}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.types[t] = true
		}
	}
	return f
}

func (f *eventFilter) subscribe(t string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[t] = true
}

func (f *eventFilter) unsubscribe(t string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.types, t)
}

func (f *eventFilter) matches(t models.EventType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.types[wildcard] || f.types[string(t)]
}

// handleEvents streams committed ledger events over a websocket.
//
// Protocol:
// Client connects to /api/v1/ws/events?types=batch.created,batch.executed (all types when omitted)
// Client sends: {"action": "subscribe", "type": "intent.submitted"}
// Client sends: {"action": "unsubscribe", "type": "*"}
//
// Server sends:
// - {"type": "batch.executed", "payload": {...event...}}
// - {"type": "subscribed", "payload": {"type": "intent.submitted"}}
// - {"type": "error", "payload": {"message": "..."}}
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("Failed to close WebSocket connection: %v", err)
		}
	}()

	s.logger.Info("WebSocket client connected from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	filter := newEventFilter(r.URL.Query().Get("types"))
	subID, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(subID)

	send := make(chan ServerMessage, wsSendBuffer)

	// producers write to send; the writer drains it after they stop
	var producers, writer sync.WaitGroup
	s.goSafe(&producers, cancel, "event forwarder", r.RemoteAddr, func() {
		s.forwardEvents(ctx, cancel, events, send, filter)
	})
	s.goSafe(&producers, cancel, "ping ticker", r.RemoteAddr, func() {
		s.sendPings(ctx, conn)
	})
	s.goSafe(&writer, cancel, "message writer", r.RemoteAddr, func() {
		s.writeMessages(conn, send)
	})

	s.readClientMessages(ctx, conn, cancel, filter, send)

	cancel()
	producers.Wait()
	close(send)
	writer.Wait()

	s.logger.Info("WebSocket client disconnected from %s", r.RemoteAddr)
}

// goSafe runs fn on its own goroutine, cancelling the connection if it panics
func (s *Server) goSafe(wg *sync.WaitGroup, cancel context.CancelFunc, name, remote string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic in WebSocket %s for %s: %v\n%s", name, remote, rec, debug.Stack())
				cancel()
			}
		}()
		fn()
	}()
}

// forwardEvents copies matching hub events to send until ctx ends or the hub closes
func (s *Server) forwardEvents(ctx context.Context, cancel context.CancelFunc, events <-chan models.Event, send chan<- ServerMessage, filter *eventFilter) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				cancel()
				return
			}
			if !filter.matches(event.Type) {
				continue
			}
			select {
			case send <- ServerMessage{Type: string(event.Type), Payload: event}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendPings keeps the connection alive and sends a close frame when ctx ends
func (s *Server) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				s.logger.Debug("WebSocket ping failed: %v", err)
				return
			}
		}
	}
}

func (s *Server) writeMessages(conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("WebSocket write failed: %v", err)
			// keep draining so producers never block
			for range send {
			}
			return
		}
	}
}

func (s *Server) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, filter *eventFilter, send chan<- ServerMessage) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	reply := func(msg ServerMessage) {
		select {
		case send <- msg:
		case <-ctx.Done():
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket read error: %v", err)
			}
			cancel()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if msg.Type == "" {
			reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "type is required"}})
			continue
		}
		switch msg.Action {
		case "subscribe":
			filter.subscribe(msg.Type)
			reply(ServerMessage{Type: "subscribed", Payload: map[string]string{"type": msg.Type}})
		case "unsubscribe":
			filter.unsubscribe(msg.Type)
			reply(ServerMessage{Type: "unsubscribed", Payload: map[string]string{"type": msg.Type}})
		default:
			reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
