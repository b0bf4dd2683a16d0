package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mclp/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RunWSHandler streams the events of run over a WebSocket. The first message
// is a snapshot of the run; the socket closes after the final event.
func (s *Server) RunWSHandler(w http.ResponseWriter, r *http.Request, run model.Run) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(run.ID)
	defer s.Broker.Unsubscribe(run.ID, ch)

	var mu sync.Mutex
	write := func(typ string, v any) error {
		b, _ := json.Marshal(v)
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(wsMessage{Type: typ, ID: run.ID, Payload: b})
	}

	// Read loop: answers pings and notices when the client goes away.
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	go func() {
		defer close(gone)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if msg.Type == "ping" {
				_ = write("pong", nil)
			}
		}
	}()

	if cur, err := s.Store.GetRun(r.Context(), run.TenantID, run.ID); err == nil {
		run = cur
	}
	if err := write("snapshot", run); err != nil || run.Done() {
		s.closeWS(conn, &mu)
		return
	}

	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(evt.Type, evt.Data); err != nil {
				return
			}
			if evt.Type == model.EventRunCompleted || evt.Type == model.EventRunFailed {
				s.closeWS(conn, &mu)
				return
			}
		case <-keepalive.C:
			mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) closeWS(conn *websocket.Conn, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
