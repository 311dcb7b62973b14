package wsnotify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"outreach-agent/internal/models"
)

type WebSocketManager struct {
	clients map[*websocket.Conn]bool
	lock    sync.RWMutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func Upgrader() *websocket.Upgrader {
	return &upgrader
}

func NewManager() *WebSocketManager {
	return &WebSocketManager{clients: make(map[*websocket.Conn]bool)}
}

var Manager = NewManager()

func (m *WebSocketManager) AddClient(conn *websocket.Conn) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clients[conn] = true
}

func (m *WebSocketManager) RemoveClient(conn *websocket.Conn) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.clients, conn)
}

func (m *WebSocketManager) ClientCount() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.clients)
}

// Broadcast writes event to every client under an exclusive lock, since a
// websocket connection supports a single concurrent writer.
func (m *WebSocketManager) Broadcast(event interface{}) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for client := range m.clients {
		client.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := client.WriteJSON(event); err != nil {
			client.Close()
			delete(m.clients, client)
		}
	}
}

type TransitionPayload struct {
	ProspectID   string `json:"prospectId"`
	Phone        string `json:"phone"`
	Name         string `json:"name"`
	Company      string `json:"company"`
	From         string `json:"from"`
	To           string `json:"to"`
	Event        string `json:"event"`
	Reason       string `json:"reason,omitempty"`
	ContactCount int    `json:"contactCount"`
	At           string `json:"at"`
}

type TransitionEvent struct {
	Type    string            `json:"type"`
	Payload TransitionPayload `json:"payload"`
}

func NewTransitionEvent(p *models.Prospect, t models.Transition) TransitionEvent {
	payload := TransitionPayload{
		ProspectID: t.ProspectID,
		Phone:      t.Phone,
		From:       string(t.From),
		To:         string(t.To),
		Event:      string(t.Event),
		Reason:     t.Reason,
		At:         t.At.UTC().Format(time.RFC3339Nano),
	}
	if p != nil {
		payload.Name = p.Name
		payload.Company = p.Company
		payload.ContactCount = p.ContactCount
	}
	return TransitionEvent{Type: "transition", Payload: payload}
}

// Hook feeds committed transitions to the dashboard clients of a manager.
type Hook struct {
	manager *WebSocketManager
}

var _ models.TransitionHook = (*Hook)(nil)

func NewHook(m *WebSocketManager) *Hook {
	if m == nil {
		m = Manager
	}
	return &Hook{manager: m}
}

func (h *Hook) OnTransition(_ context.Context, p *models.Prospect, t models.Transition) {
	h.manager.Broadcast(NewTransitionEvent(p, t))
}
