package websocket

import (
	"encoding/json"
	"sync"
)

const (
	MessageBalance      = "balance_update"
	MessageNotification = "notification"
)

// BalanceUpdate is pushed to both parties of an account after a ledger
// mutation commits.
type BalanceUpdate struct {
	AccountID    string `json:"account_id"`
	StudentID    string `json:"student_id"`
	InstructorID string `json:"instructor_id"`
	Balance      string `json:"balance"`
	FlightHours  string `json:"prepaid_flight_hours"`
	GroundHours  string `json:"prepaid_ground_hours"`
	Currency     string `json:"currency"`
}

type NotificationMessage struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Message  string  `json:"message"`
	Category string  `json:"category"`
	Link     *string `json:"link,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// Connected reports how many sockets a user has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	h.send(userID, envelope{Type: MessageBalance, Data: update})
}

func (h *Hub) BroadcastNotification(userID string, message NotificationMessage) {
	h.send(userID, envelope{Type: MessageNotification, Data: message})
}

// send drops the message for clients whose buffer is full.
func (h *Hub) send(userID string, msg envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
