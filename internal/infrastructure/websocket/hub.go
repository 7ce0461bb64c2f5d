package websocket

import (
	"log/slog"
	"sync"
)

// Broadcaster interface for broadcasting events to WebSocket clients.
// This interface enables future Redis adapter implementation for horizontal scaling.
type Broadcaster interface {
	Broadcast(userID, planID, flowID string, event *WSEvent)
}

// broadcastMsg represents a message to be broadcast to clients
type broadcastMsg struct {
	userID string
	planID string
	flowID string
	event  *WSEvent
}

// Hub manages WebSocket connections and broadcasting flow events to
// clients. It implements the Broadcaster interface.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting events
	broadcast chan *broadcastMsg

	// Subscription indexes for fast lookup
	byUserID map[string]map[*Client]bool
	byPlanID map[string]map[*Client]bool
	byFlowID map[string]map[*Client]bool

	logger *slog.Logger
	mu     sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		byUserID:   make(map[string]map[*Client]bool),
		byPlanID:   make(map[string]map[*Client]bool),
		byFlowID:   make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastEvent(msg)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	// Index by user ID
	if client.userID != "" {
		if h.byUserID[client.userID] == nil {
			h.byUserID[client.userID] = make(map[*Client]bool)
		}
		h.byUserID[client.userID][client] = true
	}

	h.logger.Debug("client registered",
		"client_id", client.id,
		"user_id", client.userID,
		"total_clients", len(h.clients))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)

	// Remove from user index
	if client.userID != "" {
		if clients, ok := h.byUserID[client.userID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byUserID, client.userID)
			}
		}
	}

	// Remove from subscription indexes
	client.subs.mu.RLock()
	for planID := range client.subs.plans {
		if clients, ok := h.byPlanID[planID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byPlanID, planID)
			}
		}
	}
	for flowID := range client.subs.flows {
		if clients, ok := h.byFlowID[flowID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byFlowID, flowID)
			}
		}
	}
	client.subs.mu.RUnlock()

	h.logger.Debug("client unregistered",
		"client_id", client.id,
		"user_id", client.userID,
		"total_clients", len(h.clients))
}

// Broadcast sends an event to relevant clients.
// Implements the Broadcaster interface.
func (h *Hub) Broadcast(userID, planID, flowID string, event *WSEvent) {
	h.broadcast <- &broadcastMsg{
		userID: userID,
		planID: planID,
		flowID: flowID,
		event:  event,
	}
}

// broadcastEvent sends an event to all matching clients
func (h *Hub) broadcastEvent(msg *broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Collect target clients
	targets := make(map[*Client]bool)

	// If userID is specified, only send to that user's clients
	if msg.userID != "" {
		if clients, ok := h.byUserID[msg.userID]; ok {
			for client := range clients {
				if client.shouldReceive(msg.planID, msg.flowID) {
					targets[client] = true
				}
			}
		}
	} else {
		// Send to all clients that match the subscription
		// First check flow subscriptions (most specific)
		if msg.flowID != "" {
			if clients, ok := h.byFlowID[msg.flowID]; ok {
				for client := range clients {
					targets[client] = true
				}
			}
		}

		// Then check plan subscriptions
		if msg.planID != "" {
			if clients, ok := h.byPlanID[msg.planID]; ok {
				for client := range clients {
					targets[client] = true
				}
			}
		}
	}

	// Send to all target clients
	for client := range targets {
		select {
		case client.send <- msg.event:
		default:
			// Client send buffer full, skip this message
			h.logger.Warn("client buffer full, dropping message",
				"client_id", client.id,
				"event_type", msg.event.Type)
		}
	}
}

// Subscribe adds a subscription for a client
func (h *Hub) Subscribe(client *Client, planID, flowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	if planID != "" {
		client.subs.plans[planID] = true
		if h.byPlanID[planID] == nil {
			h.byPlanID[planID] = make(map[*Client]bool)
		}
		h.byPlanID[planID][client] = true

		h.logger.Debug("client subscribed to plan",
			"client_id", client.id,
			"plan_id", planID)
	}

	if flowID != "" {
		client.subs.flows[flowID] = true
		if h.byFlowID[flowID] == nil {
			h.byFlowID[flowID] = make(map[*Client]bool)
		}
		h.byFlowID[flowID][client] = true

		h.logger.Debug("client subscribed to flow",
			"client_id", client.id,
			"flow_id", flowID)
	}
}

// Unsubscribe removes a subscription for a client
func (h *Hub) Unsubscribe(client *Client, planID, flowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.subs.mu.Lock()
	defer client.subs.mu.Unlock()

	if planID != "" {
		delete(client.subs.plans, planID)
		if clients, ok := h.byPlanID[planID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byPlanID, planID)
			}
		}

		h.logger.Debug("client unsubscribed from plan",
			"client_id", client.id,
			"plan_id", planID)
	}

	if flowID != "" {
		delete(client.subs.flows, flowID)
		if clients, ok := h.byFlowID[flowID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.byFlowID, flowID)
			}
		}

		h.logger.Debug("client unsubscribed from flow",
			"client_id", client.id,
			"flow_id", flowID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
