// internal/websocket/hub.go
package websocket

import (
	"context"
	"fmt"
	"sync"

	wstypes "tariff-service/internal/domain/websocket"
	"tariff-service/internal/pkg/jwt"

	"go.uber.org/zap"
)

// TokenVerifier validates the access token presented on connect.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

// Route answers one inbound client event.
type Route func(ctx context.Context, client *Client, msg *wstypes.WSMessage) error

type Hub struct {
	// Registered clients by identity ID
	clients map[int64]map[*Client]bool
	mu      sync.RWMutex

	Register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	// routes is fixed before Run and read-only afterwards.
	routes   map[wstypes.EventType]Route
	verifier TokenVerifier
	logger   *zap.Logger
}

type BroadcastMessage struct {
	IdentityIDs []int64
	Channel     wstypes.ChannelType
	Message     *wstypes.WSMessage
}

func NewHub(verifier TokenVerifier, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		Register:   make(chan *Client),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan *BroadcastMessage, 256),
		routes:     make(map[wstypes.EventType]Route),
		verifier:   verifier,
		logger:     logger,
	}
}

// AuthenticateClient validates the JWT and extracts the client identity.
func (h *Hub) AuthenticateClient(token string) (*ClientAuth, error) {
	claims, err := h.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}
	if claims.IdentityID <= 0 {
		return nil, ErrInvalidToken
	}

	return &ClientAuth{
		IdentityID: claims.IdentityID,
		SessionID:  claims.ID,
		Roles:      claims.Roles,
	}, nil
}

// Handle binds an inbound event type to route. Call it before Run; the connection
// control events answered by the client itself cannot be rebound.
func (h *Hub) Handle(event wstypes.EventType, route Route) error {
	switch event {
	case wstypes.EventTypePing, wstypes.EventTypeSubscribe, wstypes.EventTypeUnsubscribe:
		return fmt.Errorf("websocket: %s is a control event", event)
	}
	if _, exists := h.routes[event]; exists {
		return fmt.Errorf("websocket: %s is already routed", event)
	}
	h.routes[event] = route
	h.logger.Debug("websocket route added", zap.String("event", string(event)))
	return nil
}

// HandleClientMessage runs the route bound to the message type; false means none is.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	route, exists := h.routes[msg.Type]
	if !exists {
		return false, nil
	}
	return true, route(ctx, client, msg)
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.BroadcastMessage(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.identityID] == nil {
		h.clients[client.identityID] = make(map[*Client]bool)
	}
	h.clients[client.identityID][client] = true

	h.logger.Info("websocket client connected",
		zap.Int64("identity_id", client.identityID),
		zap.Int("total", h.totalClients()),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"identity_id": client.identityID,
		"roles":       client.roles,
		"channels":    client.Channels(),
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.identityID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}

	delete(clients, client)
	client.Close()
	if len(clients) == 0 {
		delete(h.clients, client.identityID)
	}

	h.logger.Info("websocket client disconnected",
		zap.Int64("identity_id", client.identityID),
		zap.Int("total", h.totalClients()),
	)
}

func (h *Hub) BroadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(clients map[*Client]bool) {
		for client := range clients {
			if client.IsSubscribed(msg.Channel) {
				client.SendMessage(msg.Message)
			}
		}
	}

	if msg.IdentityIDs == nil {
		for _, clients := range h.clients {
			deliver(clients)
		}
		return
	}
	for _, identityID := range msg.IdentityIDs {
		deliver(h.clients[identityID])
	}
}

func (h *Hub) GetConnectedClients(identityID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identityID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

// ConnectedUsers is the number of identities with at least one connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsUserConnected checks if a user has any active connections
func (h *Hub) IsUserConnected(identityID int64) bool {
	return h.GetConnectedClients(identityID) > 0
}

// PushNotification queues a notification for every connection of the identity. It never
// blocks: when the broadcast queue is full the push is dropped and false is returned.
func (h *Hub) PushNotification(identityID int64, data *wstypes.NotificationData) bool {
	msg := &BroadcastMessage{
		IdentityIDs: []int64{identityID},
		Channel:     wstypes.ChannelNotifications,
		Message:     wstypes.NewMessage(wstypes.EventTypeNotification, data),
	}

	select {
	case h.broadcast <- msg:
		return true
	default:
		h.logger.Warn("websocket broadcast queue full, dropping push", zap.Int64("identity_id", identityID))
		return false
	}
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for identityID, clients := range h.clients {
		for client := range clients {
			client.SendMessage(wstypes.NewMessage(wstypes.EventTypeDisconnected, map[string]interface{}{
				"reason": "server shutting down",
			}))
			client.Close()
		}
		delete(h.clients, identityID)
	}
}
