package p2p

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Hub fans gossip out to every joined member in process. It stands in for a
// peer-to-peer transport: delivery is synchronous, unordered across members
// and carries no acknowledgement beyond the handler's error.
type Hub struct {
	mu      sync.RWMutex
	members map[string]MessageHandler
	logger  *slog.Logger
	metrics *networkMetrics
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		members: make(map[string]MessageHandler),
		logger:  logger.With(slog.String("component", "p2p_hub")),
		metrics: newNetworkMetrics(),
	}
}

// Join registers handler under id and returns the Broadcaster that member
// uses to reach everyone else. Joining twice with the same id replaces the
// previous handler.
func (h *Hub) Join(id string, handler MessageHandler) (Broadcaster, error) {
	if id == "" {
		return nil, errors.New("p2p: member id required")
	}
	if handler == nil {
		return nil, errors.New("p2p: handler required")
	}
	h.mu.Lock()
	h.members[id] = handler
	h.mu.Unlock()
	return &member{hub: h, id: id}, nil
}

// Leave removes the member.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	delete(h.members, id)
	h.mu.Unlock()
}

// Size returns the number of joined members.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast delivers msg to every member.
func (h *Hub) Broadcast(msg *Message) error {
	return h.deliver("", msg)
}

func (h *Hub) deliver(origin string, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidPayload)
	}
	h.mu.RLock()
	targets := make(map[string]MessageHandler, len(h.members))
	for id, handler := range h.members {
		if id != origin {
			targets[id] = handler
		}
	}
	h.mu.RUnlock()

	h.metrics.recordGossip("out", msg.Type)
	var errs []error
	for id, handler := range targets {
		// Members receive independent payload copies.
		copyMsg := &Message{Type: msg.Type, Payload: append([]byte(nil), msg.Payload...)}
		h.metrics.recordGossip("in", msg.Type)
		if err := handler.HandleMessage(copyMsg); err != nil {
			h.logger.Debug("Gossip rejected",
				slog.String("member", id),
				slog.String("type", MessageTypeName(msg.Type)),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

type member struct {
	hub *Hub
	id  string
}

// Broadcast relays to every other member. Rejections by receivers are logged
// by the hub and not reported to the sender.
func (m *member) Broadcast(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidPayload)
	}
	_ = m.hub.deliver(m.id, msg)
	return nil
}
