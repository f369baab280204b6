package chathub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strangerchat/backend/internal/metrics"
	"strangerchat/backend/internal/models"

	"github.com/rs/zerolog/log"
)

// Hub is the in-process registry of attached connections and of the room
// channels they joined. It implements Transport for a single instance.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn
	rooms map[string]map[string]struct{} // room id -> connection ids
	joins map[string]map[string]struct{} // connection id -> room ids
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]Conn),
		rooms: make(map[string]map[string]struct{}),
		joins: make(map[string]map[string]struct{}),
	}
}

// Attach makes c addressable by its handle.
func (h *Hub) Attach(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

// Detach forgets the connection and drops it from every room channel.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}
	delete(h.conns, connID)
	for roomID := range h.joins[connID] {
		h.removeMember(roomID, connID)
	}
	delete(h.joins, connID)
	metrics.ConnectionsActive.Dec()
}

// CloseAll closes every attached connection and waits until each one has
// run its cleanup and detached, or until ctx is done.
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		h.mu.RLock()
		left := len(h.conns)
		h.mu.RUnlock()
		if left == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d connections still attached: %w", left, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Conn returns the attached connection with the given handle.
func (h *Hub) Conn(connID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// Members returns the handles joined to the room channel.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) Join(_ context.Context, connID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return ErrUndeliverable
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]struct{})
	}
	h.rooms[roomID][connID] = struct{}{}
	if h.joins[connID] == nil {
		h.joins[connID] = make(map[string]struct{})
	}
	h.joins[connID][roomID] = struct{}{}
	return nil
}

func (h *Hub) Leave(_ context.Context, connID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMember(roomID, connID)
	if rooms := h.joins[connID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.joins, connID)
		}
	}
	return nil
}

// removeMember must be called with mu held.
func (h *Hub) removeMember(roomID, connID string) {
	members := h.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) Notify(_ context.Context, connID string, ev models.Event) error {
	c, ok := h.Conn(connID)
	if !ok {
		return ErrUndeliverable
	}
	return c.Deliver(ev)
}

// Broadcast delivers ev to every connection joined to the room. A slow or
// broken member does not stop delivery to the others.
func (h *Hub) Broadcast(_ context.Context, roomID string, ev models.Event) error {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.Deliver(ev); err != nil {
			log.Warn().Err(err).Str("conn", c.ID()).Str("room", roomID).Str("event", ev.Name).Msg("broadcast delivery failed")
		}
	}
	return nil
}
