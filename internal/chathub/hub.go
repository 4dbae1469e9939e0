package chathub

import (
	"context"
	"sync"

	"moodpair/backend/internal/models"

	"github.com/sirupsen/logrus"
)

// Hub is the registry of live clients on this instance, keyed by user ID.
// A user may hold several connections at once.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Client]struct{}
	log     logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[string]map[Client]struct{}),
		log:     log,
	}
}

// Register adds c to the registry.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.GetUserID()]
	if !ok {
		set = make(map[Client]struct{})
		h.clients[c.GetUserID()] = set
	}
	set[c] = struct{}{}
	h.log.WithField("user_id", c.GetUserID()).Debug("Client registered")
}

// Unregister removes c and closes it. Unknown clients are ignored.
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	removed := h.remove(c)
	h.mu.Unlock()

	if removed {
		c.Close()
		h.log.WithField("user_id", c.GetUserID()).Debug("Client unregistered")
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c Client) bool {
	set, ok := h.clients[c.GetUserID()]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.GetUserID())
	}
	return true
}

// Online reports how many connections userID holds on this instance.
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Deliver hands ev to every local client of its recipients and returns the
// number of clients reached. A client whose buffer is full is dropped rather
// than allowed to stall everyone else.
func (h *Hub) Deliver(ev models.ChatEvent) int {
	var dropped []Client
	delivered := 0

	h.mu.Lock()
	for _, userID := range ev.Recipients {
		for c := range h.clients[userID] {
			switch ev.Type {
			case models.EventMatchFound:
				c.SetSessionID(ev.SessionID)
			case models.EventSessionEnded:
				if c.GetSessionID() == ev.SessionID {
					c.SetSessionID("")
				}
			}

			select {
			case c.GetSendChannel() <- ev:
				delivered++
			default:
				h.remove(c)
				dropped = append(dropped, c)
			}
		}
	}
	h.mu.Unlock()

	for _, c := range dropped {
		h.log.WithField("user_id", c.GetUserID()).Warn("Dropping slow client")
		c.Close()
	}
	return delivered
}

// Run delivers events from a cross-instance subscription until ctx is done
// or events is closed.
func (h *Hub) Run(ctx context.Context, events <-chan models.ChatEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Deliver(ev)
		}
	}
}

// Shutdown closes every client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

// LocalBroadcaster delivers events straight to the hub of this process.
type LocalBroadcaster struct {
	hub *Hub
}

func NewLocalBroadcaster(h *Hub) *LocalBroadcaster {
	return &LocalBroadcaster{hub: h}
}

func (b *LocalBroadcaster) Publish(_ context.Context, ev models.ChatEvent) error {
	b.hub.Deliver(ev)
	return nil
}
