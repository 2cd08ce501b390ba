package server

import "sync"

// Registry tracks which live connections are subscribed to which rooms,
// keyed by room external id. It is process-local and never persisted:
// clients rebuild it by resubscribing after a restart.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	conns map[*Client]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Client]struct{}),
		conns: make(map[*Client]map[string]struct{}),
	}
}

// Subscribe adds the connection to the room's subscriber set. Subscribing
// twice to the same room is a no-op. Returns false when the subscription
// already existed.
func (reg *Registry) Subscribe(roomId string, c *Client) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[roomId][c]; ok {
		return false
	}

	if reg.rooms[roomId] == nil {
		reg.rooms[roomId] = make(map[*Client]struct{})
	}
	reg.rooms[roomId][c] = struct{}{}

	if reg.conns[c] == nil {
		reg.conns[c] = make(map[string]struct{})
	}
	reg.conns[c][roomId] = struct{}{}

	return true
}

func (reg *Registry) Unsubscribe(roomId string, c *Client) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[roomId][c]; !ok {
		return false
	}

	reg.deleteLocked(roomId, c)
	return true
}

// UnsubscribeAll drops every subscription held by the connection and
// returns how many were dropped. Called when a connection closes.
func (reg *Registry) UnsubscribeAll(c *Client) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var n int
	for roomId := range reg.conns[c] {
		reg.deleteLocked(roomId, c)
		n++
	}

	return n
}

func (reg *Registry) deleteLocked(roomId string, c *Client) {
	delete(reg.rooms[roomId], c)
	if len(reg.rooms[roomId]) == 0 {
		delete(reg.rooms, roomId)
	}

	delete(reg.conns[c], roomId)
	if len(reg.conns[c]) == 0 {
		delete(reg.conns, c)
	}
}

// Subscribers returns a snapshot of the room's current subscribers, so
// fan-out never holds the registry lock across channel sends.
func (reg *Registry) Subscribers(roomId string) []*Client {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	clients := make([]*Client, 0, len(reg.rooms[roomId]))
	for c := range reg.rooms[roomId] {
		clients = append(clients, c)
	}

	return clients
}

func (reg *Registry) Subscribed(roomId string, c *Client) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	_, ok := reg.rooms[roomId][c]
	return ok
}
