package server

import (
	"context"
	"sync"
)

// PresenceHook is told when a user gains (+1) or loses (-1) a live
// connection in a room.
type PresenceHook func(roomCode, userId string, delta int)

// Presence answers whether a user still has a live connection in a room.
type Presence interface {
	Connected(ctx context.Context, roomCode, userId string) (bool, error)
}

type registryEntry struct {
	client   *Client
	roomCode string
}

// Registry maps live connections to the room they joined. A connection is in
// at most one room at a time.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*registryEntry
	rooms   map[string]map[string]*Client
	hook    PresenceHook
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*registryEntry),
		rooms:   make(map[string]map[string]*Client),
	}
}

// SetPresenceHook installs h. It must be called before connections are added.
func (r *Registry) SetPresenceHook(h PresenceHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = h
}

func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.id]; !ok {
		r.clients[c.id] = &registryEntry{client: c}
	}
}

// Remove forgets c and returns the room it was in, if any.
func (r *Registry) Remove(c *Client) string {
	r.mu.Lock()
	e, ok := r.clients[c.id]
	if !ok {
		r.mu.Unlock()
		return ""
	}
	delete(r.clients, c.id)
	roomCode := r.detach(e)
	hook := r.hook
	r.mu.Unlock()

	if roomCode != "" && hook != nil {
		hook(roomCode, c.user.UserId, -1)
	}
	return roomCode
}

// Join places c in roomCode and returns the room it was in before, if any.
// It fails for a connection that was already removed so a closed socket is
// never subscribed again.
func (r *Registry) Join(c *Client, roomCode string) (string, bool) {
	r.mu.Lock()
	e, ok := r.clients[c.id]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	if e.roomCode == roomCode {
		r.mu.Unlock()
		return roomCode, true
	}

	prev := r.detach(e)
	e.roomCode = roomCode
	if r.rooms[roomCode] == nil {
		r.rooms[roomCode] = make(map[string]*Client)
	}
	r.rooms[roomCode][c.id] = c
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		if prev != "" {
			hook(prev, c.user.UserId, -1)
		}
		hook(roomCode, c.user.UserId, 1)
	}
	return prev, true
}

// Leave takes c out of its room and returns that room.
func (r *Registry) Leave(c *Client) string {
	r.mu.Lock()
	e, ok := r.clients[c.id]
	if !ok {
		r.mu.Unlock()
		return ""
	}
	roomCode := r.detach(e)
	hook := r.hook
	r.mu.Unlock()

	if roomCode != "" && hook != nil {
		hook(roomCode, c.user.UserId, -1)
	}
	return roomCode
}

// detach must be called with the write lock held.
func (r *Registry) detach(e *registryEntry) string {
	roomCode := e.roomCode
	if roomCode == "" {
		return ""
	}

	e.roomCode = ""
	if conns, ok := r.rooms[roomCode]; ok {
		delete(conns, e.client.id)
		if len(conns) == 0 {
			delete(r.rooms, roomCode)
		}
	}
	return roomCode
}

func (r *Registry) RoomConnections(roomCode string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Client, 0, len(r.rooms[roomCode]))
	for _, c := range r.rooms[roomCode] {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) UserConnections(roomCode, userId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Client
	for _, c := range r.rooms[roomCode] {
		if c.user.UserId == userId {
			conns = append(conns, c)
		}
	}
	return conns
}

// Connected implements Presence for this process.
func (r *Registry) Connected(_ context.Context, roomCode, userId string) (bool, error) {
	return len(r.UserConnections(roomCode, userId)) > 0, nil
}
