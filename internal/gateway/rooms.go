// ABOUTME: Room registry mapping conversations to the live connections subscribed to them
// ABOUTME: Owned by the gateway; fan-out snapshots targets under a read lock and sends outside it

package gateway

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
)

var errRegistryClosed = errors.New("registry closed")

// Registry tracks live connections, the users they belong to, and the
// conversation rooms they are subscribed to.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Connection            // connID -> connection
	userConns map[string]map[string]*Connection // userID -> connID -> connection
	rooms     map[string]map[string]*Connection // conversationID -> connID -> connection
	connRooms map[string]map[string]struct{}    // connID -> conversation IDs
	closed    bool
	logger    *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:     make(map[string]*Connection),
		userConns: make(map[string]map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
		logger:    logger.With("component", "rooms"),
	}
}

// Attach registers a connection. Fails once the registry is closed.
func (r *Registry) Attach(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRegistryClosed
	}
	r.conns[c.ID] = c
	if r.userConns[c.UserID] == nil {
		r.userConns[c.UserID] = make(map[string]*Connection)
	}
	r.userConns[c.UserID][c.ID] = c
	r.connRooms[c.ID] = make(map[string]struct{})

	r.logger.Debug("connection attached", "conn_id", c.ID, "user_id", c.UserID)
	return nil
}

// Detach removes a connection from the registry and every room it joined
func (r *Registry) Detach(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID]; !ok {
		return
	}
	delete(r.conns, c.ID)

	if byUser := r.userConns[c.UserID]; byUser != nil {
		delete(byUser, c.ID)
		if len(byUser) == 0 {
			delete(r.userConns, c.UserID)
		}
	}

	for roomID := range r.connRooms[c.ID] {
		if room := r.rooms[roomID]; room != nil {
			delete(room, c.ID)
			if len(room) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	delete(r.connRooms, c.ID)

	r.logger.Debug("connection detached", "conn_id", c.ID, "user_id", c.UserID)
}

// Join subscribes an attached connection to a room. Returns false if the
// connection is not attached.
func (r *Registry) Join(roomID string, c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(roomID, c)
}

func (r *Registry) joinLocked(roomID string, c *Connection) bool {
	memberships, ok := r.connRooms[c.ID]
	if !ok {
		return false
	}
	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[roomID] = room
	}
	room[c.ID] = c
	memberships[roomID] = struct{}{}
	return true
}

// JoinUser subscribes every live connection of userID to a room and
// returns the connections that were newly joined.
func (r *Registry) JoinUser(userID, roomID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var joined []*Connection
	for _, c := range r.userConns[userID] {
		if _, already := r.connRooms[c.ID][roomID]; already {
			continue
		}
		if r.joinLocked(roomID, c) {
			joined = append(joined, c)
		}
	}
	return joined
}

// InRoom reports whether the connection is subscribed to the room
func (r *Registry) InRoom(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// Rooms returns the sorted room IDs a connection is subscribed to
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.connRooms[connID]))
	for id := range r.connRooms[connID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends payload to every connection in the room except
// excludeConnID (when non-empty). Returns the number of connections that
// accepted the frame.
func (r *Registry) Broadcast(roomID string, payload []byte, excludeConnID string) int {
	r.mu.RLock()
	room := r.rooms[roomID]
	targets := make([]*Connection, 0, len(room))
	for id, c := range room {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of attached connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close rejects new connections and closes every attached one with going-away
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Connection)
	r.userConns = make(map[string]map[string]*Connection)
	r.rooms = make(map[string]map[string]*Connection)
	r.connRooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	if len(conns) > 0 {
		r.logger.Info("closed live connections", "count", len(conns))
	}
}
