package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry maps room ids to live rooms.
//
// Lock order: registry before room. Nothing takes the registry lock while
// holding a room lock. When the last member leaves, the room is marked closed
// and dropped from the map under both locks, so readers never see an empty
// room. An admission still holding the stale pointer sees the flag and
// retries against a fresh room.
type Registry struct {
	rooms   map[string]*Room
	mu      sync.Mutex
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Lookup returns the room for id, or nil.
func (g *Registry) Lookup(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[id]
}

// ListIDs returns the ids of all live rooms, sorted.
func (g *Registry) ListIDs() []string {
	g.mu.Lock()
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Snapshot returns info for every live room, ordered by id.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.Lock()
	infos := make([]RoomInfo, 0, len(g.rooms))
	for _, room := range g.rooms {
		infos = append(infos, room.Info())
	}
	g.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Remove deletes the room with id if it has no members. It reports whether
// an entry was deleted. Occupied rooms are left alone.
func (g *Registry) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[id]
	if room == nil {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.members) > 0 {
		return false
	}
	g.dropLocked(room)
	return true
}

// dropLocked marks room closed and deletes its entry. The caller holds both
// the registry lock and the room lock.
func (g *Registry) dropLocked(room *Room) {
	room.closed = true
	if g.rooms[room.id] == room {
		delete(g.rooms, room.id)
		g.metrics.roomClosed()
	}
}

// forget drops room from the map if it is still the entry for its id.
func (g *Registry) forget(room *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room.id] != room {
		return false
	}
	delete(g.rooms, room.id)
	g.metrics.roomClosed()
	return true
}

// ensure returns the room for id. When the id is unknown and create is
// set, a new room is built with c already inside and its created reply
// queued, so an empty room is never visible in the map and c hears about its
// room before any other traffic.
func (g *Registry) ensure(id, pin, name string, create bool, c *Client) (room *Room, created bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room := g.rooms[id]; room != nil {
		return room, false
	}
	if !create {
		return nil, false
	}

	room = newRoom(id, pin, g.now())
	c.roomID = id
	c.name = name
	room.members[c] = true
	c.enqueue(encode(Envelope{Type: TypeCreated, RoomID: id}))
	g.rooms[id] = room
	g.metrics.roomOpened()
	return room, true
}

// Admit places c into the room named by ctl. Create makes the room when it
// does not exist; join requires it. The PIN check, the membership insert,
// the reply to c and the peer-join announcement happen under the room lock,
// so c never sees room traffic before its own confirmation.
func (g *Registry) Admit(c *Client, kind Kind, ctl Control) (*Room, error) {
	name := ctl.Name
	reply := TypeJoined
	if kind == KindCreate {
		if ctl.RoomID == "" || ctl.Pin == "" {
			return nil, errMissingRoomOrPin
		}
		reply = TypeCreated
		if name == "" {
			name = "host"
		}
	} else if name == "" {
		name = "guest"
	}

	for {
		room, created := g.ensure(ctl.RoomID, ctl.Pin, name, kind == KindCreate, c)
		if room == nil {
			return nil, errRoomNotFound
		}
		if created {
			g.logger.Info("relay.room.created", "room", room.id, "name", name)
			return room, nil
		}

		room.mu.Lock()
		if room.closed {
			// Lost a race with the last member leaving.
			room.mu.Unlock()
			g.forget(room)
			continue
		}
		if room.pin != ctl.Pin {
			room.lastActive = g.now()
			room.mu.Unlock()
			if kind == KindCreate {
				return nil, errCreatePinMismatch
			}
			return nil, errJoinWrongPin
		}

		c.roomID = room.id
		c.name = name
		room.members[c] = true
		room.lastActive = g.now()
		c.enqueue(encode(Envelope{Type: reply, RoomID: room.id}))
		sent, dropped := room.broadcastLocked(c, encode(Envelope{Type: TypePeerJoin, Name: name}), false)
		members := len(room.members)
		room.mu.Unlock()

		g.metrics.broadcast(sent, dropped)
		g.logger.Info("relay.client.admitted", "room", room.id, "name", name, "kind", reply, "members", members)
		return room, nil
	}
}

// Leave removes c from its room, announces peer-leave to the members still
// present and deletes the room when c was the last member. Calling Leave for
// a client that is not in a room is a no-op.
func (g *Registry) Leave(c *Client) {
	if c.roomID == "" {
		return
	}

	g.mu.Lock()
	room := g.rooms[c.roomID]
	c.roomID = ""
	if room == nil {
		g.mu.Unlock()
		return
	}

	room.mu.Lock()
	if !room.members[c] {
		room.mu.Unlock()
		g.mu.Unlock()
		return
	}
	delete(room.members, c)
	room.lastActive = g.now()
	sent, dropped := room.broadcastLocked(c, encode(Envelope{Type: TypePeerLeave, Name: c.name}), false)
	empty := len(room.members) == 0
	if empty {
		g.dropLocked(room)
	}
	room.mu.Unlock()
	g.mu.Unlock()

	g.metrics.broadcast(sent, dropped)
	g.logger.Info("relay.client.left", "room", room.id, "name", c.name)
	if empty {
		g.logger.Info("relay.room.deleted", "room", room.id)
	}
}

// Broadcast sends data to the members of roomID. The sender is skipped
// unless includeSender is set. Failed sends are counted, never returned.
func (g *Registry) Broadcast(roomID string, from *Client, data []byte, includeSender bool) {
	room := g.Lookup(roomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return
	}
	room.lastActive = g.now()
	sent, dropped := room.broadcastLocked(from, data, includeSender)
	room.mu.Unlock()

	g.metrics.broadcast(sent, dropped)
	g.metrics.relayed()
}
