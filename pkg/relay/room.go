package relay

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// Room holds the connected members of one watch session.
type Room struct {
	id         string
	pin        string // fixed at creation
	members    map[*Client]bool
	createdAt  time.Time
	lastActive time.Time
	closed     bool // set once the last member left; never reopened
	mu         sync.Mutex
}

// RoomInfo is a point-in-time copy of a room for listings and dashboards.
type RoomInfo struct {
	ID         string
	Members    []string
	CreatedAt  time.Time
	LastActive time.Time
}

func newRoom(id, pin string, now time.Time) *Room {
	return &Room{
		id:         id,
		pin:        pin,
		members:    make(map[*Client]bool),
		createdAt:  now,
		lastActive: now,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Info returns a snapshot of the room. Member names are sorted.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.members))
	for c := range r.members {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return RoomInfo{
		ID:         r.id,
		Members:    names,
		CreatedAt:  r.createdAt,
		LastActive: r.lastActive,
	}
}

// broadcastLocked queues data for every member except from (unless
// includeSender). Caller holds r.mu. Returns delivered and dropped counts.
func (r *Room) broadcastLocked(from *Client, data []byte, includeSender bool) (sent, dropped int) {
	for member := range r.members {
		if member == from && !includeSender {
			continue
		}
		if member.enqueue(data) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}

// Room code helpers

var adjectives = []string{
	"QUICK", "LAZY", "HAPPY", "CALM", "BRAVE",
	"BRIGHT", "COOL", "DARK", "EAGER", "FAIR",
	"GENTLE", "GRAND", "GREAT", "GREEN", "BLUE",
	"RED", "GOLD", "SILVER", "WARM", "WILD",
	"BOLD", "CLEAN", "CLEAR", "CRISP", "DEEP",
	"FAST", "FINE", "FRESH", "GOOD", "HIGH",
	"KIND", "LIGHT", "LOUD", "MILD", "NEAT",
	"NICE", "PLAIN", "PROUD", "PURE", "RICH",
}

var nouns = []string{
	"FROG", "TIGER", "RIVER", "CLOUD", "STONE",
	"LEAF", "BIRD", "FISH", "WOLF", "BEAR",
	"HAWK", "DEER", "LION", "EAGLE", "WHALE",
	"PANDA", "KOALA", "OTTER", "SNAKE", "SHARK",
	"TREE", "LAKE", "MOON", "STAR", "WAVE",
	"POPCORN", "REEL", "SCREEN", "SOFA", "TICKET",
}

// GenerateRoomCode creates a memorable room id in ADJECTIVE-NOUN-NN format
func GenerateRoomCode() string {
	adj := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	return fmt.Sprintf("%s-%s-%02d", adj, noun, rand.IntN(100))
}

// GeneratePIN creates a six digit PIN, zero padded
func GeneratePIN() string {
	return fmt.Sprintf("%06d", rand.IntN(1_000_000))
}
