package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), NewMetrics())
}

func newTestClient(id string) *Client {
	return &Client{ID: id, send: make(chan []byte, 64), done: make(chan struct{})}
}

// drain returns every envelope queued for c so far
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []Envelope) []string {
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.Type
	}
	return out
}

func create(id, pin, name string) (Kind, Control) {
	return KindCreate, Control{RoomID: id, Pin: pin, Name: name}
}

func join(id, pin, name string) (Kind, Control) {
	return KindJoin, Control{RoomID: id, Pin: pin, Name: name}
}

func TestAdmitCreateAndJoin(t *testing.T) {
	g := newTestRegistry()
	alice := newTestClient("alice")
	bob := newTestClient("bob")

	kind, ctl := create("R1", "123456", "Alice")
	room, err := g.Admit(alice, kind, ctl)
	require.NoError(t, err)
	assert.Equal(t, "R1", room.ID())
	assert.Equal(t, "R1", alice.RoomID())
	assert.Equal(t, []Envelope{{Type: TypeCreated, RoomID: "R1"}}, drain(t, alice))

	kind, ctl = join("R1", "123456", "Bob")
	_, err = g.Admit(bob, kind, ctl)
	require.NoError(t, err)
	assert.Equal(t, []Envelope{{Type: TypeJoined, RoomID: "R1"}}, drain(t, bob))
	assert.Equal(t, []Envelope{{Type: TypePeerJoin, Name: "Bob"}}, drain(t, alice))

	assert.Equal(t, 2, room.Len())
	assert.Equal(t, []string{"R1"}, g.ListIDs())
	assert.Equal(t, []string{"Alice", "Bob"}, room.Info().Members)
}

func TestAdmitDefaultNames(t *testing.T) {
	g := newTestRegistry()
	host := newTestClient("h")
	guest := newTestClient("g")

	kind, ctl := create("R1", "1", "")
	_, err := g.Admit(host, kind, ctl)
	require.NoError(t, err)
	kind, ctl = join("R1", "1", "")
	_, err = g.Admit(guest, kind, ctl)
	require.NoError(t, err)

	assert.Equal(t, "host", host.Name())
	assert.Equal(t, "guest", guest.Name())
	assert.Equal(t, []Envelope{{Type: TypeCreated, RoomID: "R1"}, {Type: TypePeerJoin, Name: "guest"}}, drain(t, host))
}

func TestAdmitErrors(t *testing.T) {
	g := newTestRegistry()
	owner := newTestClient("owner")
	kind, ctl := create("R1", "123456", "Alice")
	_, err := g.Admit(owner, kind, ctl)
	require.NoError(t, err)
	drain(t, owner)

	tests := []struct {
		name string
		kind Kind
		ctl  Control
		is   error
		text string
	}{
		{"create without room", KindCreate, Control{Pin: "1"}, ErrMissingField, "roomId and pin required"},
		{"create without pin", KindCreate, Control{RoomID: "R2"}, ErrMissingField, "roomId and pin required"},
		{"create with other pin", KindCreate, Control{RoomID: "R1", Pin: "000000"}, ErrPinMismatch, "PIN mismatch for existing room"},
		{"join with wrong pin", KindJoin, Control{RoomID: "R1", Pin: "000000"}, ErrPinMismatch, "Wrong PIN"},
		{"join unknown room", KindJoin, Control{RoomID: "NOPE", Pin: "1"}, ErrRoomNotFound, "Room not found"},
		{"join without room", KindJoin, Control{Pin: "1"}, ErrRoomNotFound, "Room not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(tt.name)
			room, err := g.Admit(c, tt.kind, tt.ctl)
			require.Error(t, err)
			assert.Nil(t, room)
			assert.ErrorIs(t, err, tt.is)
			assert.Equal(t, tt.text, err.Error())
			assert.Empty(t, c.RoomID())
			assert.Empty(t, drain(t, c))
		})
	}

	// Nothing leaked into the registry or the existing room.
	assert.Equal(t, []string{"R1"}, g.ListIDs())
	assert.Equal(t, 1, g.Lookup("R1").Len())
	assert.Empty(t, drain(t, owner))
}

func TestRoomIDsAreCaseSensitive(t *testing.T) {
	g := newTestRegistry()
	kind, ctl := create("movie", "1", "")
	_, err := g.Admit(newTestClient("a"), kind, ctl)
	require.NoError(t, err)

	kind, ctl = join("MOVIE", "1", "")
	_, err = g.Admit(newTestClient("b"), kind, ctl)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCreateExistingRoomWithSamePinJoins(t *testing.T) {
	g := newTestRegistry()
	first := newTestClient("first")
	second := newTestClient("second")

	kind, ctl := create("R1", "42", "One")
	_, err := g.Admit(first, kind, ctl)
	require.NoError(t, err)
	kind, ctl = create("R1", "42", "Two")
	_, err = g.Admit(second, kind, ctl)
	require.NoError(t, err)

	assert.Equal(t, []string{TypeCreated}, types(drain(t, second)))
	assert.Equal(t, []string{TypeCreated, TypePeerJoin}, types(drain(t, first)))
	assert.Equal(t, 1, g.Len())
}

func TestLeave(t *testing.T) {
	g := newTestRegistry()
	alice := newTestClient("alice")
	bob := newTestClient("bob")
	kind, ctl := create("R1", "1", "Alice")
	_, err := g.Admit(alice, kind, ctl)
	require.NoError(t, err)
	kind, ctl = join("R1", "1", "Bob")
	_, err = g.Admit(bob, kind, ctl)
	require.NoError(t, err)
	drain(t, alice)
	drain(t, bob)

	g.Leave(bob)
	assert.Empty(t, bob.RoomID())
	assert.Equal(t, []Envelope{{Type: TypePeerLeave, Name: "Bob"}}, drain(t, alice))
	assert.Empty(t, drain(t, bob))
	assert.Equal(t, 1, g.Len())

	// Second leave for the same client is a no-op.
	g.Leave(bob)
	assert.Empty(t, drain(t, alice))

	room := g.Lookup("R1")
	g.Leave(alice)
	assert.Equal(t, 0, g.Len())
	assert.Nil(t, g.Lookup("R1"))
	assert.Equal(t, 0, room.Len())

	// A later create starts fresh with its own PIN.
	carol := newTestClient("carol")
	kind, ctl = create("R1", "2", "Carol")
	fresh, err := g.Admit(carol, kind, ctl)
	require.NoError(t, err)
	assert.NotSame(t, room, fresh)
}

func TestLeaveWithoutRoom(t *testing.T) {
	g := newTestRegistry()
	g.Leave(newTestClient("x"))
	assert.Equal(t, 0, g.Len())
}

func TestRemove(t *testing.T) {
	g := newTestRegistry()
	c := newTestClient("c")
	kind, ctl := create("R1", "1", "")
	room, err := g.Admit(c, kind, ctl)
	require.NoError(t, err)

	assert.False(t, g.Remove("R1"), "occupied rooms stay")
	assert.False(t, g.Remove("missing"))

	room.mu.Lock()
	delete(room.members, c)
	room.mu.Unlock()
	assert.True(t, g.Remove("R1"))
	assert.Nil(t, g.Lookup("R1"))
	assert.True(t, room.closed)
	assert.False(t, g.Remove("R1"))
}

func TestAdmitRetriesClosedRoom(t *testing.T) {
	g := newTestRegistry()
	c := newTestClient("c")
	kind, ctl := create("R1", "1", "")
	stale, err := g.Admit(c, kind, ctl)
	require.NoError(t, err)

	// Simulate a leave that closed the room but has not yet dropped it.
	stale.mu.Lock()
	delete(stale.members, c)
	stale.closed = true
	stale.mu.Unlock()

	joiner := newTestClient("j")
	kind, ctl = join("R1", "1", "")
	_, err = g.Admit(joiner, kind, ctl)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Nil(t, g.Lookup("R1"))

	creator := newTestClient("k")
	kind, ctl = create("R1", "9", "")
	room, err := g.Admit(creator, kind, ctl)
	require.NoError(t, err)
	assert.NotSame(t, stale, room)
	assert.Equal(t, 1, room.Len())
}

func TestBroadcast(t *testing.T) {
	g := newTestRegistry()
	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newTestClient(fmt.Sprint(i))
		kind, ctl := create("R1", "1", fmt.Sprint(i))
		_, err := g.Admit(clients[i], kind, ctl)
		require.NoError(t, err)
	}
	for _, c := range clients {
		drain(t, c)
	}

	payload := []byte(`{"type":"play","time":12.5}`)
	g.Broadcast("R1", clients[0], payload, false)
	assert.Empty(t, clients[0].send)
	for _, c := range clients[1:] {
		assert.Equal(t, payload, <-c.send)
	}

	g.Broadcast("R1", clients[0], payload, true)
	for _, c := range clients {
		assert.Equal(t, payload, <-c.send)
	}

	// Unknown rooms are ignored.
	g.Broadcast("R2", clients[0], payload, true)
	assert.Empty(t, clients[0].send)
}

func TestBroadcastSkipsUnreachableMembers(t *testing.T) {
	g := newTestRegistry()
	sender := newTestClient("sender")
	full := &Client{ID: "full", send: make(chan []byte), done: make(chan struct{})}
	gone := newTestClient("gone")
	ok := newTestClient("ok")

	for _, c := range []*Client{sender, full, gone, ok} {
		kind, ctl := create("R1", "1", c.ID)
		_, err := g.Admit(c, kind, ctl)
		require.NoError(t, err)
		drain(t, c)
	}
	close(gone.done)

	payload := []byte(`{"type":"chat","message":"hi"}`)
	g.Broadcast("R1", sender, payload, false)

	assert.Equal(t, payload, <-ok.send)
	assert.Empty(t, gone.send)
}

func TestPeerEventsOnlyReachPresentMembers(t *testing.T) {
	g := newTestRegistry()
	a := newTestClient("a")
	b := newTestClient("b")
	kind, ctl := create("R1", "1", "A")
	_, err := g.Admit(a, kind, ctl)
	require.NoError(t, err)
	kind, ctl = join("R1", "1", "B")
	_, err = g.Admit(b, kind, ctl)
	require.NoError(t, err)
	g.Leave(b)

	late := newTestClient("late")
	kind, ctl = join("R1", "1", "Late")
	_, err = g.Admit(late, kind, ctl)
	require.NoError(t, err)

	assert.Equal(t, []string{TypeJoined}, types(drain(t, late)))
	assert.Equal(t, []string{TypeCreated, TypePeerJoin, TypePeerLeave, TypePeerJoin}, types(drain(t, a)))
}

func TestConcurrentCreateSinglePinWins(t *testing.T) {
	g := newTestRegistry()
	const n = 32

	var wg sync.WaitGroup
	results := make([]error, n)
	clients := make([]*Client, n)
	for i := range n {
		clients[i] = newTestClient(fmt.Sprint(i))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = g.Admit(clients[i], KindCreate, Control{RoomID: "race", Pin: fmt.Sprint(i % 4)})
		}(i)
	}
	wg.Wait()

	room := g.Lookup("race")
	require.NotNil(t, room)
	admitted := 0
	for i, err := range results {
		if err == nil {
			admitted++
			assert.Equal(t, room.pin, fmt.Sprint(i%4))
		} else {
			assert.ErrorIs(t, err, ErrPinMismatch)
		}
	}
	assert.Equal(t, n/4, admitted)
	assert.Equal(t, admitted, room.Len())
}

func TestConcurrentJoinLeaveLeavesNoEmptyRooms(t *testing.T) {
	g := newTestRegistry()
	const workers = 16
	const rounds = 50

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := range rounds {
				c := newTestClient(fmt.Sprintf("%d-%d", w, r))
				id := fmt.Sprintf("room-%d", r%3)
				if _, err := g.Admit(c, KindCreate, Control{RoomID: id, Pin: "1"}); err != nil {
					t.Errorf("admit %s: %v", id, err)
					return
				}
				g.Broadcast(id, c, []byte(`{"type":"chat"}`), false)
				g.Leave(c)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 0, g.Len())
	assert.Empty(t, g.Snapshot())
}

func TestReadersNeverSeeEmptyRooms(t *testing.T) {
	g := newTestRegistry()
	const workers = 8
	const rounds = 200

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, info := range g.Snapshot() {
				if len(info.Members) == 0 {
					t.Errorf("room %s listed with no members", info.ID)
					return
				}
			}
			g.mu.Lock()
			for id, room := range g.rooms {
				room.mu.Lock()
				if room.closed || len(room.members) == 0 {
					t.Errorf("room %s mapped while empty", id)
				}
				room.mu.Unlock()
			}
			g.mu.Unlock()
		}
	}()

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := range rounds {
				c := newTestClient(fmt.Sprintf("%d-%d", w, r))
				if _, err := g.Admit(c, KindCreate, Control{RoomID: "shared", Pin: "1"}); err != nil {
					t.Errorf("admit: %v", err)
					return
				}
				g.Leave(c)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, 0, g.Len())
}
