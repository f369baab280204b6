package chathub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"strangerchat/backend/internal/chat"
	"strangerchat/backend/internal/chathub"
	"strangerchat/backend/internal/matchmaking"
	"strangerchat/backend/internal/models"
	"strangerchat/backend/internal/presence"
	"strangerchat/backend/internal/storage"
	"strangerchat/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/require"
)

// recordingConn is a Conn that keeps every delivered event.
type recordingConn struct {
	id     string
	userID string

	mu     sync.Mutex
	events []models.Event
	closed bool
}

func newRecordingConn(userID string) *recordingConn {
	return &recordingConn{id: "conn-" + userID, userID: userID}
}

func (c *recordingConn) ID() string     { return c.id }
func (c *recordingConn) UserID() string { return c.userID }

func (c *recordingConn) Deliver(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recordingConn) named(name string) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// last returns the payload of the most recent event with the given name.
func (c *recordingConn) last(t *testing.T, name string, v any) {
	t.Helper()
	evs := c.named(name)
	require.NotEmpty(t, evs, "no %q event for %s", name, c.userID)
	require.NoError(t, evs[len(evs)-1].Decode(v))
}

type fixture struct {
	ctx      context.Context
	kv       *storage.MemoryKV
	hub      *chathub.Hub
	presence *presence.Registry
	queue    *matchmaking.Queue
	rooms    *chat.RoomService
	messages *chat.MessageService
	handler  *chathub.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	db := storagetest.NewSQLite(t)
	rooms := chat.NewRoomService(db)
	f := &fixture{
		ctx:      context.Background(),
		kv:       kv,
		hub:      chathub.NewHub(),
		presence: presence.NewRegistry(kv, time.Hour),
		queue:    matchmaking.NewQueue(kv),
		rooms:    rooms,
		messages: chat.NewMessageService(db, rooms),
	}
	f.handler = chathub.NewHandler(f.presence, f.queue, f.rooms, f.messages, f.hub)
	return f
}

func (f *fixture) connect(t *testing.T, userID string) *recordingConn {
	t.Helper()
	c := newRecordingConn(userID)
	f.hub.Attach(c)
	require.NoError(t, f.handler.Connect(f.ctx, c.ID(), userID))
	return c
}

// pair connects two users and matches them, returning the room id.
func (f *fixture) pair(t *testing.T, a, b string) (*recordingConn, *recordingConn, string) {
	t.Helper()
	connA := f.connect(t, a)
	connB := f.connect(t, b)
	require.NoError(t, f.handler.FindPartner(f.ctx, connA.ID(), a))
	require.NoError(t, f.handler.FindPartner(f.ctx, connB.ID(), b))

	var found models.NoticePayload
	connA.last(t, models.EventPartnerFound, &found)
	require.NotEmpty(t, found.RoomID)
	return connA, connB, found.RoomID
}

func (f *fixture) send(t *testing.T, c *recordingConn, event string, data string) {
	t.Helper()
	raw := `{"event":"` + event + `"`
	if data != "" {
		raw += `,"data":` + data
	}
	raw += `}`
	f.handler.HandleEvent(f.ctx, c.ID(), c.UserID(), []byte(raw))
}
