package chathub_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"strangerchat/backend/internal/chat"
	"strangerchat/backend/internal/chathub"
	"strangerchat/backend/internal/models"
	"strangerchat/backend/internal/storage"
	"strangerchat/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_RequiresUserID(t *testing.T) {
	f := newFixture(t)

	err := f.handler.Connect(f.ctx, "conn-x", "")
	assert.ErrorIs(t, err, chat.ErrInvalidInput)

	online, err := f.presence.OnlineUsers(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestFindPartner_WaitThenMatch(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "A")
	connB := f.connect(t, "B")

	require.NoError(t, f.handler.FindPartner(f.ctx, connA.ID(), "A"))
	assert.Len(t, connA.named(models.EventWaiting), 1)
	state, err := f.handler.State(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, chathub.StateWaiting, state)

	require.NoError(t, f.handler.FindPartner(f.ctx, connB.ID(), "B"))

	var gotA, gotB models.NoticePayload
	connA.last(t, models.EventPartnerFound, &gotA)
	connB.last(t, models.EventPartnerFound, &gotB)
	assert.NotEmpty(t, gotA.RoomID)
	assert.Equal(t, gotA.RoomID, gotB.RoomID)
	assert.Empty(t, connB.named(models.EventWaiting))

	waiting, err := f.queue.Waiting(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, waiting)

	for _, user := range []string{"A", "B"} {
		state, err := f.handler.State(f.ctx, user)
		require.NoError(t, err)
		assert.Equal(t, chathub.StatePaired, state, user)
	}
	assert.ElementsMatch(t, []string{connA.ID(), connB.ID()}, f.hub.Members(gotA.RoomID))
}

func TestFindPartner_AlreadyInSession(t *testing.T) {
	f := newFixture(t)
	connA, _, roomID := f.pair(t, "A", "B")

	f.send(t, connA, models.EventFindPartner, "")

	var payload models.ErrorPayload
	connA.last(t, models.EventError, &payload)
	assert.Equal(t, chathub.ErrAlreadyInSession.Error(), payload.Message)

	rooms, err := f.rooms.GetUserRooms(f.ctx, "A")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, roomID, rooms[0].ID)

	queued, err := f.queue.Contains(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestFindPartner_PartnerWithoutConnection(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "A")
	// B queued and then vanished without cleaning up presence
	require.NoError(t, f.queue.Enqueue(f.ctx, "B"))

	require.NoError(t, f.handler.FindPartner(f.ctx, connA.ID(), "A"))

	var found models.NoticePayload
	connA.last(t, models.EventPartnerFound, &found)
	room, err := f.rooms.GetRoomByID(f.ctx, found.RoomID)
	require.NoError(t, err)
	assert.True(t, room.IsActive)
	assert.ElementsMatch(t, []string{"A", "B"}, room.Participants)
	assert.Equal(t, []string{connA.ID()}, f.hub.Members(found.RoomID))
	assert.Empty(t, connA.named(models.EventError))
}

func TestFindPartner_ConcurrentRequestsCreateOneRoom(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round %d", i), func(t *testing.T) {
			f := newFixture(t)
			connA := f.connect(t, "A")
			connB := f.connect(t, "B")

			var wg sync.WaitGroup
			for _, c := range []*recordingConn{connA, connB} {
				wg.Add(1)
				go func(c *recordingConn) {
					defer wg.Done()
					assert.NoError(t, f.handler.FindPartner(f.ctx, c.ID(), c.UserID()))
				}(c)
			}
			wg.Wait()

			roomsA, err := f.rooms.GetUserRooms(f.ctx, "A")
			require.NoError(t, err)
			roomsB, err := f.rooms.GetUserRooms(f.ctx, "B")
			require.NoError(t, err)
			require.Len(t, roomsA, 1)
			require.Len(t, roomsB, 1)
			assert.Equal(t, roomsA[0].ID, roomsB[0].ID)

			waiting, err := f.queue.Waiting(f.ctx)
			require.NoError(t, err)
			assert.Empty(t, waiting)
		})
	}
}

func TestSendMessage_BroadcastToBoth(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	f.send(t, connA, models.EventSendMessage, `{"roomId":"`+roomID+`","content":"hi"}`)

	for _, c := range []*recordingConn{connA, connB} {
		var msg models.Message
		c.last(t, models.EventReceiveMessage, &msg)
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, roomID, msg.RoomID)
		assert.Equal(t, "A", msg.SenderID)
		assert.False(t, msg.IsRead)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	f.send(t, connA, models.EventSendMessage, `{"roomId":"`+roomID+`"}`)
	var payload models.ErrorPayload
	connA.last(t, models.EventError, &payload)
	assert.Contains(t, payload.Message, "required")

	require.NoError(t, f.handler.LeaveRoom(f.ctx, connB.ID(), "B", roomID))
	f.send(t, connA, models.EventSendMessage, `{"roomId":"`+roomID+`","content":"anyone?"}`)
	connA.last(t, models.EventError, &payload)
	assert.Equal(t, chat.ErrRoomInactive.Error(), payload.Message)
	assert.Empty(t, connB.named(models.EventReceiveMessage))
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	f.send(t, connA, models.EventLeaveRoom, `{"roomId":"`+roomID+`"}`)

	var left, partnerLeft models.NoticePayload
	connA.last(t, models.EventRoomLeft, &left)
	connB.last(t, models.EventPartnerLeft, &partnerLeft)
	assert.Equal(t, roomID, left.RoomID)
	assert.Equal(t, roomID, partnerLeft.RoomID)

	room, err := f.rooms.GetRoomByID(f.ctx, roomID)
	require.NoError(t, err)
	assert.False(t, room.IsActive)
	assert.NotNil(t, room.EndedAt)
	assert.Empty(t, f.hub.Members(roomID))

	state, err := f.handler.State(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, chathub.StateIdle, state)
}

func TestLeaveRoom_Errors(t *testing.T) {
	f := newFixture(t)
	_, _, roomID := f.pair(t, "A", "B")
	connC := f.connect(t, "C")

	f.send(t, connC, models.EventLeaveRoom, `{}`)
	var payload models.ErrorPayload
	connC.last(t, models.EventError, &payload)
	assert.Contains(t, payload.Message, "required")

	f.send(t, connC, models.EventLeaveRoom, `{"roomId":"`+roomID+`"}`)
	connC.last(t, models.EventError, &payload)
	assert.Equal(t, chat.ErrForbidden.Error(), payload.Message)

	f.send(t, connC, models.EventLeaveRoom, `{"roomId":"nope"}`)
	connC.last(t, models.EventError, &payload)
	assert.Equal(t, chat.ErrNotFound.Error(), payload.Message)
}

func TestSkipPartner(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	f.send(t, connA, models.EventSkipPartner, `{"roomId":"`+roomID+`"}`)

	room, err := f.rooms.GetRoomByID(f.ctx, roomID)
	require.NoError(t, err)
	assert.False(t, room.IsActive)

	var partnerLeft models.NoticePayload
	connB.last(t, models.EventPartnerLeft, &partnerLeft)
	assert.Equal(t, roomID, partnerLeft.RoomID)
	assert.Len(t, connA.named(models.EventWaiting), 1)

	// B looks again and lands with A
	require.NoError(t, f.handler.FindPartner(f.ctx, connB.ID(), "B"))
	var found models.NoticePayload
	connA.last(t, models.EventPartnerFound, &found)
	assert.NotEqual(t, roomID, found.RoomID)
}

func TestSkipPartner_ToleratesMissingRoom(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "A")

	f.send(t, connA, models.EventSkipPartner, `{"roomId":"gone"}`)

	assert.Empty(t, connA.named(models.EventError))
	assert.Len(t, connA.named(models.EventWaiting), 1)
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	for _, content := range []string{"one", "two"} {
		require.NoError(t, f.handler.SendMessage(f.ctx, connA.ID(), "A", roomID, content))
	}
	require.NoError(t, f.handler.SendMessage(f.ctx, connB.ID(), "B", roomID, "mine"))

	f.send(t, connB, models.EventMarkAsRead, `{"roomId":"`+roomID+`"}`)

	var read models.NoticePayload
	connB.last(t, models.EventMessagesRead, &read)
	assert.Equal(t, roomID, read.RoomID)

	history, err := f.messages.GetRoomMessages(f.ctx, roomID, 50, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, m := range history {
		if m.SenderID == "A" {
			assert.True(t, m.IsRead, m.Content)
		} else {
			assert.False(t, m.IsRead, m.Content)
		}
	}
}

func TestDisconnect_WhilePaired(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	require.NoError(t, f.handler.Disconnect(f.ctx, connA.ID()))
	f.hub.Detach(connA.ID())

	room, err := f.rooms.GetRoomByID(f.ctx, roomID)
	require.NoError(t, err)
	assert.False(t, room.IsActive)

	var gone models.NoticePayload
	connB.last(t, models.EventPartnerDisconnected, &gone)
	assert.Equal(t, roomID, gone.RoomID)

	_, ok, err := f.presence.LookupConnection(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = f.presence.LookupUser(f.ctx, connA.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	queued, err := f.queue.Contains(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestDisconnect_WhileWaiting(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "A")
	require.NoError(t, f.handler.FindPartner(f.ctx, connA.ID(), "A"))

	require.NoError(t, f.handler.Disconnect(f.ctx, connA.ID()))

	queued, err := f.queue.Contains(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, queued)
	online, err := f.presence.Online(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestDisconnect_UnknownConnection(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.handler.Disconnect(f.ctx, "never-seen"))
}

func TestDisconnect_BothSidesConverge(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	var wg sync.WaitGroup
	for _, c := range []*recordingConn{connA, connB} {
		wg.Add(1)
		go func(c *recordingConn) {
			defer wg.Done()
			assert.NoError(t, f.handler.Disconnect(f.ctx, c.ID()))
		}(c)
	}
	wg.Wait()

	room, err := f.rooms.GetRoomByID(f.ctx, roomID)
	require.NoError(t, err)
	assert.False(t, room.IsActive)
	assert.NotNil(t, room.EndedAt)
}

func TestHandleEvent_Malformed(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "A")

	f.handler.HandleEvent(f.ctx, connA.ID(), "A", []byte("not json"))
	f.send(t, connA, "dance", "")
	f.send(t, connA, models.EventSendMessage, `"just a string"`)

	errs := connA.named(models.EventError)
	require.Len(t, errs, 3)
	for _, ev := range errs {
		var payload models.ErrorPayload
		require.NoError(t, ev.Decode(&payload))
		assert.Contains(t, payload.Message, chat.ErrInvalidInput.Error())
	}
}

func TestEndRoom_NotifiesOnlineParticipants(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	room, err := f.handler.EndRoom(f.ctx, "B", roomID, "api")
	require.NoError(t, err)
	assert.False(t, room.IsActive)

	var left, partnerLeft models.NoticePayload
	connB.last(t, models.EventRoomLeft, &left)
	connA.last(t, models.EventPartnerLeft, &partnerLeft)
	assert.Equal(t, roomID, left.RoomID)
	assert.Equal(t, roomID, partnerLeft.RoomID)

	// ending again changes nothing and sends nothing
	_, err = f.handler.EndRoom(f.ctx, "A", roomID, "api")
	require.NoError(t, err)
	assert.Len(t, connA.named(models.EventPartnerLeft), 1)
	assert.Empty(t, connA.named(models.EventRoomLeft))

	_, err = f.handler.EndRoom(f.ctx, "C", roomID, "api")
	assert.ErrorIs(t, err, chat.ErrForbidden)
}

func TestLeaveRoom_RepeatedEndNotifiesPartnerOnce(t *testing.T) {
	f := newFixture(t)
	connA, connB, roomID := f.pair(t, "A", "B")

	f.send(t, connA, models.EventLeaveRoom, `{"roomId":"`+roomID+`"}`)
	f.send(t, connA, models.EventLeaveRoom, `{"roomId":"`+roomID+`"}`)
	f.send(t, connA, models.EventSkipPartner, `{"roomId":"`+roomID+`"}`)

	assert.Len(t, connB.named(models.EventPartnerLeft), 1)
	assert.Empty(t, connA.named(models.EventError))
	assert.Len(t, connA.named(models.EventRoomLeft), 2)

	// the skip queued A again; B lands in a fresh room with A
	require.NoError(t, f.handler.FindPartner(f.ctx, connB.ID(), "B"))
	var found models.NoticePayload
	connB.last(t, models.EventPartnerFound, &found)
	require.NotEqual(t, roomID, found.RoomID)

	f.send(t, connA, models.EventLeaveRoom, `{"roomId":"`+roomID+`"}`)
	assert.Len(t, connB.named(models.EventPartnerLeft), 1)
	room, err := f.rooms.GetRoomByID(f.ctx, found.RoomID)
	require.NoError(t, err)
	assert.True(t, room.IsActive)
	assert.ElementsMatch(t, []string{connA.ID(), connB.ID()}, f.hub.Members(found.RoomID))
}

// failingStorage breaks room lookups while fail is set.
type failingStorage struct {
	storage.Storage
	fail bool
}

func (s *failingStorage) GetActiveRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	if s.fail {
		return nil, errors.New("connection reset by peer")
	}
	return s.Storage.GetActiveRoomsForUser(ctx, userID)
}

func TestDispatch_InternalFailure(t *testing.T) {
	f := newFixture(t)
	broken := &failingStorage{Storage: storagetest.NewSQLite(t), fail: true}
	f.handler.Rooms = chat.NewRoomService(broken)
	connA := f.connect(t, "A")

	f.send(t, connA, models.EventFindPartner, "")

	errs := connA.named(models.EventError)
	require.Len(t, errs, 1)
	var payload models.ErrorPayload
	require.NoError(t, errs[0].Decode(&payload))
	assert.Equal(t, "Internal server error", payload.Message)

	broken.fail = false
	f.send(t, connA, models.EventFindPartner, "")
	assert.Len(t, connA.named(models.EventWaiting), 1)
	assert.Len(t, connA.named(models.EventError), 1)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "A")
	rooms := f.handler.Rooms
	f.handler.Rooms = nil

	require.NotPanics(t, func() {
		f.send(t, connA, models.EventFindPartner, "")
	})

	errs := connA.named(models.EventError)
	require.Len(t, errs, 1)
	var payload models.ErrorPayload
	require.NoError(t, errs[0].Decode(&payload))
	assert.Equal(t, "Internal server error", payload.Message)

	f.handler.Rooms = rooms
	f.send(t, connA, models.EventFindPartner, "")
	assert.Len(t, connA.named(models.EventWaiting), 1)
	assert.Len(t, connA.named(models.EventError), 1)
}

func TestCancelSearch(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "A")

	cancelled, err := f.handler.CancelSearch(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, f.handler.FindPartner(f.ctx, connA.ID(), "A"))
	cancelled, err = f.handler.CancelSearch(f.ctx, "A")
	require.NoError(t, err)
	assert.True(t, cancelled)

	state, err := f.handler.State(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, chathub.StateIdle, state)
}
