// Package chathub drives the real-time protocol: per-connection events,
// matchmaking, room notifications and the transports that carry them.
package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"strangerchat/backend/internal/chat"
	"strangerchat/backend/internal/matchmaking"
	"strangerchat/backend/internal/metrics"
	"strangerchat/backend/internal/models"
	"strangerchat/backend/internal/presence"

	"github.com/rs/zerolog/log"
)

const (
	msgWaiting             = "Waiting for a partner..."
	msgPartnerFound        = "Partner found! Start chatting."
	msgRoomLeft            = "You have left the chat"
	msgPartnerLeft         = "Your partner has left the chat"
	msgPartnerDisconnected = "Your partner has disconnected"
)

// State is the derived protocol state of a user.
type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StatePaired  State = "paired"
)

// Handler composes presence, queue, rooms and messages into the
// per-connection protocol. It keeps no per-user state of its own, so any
// number of instances may serve the same users.
type Handler struct {
	Presence  *presence.Registry
	Queue     *matchmaking.Queue
	Rooms     *chat.RoomService
	Messages  *chat.MessageService
	Transport Transport
}

func NewHandler(p *presence.Registry, q *matchmaking.Queue, rooms *chat.RoomService, msgs *chat.MessageService, t Transport) *Handler {
	return &Handler{Presence: p, Queue: q, Rooms: rooms, Messages: msgs, Transport: t}
}

// Connect registers the connection for userID. An empty user id is
// rejected and the transport is expected to close the connection.
func (h *Handler) Connect(ctx context.Context, connID, userID string) error {
	if userID == "" {
		metrics.ConnectionsRejected.Inc()
		return fmt.Errorf("%w: user id is required", chat.ErrInvalidInput)
	}
	if err := h.Presence.RegisterConnection(ctx, userID, connID); err != nil {
		return fmt.Errorf("register %s: %w", userID, err)
	}
	log.Info().Str("user", userID).Str("conn", connID).Msg("connected")
	return nil
}

// State reports whether the user is paired, waiting or idle.
func (h *Handler) State(ctx context.Context, userID string) (State, error) {
	rooms, err := h.Rooms.GetUserRooms(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(rooms) > 0 {
		return StatePaired, nil
	}
	waiting, err := h.Queue.Contains(ctx, userID)
	if err != nil {
		return "", err
	}
	if waiting {
		return StateWaiting, nil
	}
	return StateIdle, nil
}

// FindPartner pairs the user with someone from the waiting queue, or
// queues the user when nobody is waiting.
func (h *Handler) FindPartner(ctx context.Context, connID, userID string) error {
	rooms, err := h.Rooms.GetUserRooms(ctx, userID)
	if err != nil {
		return err
	}
	if len(rooms) > 0 {
		return ErrAlreadyInSession
	}

	partnerID, matched, err := h.Queue.MatchOrEnqueue(ctx, userID)
	if err != nil {
		return fmt.Errorf("match %s: %w", userID, err)
	}
	if !matched {
		metrics.QueuedTotal.Inc()
		log.Debug().Str("user", userID).Msg("waiting for partner")
		h.notify(ctx, connID, models.Event{Name: models.EventWaiting, Payload: models.NoticePayload{Message: msgWaiting}})
		return nil
	}

	room, err := h.Rooms.CreateRoom(ctx, []string{userID, partnerID})
	if err != nil {
		// the partner was taken from the queue; give the spot back
		if qerr := h.Queue.Enqueue(ctx, partnerID); qerr != nil {
			log.Error().Err(qerr).Str("user", partnerID).Msg("failed to re-queue partner")
		}
		return err
	}
	metrics.MatchesTotal.Inc()
	log.Info().Str("room", room.ID).Str("user1", userID).Str("user2", partnerID).Msg("match found")

	h.join(ctx, connID, room.ID)
	if partnerConn, ok := h.lookupConn(ctx, partnerID); ok {
		h.join(ctx, partnerConn, room.ID)
	} else {
		h.undeliverable(models.EventPartnerFound, partnerID)
	}

	found := models.Event{Name: models.EventPartnerFound, Payload: models.NoticePayload{RoomID: room.ID, Message: msgPartnerFound}}
	if err := h.Transport.Broadcast(ctx, room.ID, found); err != nil {
		log.Error().Err(err).Str("room", room.ID).Msg("broadcast partnerFound failed")
	}
	return nil
}

// SendMessage persists the message and broadcasts it to the room,
// sender included.
func (h *Handler) SendMessage(ctx context.Context, connID, userID, roomID, content string) error {
	if roomID == "" || content == "" {
		return fmt.Errorf("%w: room id and content are required", chat.ErrInvalidInput)
	}
	msg, err := h.Messages.SaveMessage(ctx, roomID, userID, content)
	if err != nil {
		return err
	}
	metrics.MessagesSent.Inc()

	if err := h.Transport.Broadcast(ctx, roomID, models.Event{Name: models.EventReceiveMessage, Payload: msg}); err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("broadcast receiveMessage failed")
	}
	return nil
}

// LeaveRoom ends the room, tells the partner and confirms to the caller.
func (h *Handler) LeaveRoom(ctx context.Context, connID, userID, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", chat.ErrInvalidInput)
	}
	room, ended, err := h.Rooms.EndRoom(ctx, roomID, userID)
	if err != nil {
		return err
	}

	h.leave(ctx, connID, roomID)
	if ended {
		metrics.RoomsEnded.WithLabelValues("leave").Inc()
		h.notifyPartner(ctx, room, userID, models.EventPartnerLeft, msgPartnerLeft)
	}
	h.notify(ctx, connID, models.Event{Name: models.EventRoomLeft, Payload: models.NoticePayload{RoomID: roomID, Message: msgRoomLeft}})
	return nil
}

// EndRoom ends a room outside of any connection event (HTTP API, admin
// tool) and notifies whichever participants are online.
func (h *Handler) EndRoom(ctx context.Context, userID, roomID, reason string) (*models.Room, error) {
	room, ended, err := h.Rooms.EndRoom(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !ended {
		return room, nil
	}
	metrics.RoomsEnded.WithLabelValues(reason).Inc()

	if connID, ok := h.lookupConn(ctx, userID); ok {
		h.leave(ctx, connID, roomID)
		h.notify(ctx, connID, models.Event{Name: models.EventRoomLeft, Payload: models.NoticePayload{RoomID: roomID, Message: msgRoomLeft}})
	}
	h.notifyPartner(ctx, room, userID, models.EventPartnerLeft, msgPartnerLeft)
	return room, nil
}

// SkipPartner drops the current room, if any, and looks for a new partner.
// Failing to end the old room does not stop the search.
func (h *Handler) SkipPartner(ctx context.Context, connID, userID, roomID string) error {
	if roomID != "" {
		room, ended, err := h.Rooms.EndRoom(ctx, roomID, userID)
		if err != nil {
			log.Debug().Err(err).Str("room", roomID).Str("user", userID).Msg("skip: room not ended")
		} else if ended {
			metrics.RoomsEnded.WithLabelValues("skip").Inc()
			h.notifyPartner(ctx, room, userID, models.EventPartnerLeft, msgPartnerLeft)
		}
		h.leave(ctx, connID, roomID)
	}
	if err := h.Queue.Remove(ctx, userID); err != nil {
		return fmt.Errorf("dequeue %s: %w", userID, err)
	}
	return h.FindPartner(ctx, connID, userID)
}

// CancelSearch takes the user out of the waiting queue. It reports whether
// the user was waiting.
func (h *Handler) CancelSearch(ctx context.Context, userID string) (bool, error) {
	waiting, err := h.Queue.Contains(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("queue lookup %s: %w", userID, err)
	}
	if !waiting {
		return false, nil
	}
	if err := h.Queue.Remove(ctx, userID); err != nil {
		return false, fmt.Errorf("dequeue %s: %w", userID, err)
	}
	log.Debug().Str("user", userID).Msg("search cancelled")
	return true, nil
}

// MarkAsRead flags the partner's messages in the room as read.
func (h *Handler) MarkAsRead(ctx context.Context, connID, userID, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", chat.ErrInvalidInput)
	}
	if _, err := h.Messages.MarkRead(ctx, roomID, userID); err != nil {
		return err
	}
	h.notify(ctx, connID, models.Event{Name: models.EventMessagesRead, Payload: models.NoticePayload{RoomID: roomID}})
	return nil
}

// Disconnect tears down everything the connection's user holds: the queue
// entry, active rooms and presence. Unknown connections are ignored.
func (h *Handler) Disconnect(ctx context.Context, connID string) error {
	userID, ok, err := h.Presence.LookupUser(ctx, connID)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", connID, err)
	}
	if !ok {
		return nil
	}

	if err := h.Queue.Remove(ctx, userID); err != nil {
		log.Error().Err(err).Str("user", userID).Msg("disconnect: dequeue failed")
	}

	rooms, err := h.Rooms.GetUserRooms(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("disconnect: listing rooms failed")
	}
	for i := range rooms {
		if !rooms[i].IsActive {
			continue
		}
		room, ended, err := h.Rooms.EndRoom(ctx, rooms[i].ID, userID)
		if err != nil {
			log.Error().Err(err).Str("room", rooms[i].ID).Msg("disconnect: end room failed")
			continue
		}
		if !ended {
			continue
		}
		metrics.RoomsEnded.WithLabelValues("disconnect").Inc()
		h.notifyPartner(ctx, room, userID, models.EventPartnerDisconnected, msgPartnerDisconnected)
	}

	if err := h.Presence.Unregister(ctx, userID, connID); err != nil {
		return fmt.Errorf("unregister %s: %w", userID, err)
	}
	log.Info().Str("user", userID).Str("conn", connID).Msg("disconnected")
	return nil
}

// HandleEvent decodes one frame from the connection and dispatches it.
func (h *Handler) HandleEvent(ctx context.Context, connID, userID string, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.reportError(ctx, connID, "", fmt.Errorf("%w: malformed event", chat.ErrInvalidInput))
		return
	}
	h.Dispatch(ctx, connID, userID, env)
}

// Dispatch runs one client event. Failures become an error event on the
// same connection; the connection itself is never closed here.
func (h *Handler) Dispatch(ctx context.Context, connID, userID string, env models.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("event", env.Event).Str("conn", connID).Msg("event handler panicked")
			h.reportError(ctx, connID, env.Event, fmt.Errorf("panic: %v", rec))
		}
	}()

	var p models.RoomPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.reportError(ctx, connID, env.Event, fmt.Errorf("%w: malformed payload", chat.ErrInvalidInput))
			return
		}
	}

	var err error
	switch env.Event {
	case models.EventFindPartner:
		err = h.FindPartner(ctx, connID, userID)
	case models.EventSendMessage:
		err = h.SendMessage(ctx, connID, userID, p.RoomID, p.Content)
	case models.EventLeaveRoom:
		err = h.LeaveRoom(ctx, connID, userID, p.RoomID)
	case models.EventSkipPartner:
		err = h.SkipPartner(ctx, connID, userID, p.RoomID)
	case models.EventMarkAsRead:
		err = h.MarkAsRead(ctx, connID, userID, p.RoomID)
	default:
		err = fmt.Errorf("%w: unknown event %q", chat.ErrInvalidInput, env.Event)
	}
	if err != nil {
		h.reportError(ctx, connID, env.Event, err)
	}
}

func (h *Handler) reportError(ctx context.Context, connID, event string, err error) {
	kind := errorKind(err)
	metrics.EventErrors.WithLabelValues(event, kind).Inc()
	if kind == "internal" {
		log.Error().Err(err).Str("event", event).Str("conn", connID).Msg("event failed")
	} else {
		log.Debug().Err(err).Str("event", event).Str("conn", connID).Msg("event rejected")
	}
	h.notify(ctx, connID, models.Event{Name: models.EventError, Payload: models.ErrorPayload{Message: clientMessage(err)}})
}

// lookupConn resolves the live connection of userID. Absence is routine.
func (h *Handler) lookupConn(ctx context.Context, userID string) (string, bool) {
	connID, ok, err := h.Presence.LookupConnection(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("presence lookup failed")
		return "", false
	}
	return connID, ok
}

func (h *Handler) notifyPartner(ctx context.Context, room *models.Room, userID, event, text string) {
	partnerID, ok := room.PartnerOf(userID)
	if !ok {
		return
	}
	partnerConn, ok := h.lookupConn(ctx, partnerID)
	if !ok {
		h.undeliverable(event, partnerID)
		return
	}
	h.leave(ctx, partnerConn, room.ID)
	h.notify(ctx, partnerConn, models.Event{Name: event, Payload: models.NoticePayload{RoomID: room.ID, Message: text}})
}

func (h *Handler) notify(ctx context.Context, connID string, ev models.Event) {
	err := h.Transport.Notify(ctx, connID, ev)
	if errors.Is(err, ErrUndeliverable) {
		h.undeliverable(ev.Name, connID)
	} else if err != nil {
		log.Error().Err(err).Str("conn", connID).Str("event", ev.Name).Msg("notify failed")
	}
}

func (h *Handler) join(ctx context.Context, connID, roomID string) {
	err := h.Transport.Join(ctx, connID, roomID)
	if errors.Is(err, ErrUndeliverable) {
		h.undeliverable(models.EventPartnerFound, connID)
	} else if err != nil {
		log.Error().Err(err).Str("conn", connID).Str("room", roomID).Msg("join failed")
	}
}

func (h *Handler) leave(ctx context.Context, connID, roomID string) {
	if err := h.Transport.Leave(ctx, connID, roomID); err != nil {
		log.Error().Err(err).Str("conn", connID).Str("room", roomID).Msg("leave failed")
	}
}

func (h *Handler) undeliverable(event, target string) {
	metrics.Undeliverable.WithLabelValues(event).Inc()
	log.Debug().Str("event", event).Str("target", target).Msg("notification undeliverable")
}
