package models

import "encoding/json"

// Client -> server events.
const (
	EventFindPartner = "findPartner"
	EventSendMessage = "sendMessage"
	EventLeaveRoom   = "leaveRoom"
	EventSkipPartner = "skipPartner"
	EventMarkAsRead  = "markAsRead"
)

// Server -> client events.
const (
	EventWaiting             = "waiting"
	EventPartnerFound        = "partnerFound"
	EventReceiveMessage      = "receiveMessage"
	EventRoomLeft            = "roomLeft"
	EventPartnerLeft         = "partnerLeft"
	EventPartnerDisconnected = "partnerDisconnected"
	EventMessagesRead        = "messagesRead"
	EventError               = "error"
)

// Envelope is the frame exchanged over a real-time connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope frames a client event. A nil payload leaves Data empty.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// Event is a server -> client notification before it is framed.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}

// Encode frames the event as an Envelope.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// RoomPayload is used by sendMessage/leaveRoom/skipPartner/markAsRead.
type RoomPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content,omitempty"`
}

// NoticePayload carries a room id and a human-readable text.
type NoticePayload struct {
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload is the body of an "error" event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Decode copies the payload into v. Events that crossed the relay carry a
// json.RawMessage payload, so a round-trip through JSON covers both cases.
func (e Event) Decode(v any) error {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// UnmarshalJSON keeps the payload raw until a consumer decodes it.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	e.Name = env.Event
	if len(env.Data) > 0 {
		e.Payload = env.Data
	}
	return nil
}
