package chat

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Realtime event names exchanged over the websocket.
const (
	EventJoinConversation    = "join_conversation"
	EventLeaveConversation   = "leave_conversation"
	EventTyping              = "typing"
	EventStopTyping          = "stop_typing"
	EventNewMessage          = "new_message"
	EventMessagesRead        = "messages_read"
	EventConversationUpdated = "conversation_updated"
	EventError               = "error"
)

// Frame is the websocket wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame.
func NewFrame(event string, data any) (Frame, error) {
	if event == "" {
		return Frame{}, errors.New("frame event is empty")
	}
	if data == nil {
		return Frame{Event: event}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "marshal %s payload", event)
	}
	return Frame{Event: event, Data: b}, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return errors.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", f.Event)
	}
	return nil
}

// RoomPayload is the data of join_conversation and leave_conversation.
// Clients send the bare id; the object form is accepted too.
type RoomPayload struct {
	ConversationID int64 `json:"conversationId"`
}

// ParseRoomPayload accepts either `42` or `{"conversationId":42}`.
func ParseRoomPayload(raw json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var p RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, errors.Wrap(err, "decode room payload")
	}
	return p.ConversationID, nil
}

// TypingPayload is the data of typing and stop_typing.
type TypingPayload struct {
	ConversationID int64 `json:"conversationId"`
	SenderRole     Role  `json:"sender_role"`
}

// ReadPayload is the data of messages_read.
type ReadPayload struct {
	ConversationID int64 `json:"conversationId"`
	ReaderID       int64 `json:"reader_id"`
	ReaderRole     Role  `json:"reader_role"`
}

// ErrorPayload is the data of error frames sent by the backend.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Audience selects which room a backend event fans out to.
type Audience string

const (
	AudienceConversation Audience = "conversation"
	AudienceAdmins       Audience = "admins"
)

// Event is the backend envelope published on the event stream. Handlers publish
// it after a REST write; the forwarder turns it into a Frame for a room.
type Event struct {
	Name           string          `json:"event"`
	Audience       Audience        `json:"audience"`
	ConversationID int64           `json:"conversation_id"`
	Data           json.RawMessage `json:"data"`
}

// NewEvent builds an Event with a marshalled payload.
func NewEvent(name string, audience Audience, conversationID int64, data any) (Event, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, errors.Wrapf(err, "marshal %s event", name)
	}
	return Event{Name: name, Audience: audience, ConversationID: conversationID, Data: b}, nil
}

// Frame converts the event to its websocket form.
func (e Event) Frame() Frame {
	return Frame{Event: e.Name, Data: e.Data}
}
