package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

var (
	// ErrRoomNotFound means nobody on this instance is listening to the room.
	ErrRoomNotFound = errors.New("room not found")
)

type WSPublisher interface {
	PublishFrame(ctx context.Context, room string, frame chat.Frame) error
}

type roomWSPublisher struct {
	rooms *RoomManager
}

func NewWSPublisher(rooms *RoomManager) WSPublisher {
	return &roomWSPublisher{rooms: rooms}
}

func (p *roomWSPublisher) PublishFrame(_ context.Context, room string, frame chat.Frame) error {
	if p == nil || p.rooms == nil {
		return ErrRoomNotFound
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrRoomNotFound
	}
	pool, ok := p.rooms.Room(room)
	if !ok || pool == nil {
		return ErrRoomNotFound
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	pool.Broadcast(b, nil)
	return nil
}
