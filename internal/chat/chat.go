// Package chat defines the boundary between the game host and the chat
// platform: the per-room message capability used by monitors and the
// dispatcher, and an in-memory platform that records room history.
package chat

import (
	"context"
	"errors"
)

// ErrMessageNotFound is returned when a message to edit or delete no longer exists.
// Callers that only care about the end state treat it as success.
var ErrMessageNotFound = errors.New("chat: message not found")

// MessageID identifies a message within a room.
type MessageID string

// Room is the send/edit/delete capability for one chat room.
type Room interface {
	// Send posts a new message and returns its id.
	Send(ctx context.Context, content string) (MessageID, error)
	// Edit replaces the content of an existing message.
	//
	// Postcondition: Returns ErrMessageNotFound if id does not exist.
	Edit(ctx context.Context, id MessageID, content string) error
	// Delete removes a message.
	//
	// Postcondition: Returns ErrMessageNotFound if id does not exist.
	Delete(ctx context.Context, id MessageID) error
	// Latest returns the id of the most recent live message in the room.
	//
	// Postcondition: ok is false if the room has no live messages.
	Latest(ctx context.Context) (id MessageID, ok bool, err error)
}

// Platform hands out Room capabilities.
type Platform interface {
	Room(communityID, roomID string) Room
}
