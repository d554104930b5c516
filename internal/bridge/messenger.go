// ABOUTME: Direct-message delivery over Matrix
// ABOUTME: Creates or reuses DM rooms and reports failures as unreachable

package bridge

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/postbox/internal/commands"
)

// SendDirectMessage delivers text to the user in a private room, creating
// one if none is cached. Any failure to open the room or send the event
// is reported as the recipient being unreachable, because from the
// sender's point of view that is what it is.
func (b *Bridge) SendDirectMessage(ctx context.Context, userID, text string) error {
	roomID, cached := b.rooms.get(userID)
	if !cached {
		var err error
		roomID, err = b.createDirectRoom(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: opening direct room with %s: %v", commands.ErrUnreachable, userID, err)
		}
		b.rooms.put(userID, roomID)
	}

	_, err := b.matrix.SendMessageEvent(ctx, roomID, event.EventMessage, textMessage(text))
	if err == nil {
		return nil
	}

	// A cached room can go stale: the user may have left it or the bot
	// may have been removed. Retry once through a fresh room.
	if cached {
		b.rooms.drop(userID)
		b.logger.Debug("cached direct room failed, recreating", "user_id", userID, "error", err)

		roomID, roomErr := b.createDirectRoom(ctx, userID)
		if roomErr != nil {
			return fmt.Errorf("%w: reopening direct room with %s: %v", commands.ErrUnreachable, userID, roomErr)
		}
		b.rooms.put(userID, roomID)

		if _, err = b.matrix.SendMessageEvent(ctx, roomID, event.EventMessage, textMessage(text)); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: sending to %s: %v", commands.ErrUnreachable, userID, err)
}

// createDirectRoom opens a new private room with the user.
func (b *Bridge) createDirectRoom(ctx context.Context, userID string) (id.RoomID, error) {
	resp, err := b.matrix.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{id.UserID(userID)},
		IsDirect: true,
		Preset:   "trusted_private_chat",
	})
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

var _ commands.Messenger = (*Bridge)(nil)
