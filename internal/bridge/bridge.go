// ABOUTME: Matrix frontend for postbox: sync loop, command parsing, private replies
// ABOUTME: Translates room messages into command invocations and DMs the results back

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/postbox/internal/commands"
	"github.com/2389/postbox/internal/config"
)

// profileTimeout bounds profile (display name) lookups.
const profileTimeout = 5 * time.Second

// Bridge connects a Matrix homeserver to the postbox command handlers.
type Bridge struct {
	cfg     *config.MatrixConfig
	matrix  *mautrix.Client
	handler *commands.Handler
	rooms   *dmRooms
	logger  *slog.Logger
}

// New creates a Matrix bridge for the given configuration. The command
// handler is attached separately with SetHandler because the handler's
// Messenger is the bridge itself.
func New(cfg *config.MatrixConfig, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		cfg:    cfg,
		matrix: client,
		rooms:  newDMRooms(),
		logger: logger,
	}, nil
}

// SetHandler attaches the command handler that invocations dispatch to.
func (b *Bridge) SetHandler(h *commands.Handler) {
	b.handler = h
}

// Run starts the sync loop and blocks until the context is cancelled or
// the sync fails.
func (b *Bridge) Run(ctx context.Context) error {
	if b.handler == nil {
		return fmt.Errorf("no command handler attached")
	}

	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
	)

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(evtCtx context.Context, evt *event.Event) {
		b.handleMessageEvent(ctx, evt)
	})

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent turns an inbound room message into a command
// invocation. Each invocation runs in its own goroutine so a slow store
// or delivery never blocks the sync loop.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return
	}

	name, args, ok := parseCommand(content.Body, b.cfg.CommandPrefix)
	if !ok {
		return
	}

	inv := &commands.Invocation{
		ID:         uuid.New().String(),
		Command:    name,
		SenderID:   evt.Sender.String(),
		SenderName: b.displayName(ctx, evt.Sender),
		Args:       args,
	}

	b.logger.Info("received command",
		"invocation_id", inv.ID,
		"command", inv.Command,
		"sender", inv.SenderID,
		"room", evt.RoomID.String(),
	)

	go b.process(ctx, inv)
}

// process dispatches the invocation and DMs the reply to the invoker.
// Replies are always private: the shared room where the command was typed
// never sees profile codes or mailbox contents.
func (b *Bridge) process(ctx context.Context, inv *commands.Invocation) {
	reply := b.handler.Dispatch(ctx, inv)
	if reply == "" {
		return
	}
	if err := b.SendDirectMessage(ctx, inv.SenderID, reply); err != nil {
		b.logger.Error("failed to deliver reply",
			"invocation_id", inv.ID,
			"sender", inv.SenderID,
			"error", err,
		)
	}
}

// parseCommand strips the prefix and splits the command name from its raw
// argument text. Argument whitespace is preserved so message bodies
// survive intact.
func parseCommand(body, prefix string) (name, args string, ok bool) {
	if !strings.HasPrefix(body, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(body, prefix))
	if rest == "" {
		return "", "", false
	}

	idx := strings.IndexAny(rest, " \t\n")
	if idx < 0 {
		return strings.ToLower(rest), "", true
	}
	return strings.ToLower(rest[:idx]), strings.TrimLeft(rest[idx:], " \t"), true
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}
	for _, allowed := range b.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// displayName fetches the sender's display name, falling back to the
// localpart of the user ID when the profile is unavailable.
func (b *Bridge) displayName(ctx context.Context, userID id.UserID) string {
	lookupCtx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()

	resp, err := b.matrix.GetDisplayName(lookupCtx, userID)
	if err == nil && resp != nil && resp.DisplayName != "" {
		return resp.DisplayName
	}
	return localpart(userID.String())
}

// localpart extracts "alice" from "@alice:example.org".
func localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if idx := strings.Index(s, ":"); idx >= 0 {
		return s[:idx]
	}
	return s
}
