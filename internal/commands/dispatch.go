// ABOUTME: Dispatches invocations to command handlers and maps domain errors to replies
// ABOUTME: No domain error escapes this boundary; every outcome becomes a private reply

package commands

import (
	"context"
	"errors"

	"github.com/2389/postbox/internal/mailbox"
	"github.com/2389/postbox/internal/metrics"
	"github.com/2389/postbox/internal/store"
)

// Dispatch runs the named command and returns the private reply text for
// the invoker. Domain errors (unknown code, unreachable recipient, bad
// input, storage trouble) are translated into user-readable replies here;
// unexpected failures are logged with the invocation id and answered
// generically. Dispatch never returns an error to the frontend.
func (h *Handler) Dispatch(ctx context.Context, inv *Invocation) string {
	var reply string
	var err error

	switch inv.Command {
	case CmdProfile:
		reply, err = h.Profile(ctx, inv)
	case CmdSend:
		reply, err = h.Send(ctx, inv)
	case CmdMail:
		reply, err = h.Mail(ctx, inv)
	case CmdExplore:
		reply, err = h.Explore(ctx, inv)
	default:
		h.observe(inv.Command, metrics.OutcomeRejected)
		return "Unknown command. Available: `profile`, `send`, `mail`, `explore`."
	}

	if err == nil {
		h.observe(inv.Command, metrics.OutcomeOK)
		return reply
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		h.observe(inv.Command, metrics.OutcomeRejected)
		return "Profile code not found."
	case errors.Is(err, ErrUnreachable):
		h.observe(inv.Command, metrics.OutcomeRejected)
		return "Could not deliver the mail: the recipient is unreachable. Nothing was stored."
	case errors.Is(err, mailbox.ErrEmptyBody):
		h.observe(inv.Command, metrics.OutcomeRejected)
		return "Your message is empty. Write something to send."
	case errors.Is(err, mailbox.ErrBodyTooLarge):
		h.observe(inv.Command, metrics.OutcomeRejected)
		return "Your message is too long. Shorten it and try again."
	case errors.Is(err, errRateLimited):
		h.observe(inv.Command, metrics.OutcomeRejected)
		return "You are sending mail too quickly. Wait a moment and try again."
	}

	h.logger.Error("command failed",
		"invocation_id", inv.ID,
		"command", inv.Command,
		"sender", inv.SenderID,
		"error", err,
	)
	h.observe(inv.Command, metrics.OutcomeError)
	return "Something went wrong handling your command. Please try again."
}

func (h *Handler) observe(command, outcome string) {
	h.count(func(m *metrics.Metrics) {
		m.CommandsHandled.WithLabelValues(command, outcome).Inc()
	})
}
