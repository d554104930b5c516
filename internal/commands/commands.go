// ABOUTME: Command handlers for the four postbox operations: profile, send, mail, explore
// ABOUTME: Composes directory + mailbox + messenger; every reply is private to the invoker

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/postbox/internal/directory"
	"github.com/2389/postbox/internal/mailbox"
	"github.com/2389/postbox/internal/metrics"
)

// Command names as invoked by users.
const (
	CmdProfile = "profile"
	CmdSend    = "send"
	CmdMail    = "mail"
	CmdExplore = "explore"
)

// ErrUnreachable is returned by a Messenger when the target user cannot
// receive direct messages (no shared room, invite rejected, blocked).
var ErrUnreachable = errors.New("user unreachable")

// errRateLimited marks a send rejected by the per-sender limiter.
var errRateLimited = errors.New("rate limited")

// Messenger delivers direct messages to platform users. The Matrix bridge
// implements it; handlers never see the platform client directly.
type Messenger interface {
	SendDirectMessage(ctx context.Context, userID, text string) error
}

// Invocation is one command call received from the messaging frontend.
type Invocation struct {
	ID         string // correlation id for logs
	Command    string
	SenderID   string // canonical platform user id
	SenderName string // display name at invocation time
	Args       string // raw argument text after the command name
}

// DefaultDeliveryTimeout bounds one direct-message delivery attempt.
const DefaultDeliveryTimeout = 10 * time.Second

// Config wires a Handler's collaborators.
type Config struct {
	Directory *directory.Directory
	Mailbox   *mailbox.Mailbox
	Messenger Messenger
	Metrics   *metrics.Metrics

	// DeliveryTimeout bounds the DM attempt in Send; zero means
	// DefaultDeliveryTimeout. A timed-out delivery is treated as
	// unreachable.
	DeliveryTimeout time.Duration

	// SendsPerMinute and SendBurst shape the per-sender limiter on Send.
	// Zero values disable limiting.
	SendsPerMinute int
	SendBurst      int

	// ExploreAllowed restricts the explore command to the listed user
	// IDs. Empty means everyone may browse the directory; that default
	// discloses every user's code and should be a deliberate choice.
	ExploreAllowed []string
}

// Handler executes postbox commands. All replies go to the invoker only.
type Handler struct {
	dir       *directory.Directory
	mbox      *mailbox.Mailbox
	messenger Messenger
	metrics   *metrics.Metrics
	logger    *slog.Logger

	deliveryTimeout time.Duration
	exploreAllowed  []string

	sendRate  rate.Limit
	sendBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a command Handler from the given config.
func New(cfg Config) *Handler {
	timeout := cfg.DeliveryTimeout
	if timeout == 0 {
		timeout = DefaultDeliveryTimeout
	}

	var sendRate rate.Limit
	if cfg.SendsPerMinute > 0 {
		sendRate = rate.Limit(float64(cfg.SendsPerMinute) / 60.0)
	}

	return &Handler{
		dir:             cfg.Directory,
		mbox:            cfg.Mailbox,
		messenger:       cfg.Messenger,
		metrics:         cfg.Metrics,
		logger:          slog.Default().With("component", "commands"),
		deliveryTimeout: timeout,
		exploreAllowed:  cfg.ExploreAllowed,
		sendRate:        sendRate,
		sendBurst:       max(cfg.SendBurst, 1),
		limiters:        make(map[string]*rate.Limiter),
	}
}

// Profile issues (or reissues) the invoker's mail code.
func (h *Handler) Profile(ctx context.Context, inv *Invocation) (string, error) {
	code, err := h.dir.Issue(ctx, inv.SenderID, inv.SenderName)
	if err != nil {
		return "", err
	}
	h.count(func(m *metrics.Metrics) { m.ProfilesIssued.Inc() })
	return fmt.Sprintf("Your profile code is: **%s**\n\nShare it with anyone who should be able to mail you. Running `profile` again replaces it.", code), nil
}

// Send resolves a profile code, DMs the recipient, and persists the mail.
// Persistence is conditional on delivery: a mail that could not be
// delivered leaves no mailbox record.
func (h *Handler) Send(ctx context.Context, inv *Invocation) (string, error) {
	code, body := splitFirstToken(inv.Args)
	if code == "" || strings.TrimSpace(body) == "" {
		return "Usage: `send <profile_code> <message>`", nil
	}

	// Reject bad input before resolving or delivering anything.
	if err := h.mbox.Validate(body); err != nil {
		return "", err
	}
	if !h.allowSend(inv.SenderID) {
		return "", errRateLimited
	}

	profile, err := h.dir.Resolve(ctx, code)
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("You have received new mail from **%s**:\n\n%s", inv.SenderName, body)
	dmCtx, cancel := context.WithTimeout(ctx, h.deliveryTimeout)
	err = h.messenger.SendDirectMessage(dmCtx, profile.UserID, text)
	cancel()
	if err != nil {
		h.count(func(m *metrics.Metrics) { m.DeliveryFailures.Inc() })
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: delivery timed out", ErrUnreachable)
		}
		return "", err
	}

	mailID, err := h.mbox.Deliver(ctx, profile.UserID, inv.SenderName, body)
	if err != nil {
		// The DM went out but the record didn't stick. Surface the
		// failure; the sender can retry.
		h.logger.Warn("mail delivered but not persisted",
			"invocation_id", inv.ID, "recipient", profile.UserID, "error", err)
		return "", err
	}

	h.count(func(m *metrics.Metrics) { m.MailsDelivered.Inc() })
	h.logger.Info("mail sent",
		"invocation_id", inv.ID, "mail_id", mailID, "recipient", profile.UserID)
	return "Mail sent successfully!", nil
}

// Mail lists the invoker's mailbox, oldest first.
func (h *Handler) Mail(ctx context.Context, inv *Invocation) (string, error) {
	mails, err := h.mbox.ListFor(ctx, inv.SenderID)
	if err != nil {
		return "", err
	}
	if len(mails) == 0 {
		return "You have no mail.", nil
	}

	var b strings.Builder
	b.WriteString("## Your mailbox\n\n")
	for i, m := range mails {
		fmt.Fprintf(&b, "**%d. From %s** (%s)\n\n%s\n\n", i+1, m.SenderName, m.CreatedAt.Format("2006-01-02 15:04"), m.Body)
	}
	b.WriteString("_This is your private mailbox._")
	return b.String(), nil
}

// Explore lists every profile with its code. This intentionally discloses
// all codes to the caller; ExploreAllowed gates who may ask.
func (h *Handler) Explore(ctx context.Context, inv *Invocation) (string, error) {
	if !h.mayExplore(inv.SenderID) {
		return "You are not allowed to browse the directory.", nil
	}

	profiles, err := h.dir.List(ctx)
	if err != nil {
		return "", err
	}
	if len(profiles) == 0 {
		return "No profiles have been issued yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Directory (%d profiles)\n\n", len(profiles))
	for _, p := range profiles {
		name := p.Username
		if name == "" {
			name = p.UserID
		}
		fmt.Fprintf(&b, "- **%s** — code `%s`\n", name, p.Code)
	}
	return b.String(), nil
}

func (h *Handler) mayExplore(userID string) bool {
	if len(h.exploreAllowed) == 0 {
		return true
	}
	for _, allowed := range h.exploreAllowed {
		if allowed == userID {
			return true
		}
	}
	return false
}

// allowSend checks the per-sender rate limiter.
func (h *Handler) allowSend(senderID string) bool {
	if h.sendRate == 0 {
		return true
	}
	h.mu.Lock()
	limiter, ok := h.limiters[senderID]
	if !ok {
		limiter = rate.NewLimiter(h.sendRate, h.sendBurst)
		h.limiters[senderID] = limiter
	}
	h.mu.Unlock()
	return limiter.Allow()
}

// count applies fn when metrics are wired.
func (h *Handler) count(fn func(*metrics.Metrics)) {
	if h.metrics != nil {
		fn(h.metrics)
	}
}

// splitFirstToken splits off the first whitespace-delimited token and
// returns it with the remainder verbatim (message bodies keep their
// internal whitespace).
func splitFirstToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t\n")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeft(s[idx:], " \t\n")
}
