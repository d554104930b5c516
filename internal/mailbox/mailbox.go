// ABOUTME: Mailbox service validating and persisting mail, listing a user's mailbox
// ABOUTME: Mail records are append-only and immutable once stored

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/postbox/internal/store"
)

// DefaultMaxBodyBytes is the default upper bound on a mail body.
const DefaultMaxBodyBytes = 4096

// ErrEmptyBody is returned when a mail body is empty or whitespace only.
var ErrEmptyBody = errors.New("mail body is empty")

// ErrBodyTooLarge is returned when a mail body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("mail body too large")

// Mailbox stores and retrieves delivered mail.
type Mailbox struct {
	store        store.Store
	maxBodyBytes int
	logger       *slog.Logger
}

// New creates a Mailbox backed by the given store. maxBodyBytes <= 0 falls
// back to DefaultMaxBodyBytes.
func New(s store.Store, maxBodyBytes int) *Mailbox {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Mailbox{
		store:        s,
		maxBodyBytes: maxBodyBytes,
		logger:       slog.Default().With("component", "mailbox"),
	}
}

// Validate checks a mail body against the mailbox's limits without
// touching the store. Callers that do work between validation and
// persistence (like attempting live delivery) use this to reject bad
// input up front.
func (m *Mailbox) Validate(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if len(body) > m.maxBodyBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrBodyTooLarge, len(body), m.maxBodyBytes)
	}
	return nil
}

// Deliver validates and persists one mail record for the recipient,
// returning the assigned mail ID. An invalid body never reaches the store.
func (m *Mailbox) Deliver(ctx context.Context, recipientID, senderName, body string) (int64, error) {
	if err := m.Validate(body); err != nil {
		return 0, err
	}

	mail := &store.Mail{
		RecipientID: recipientID,
		SenderName:  senderName,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.InsertMail(ctx, mail); err != nil {
		return 0, fmt.Errorf("saving mail: %w", err)
	}

	m.logger.Debug("mail stored", "mail_id", mail.ID, "recipient", recipientID)
	return mail.ID, nil
}

// ListFor returns the user's mailbox, oldest first. An empty mailbox is an
// empty slice, not an error.
func (m *Mailbox) ListFor(ctx context.Context, userID string) ([]*store.Mail, error) {
	return m.store.ListMailFor(ctx, userID)
}
