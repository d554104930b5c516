// ABOUTME: Profile directory issuing short numeric mail codes and resolving them to users
// ABOUTME: Codes are drawn from crypto/rand with collision re-draw against the store

package directory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/2389/postbox/internal/store"
)

const (
	// DefaultCodeLength is the number of digits in a freshly issued code.
	DefaultCodeLength = 4

	// maxAttemptsPerWidth is how many random draws are tried at a given
	// code width before widening by one digit.
	maxAttemptsPerWidth = 50

	// maxCodeLength bounds widening. Eight digits gives a code space
	// large enough that exhaustion is not a practical concern.
	maxCodeLength = 8
)

// ErrCodeSpaceExhausted is returned when no free code could be found even
// at the maximum width. It indicates a directory far beyond this system's
// intended scale.
var ErrCodeSpaceExhausted = errors.New("no free profile code available")

// Directory issues profile codes and resolves them back to users.
type Directory struct {
	store      store.Store
	codeLength int
	logger     *slog.Logger
}

// New creates a Directory backed by the given store. codeLength is the
// starting width of issued codes; values outside 1..maxCodeLength fall
// back to DefaultCodeLength.
func New(s store.Store, codeLength int) *Directory {
	if codeLength < 1 || codeLength > maxCodeLength {
		codeLength = DefaultCodeLength
	}
	return &Directory{
		store:      s,
		codeLength: codeLength,
		logger:     slog.Default().With("component", "directory"),
	}
}

// Issue draws a fresh code for the user and upserts their profile.
// Issuing again replaces the previous code (last write wins per user). A
// drawn code already held by another user is discarded and re-drawn; after
// maxAttemptsPerWidth misses the width is widened by one digit.
//
// Two concurrent Issue calls can still race the check against each other;
// the store resolves any resulting duplicate deterministically (newest
// wins), so a residual duplicate degrades the older holder's code, never
// the directory's integrity.
func (d *Directory) Issue(ctx context.Context, userID, username string) (string, error) {
	code, err := d.freeCode(ctx, userID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	profile := &store.Profile{
		UserID:    userID,
		Username:  username,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.UpsertProfile(ctx, profile); err != nil {
		return "", fmt.Errorf("saving profile: %w", err)
	}

	d.logger.Info("issued profile code", "user_id", userID, "code_length", len(code))
	return code, nil
}

// freeCode draws random codes until one is unassigned or assigned to the
// requesting user (reclaiming your own code is fine).
func (d *Directory) freeCode(ctx context.Context, userID string) (string, error) {
	for width := d.codeLength; width <= maxCodeLength; width++ {
		for attempt := 0; attempt < maxAttemptsPerWidth; attempt++ {
			code, err := randomCode(width)
			if err != nil {
				return "", err
			}

			existing, err := d.store.GetProfileByCode(ctx, code)
			if errors.Is(err, store.ErrNotFound) {
				return code, nil
			}
			if err != nil {
				return "", fmt.Errorf("checking code availability: %w", err)
			}
			if existing.UserID == userID {
				return code, nil
			}
		}
		if width < maxCodeLength {
			d.logger.Warn("code space congested, widening", "from_width", width, "to_width", width+1)
		}
	}
	return "", ErrCodeSpaceExhausted
}

// randomCode draws a uniform random string of decimal digits.
func randomCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("drawing digit: %w", err)
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}

// Resolve returns the profile currently holding the given code.
// Returns store.ErrNotFound if no profile holds it.
func (d *Directory) Resolve(ctx context.Context, code string) (*store.Profile, error) {
	return d.store.GetProfileByCode(ctx, code)
}

// List returns every issued profile ordered by user ID.
func (d *Directory) List(ctx context.Context) ([]*store.Profile, error) {
	return d.store.ListProfiles(ctx)
}

// Count returns the number of distinct users holding a profile.
func (d *Directory) Count(ctx context.Context) (int, error) {
	return d.store.CountProfiles(ctx)
}
