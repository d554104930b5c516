package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestStore_UpsertProfile_InsertsThenReplaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := &Profile{UserID: "@alice:example.org", Username: "alice", Code: "4821"}
	require.NoError(t, store.UpsertProfile(ctx, first))

	second := &Profile{UserID: "@alice:example.org", Username: "alice", Code: "9034"}
	require.NoError(t, store.UpsertProfile(ctx, second))

	got, err := store.GetProfileByUser(ctx, "@alice:example.org")
	require.NoError(t, err)
	assert.Equal(t, "9034", got.Code, "second issue should overwrite the first")

	count, err := store.CountProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "upsert must not create a second row")
}

func TestStore_UpsertProfile_IsolatedPerUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@a:x", Username: "a", Code: "1111"}))
	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@b:x", Username: "b", Code: "2222"}))

	// Reissue for a must not touch b
	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@a:x", Username: "a", Code: "3333"}))

	b, err := store.GetProfileByUser(ctx, "@b:x")
	require.NoError(t, err)
	assert.Equal(t, "2222", b.Code)
}

func TestStore_GetProfileByUser_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetProfileByUser(context.Background(), "@nobody:example.org")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetProfileByCode(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@alice:example.org", Username: "alice", Code: "4821"}))

	got, err := store.GetProfileByCode(ctx, "4821")
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.org", got.UserID)

	_, err = store.GetProfileByCode(ctx, "0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetProfileByCode_DuplicateNewestWins(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	newer := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.UpsertProfile(ctx, &Profile{
		UserID: "@old:x", Username: "old", Code: "7777",
		CreatedAt: older, UpdatedAt: older,
	}))
	require.NoError(t, store.UpsertProfile(ctx, &Profile{
		UserID: "@new:x", Username: "new", Code: "7777",
		CreatedAt: newer, UpdatedAt: newer,
	}))

	got, err := store.GetProfileByCode(ctx, "7777")
	require.NoError(t, err)
	assert.Equal(t, "@new:x", got.UserID, "most recently issued profile should win")
}

func TestStore_ListProfiles_OrderedByUserID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@carol:x", Username: "carol", Code: "3333"}))
	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@alice:x", Username: "alice", Code: "1111"}))
	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@bob:x", Username: "bob", Code: "2222"}))

	profiles, err := store.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "@alice:x", profiles[0].UserID)
	assert.Equal(t, "@bob:x", profiles[1].UserID)
	assert.Equal(t, "@carol:x", profiles[2].UserID)
}

func TestStore_InsertMail_MonotonicIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := &Mail{RecipientID: "@alice:x", SenderName: "bob", Body: "one"}
	require.NoError(t, store.InsertMail(ctx, first))

	second := &Mail{RecipientID: "@alice:x", SenderName: "bob", Body: "two"}
	require.NoError(t, store.InsertMail(ctx, second))

	assert.Greater(t, second.ID, first.ID)
}

func TestStore_ListMailFor_OldestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		require.NoError(t, store.InsertMail(ctx, &Mail{RecipientID: "@alice:x", SenderName: "bob", Body: body}))
	}
	require.NoError(t, store.InsertMail(ctx, &Mail{RecipientID: "@carol:x", SenderName: "bob", Body: "other"}))

	mails, err := store.ListMailFor(ctx, "@alice:x")
	require.NoError(t, err)
	require.Len(t, mails, 3)
	assert.Equal(t, "one", mails[0].Body)
	assert.Equal(t, "two", mails[1].Body)
	assert.Equal(t, "three", mails[2].Body)
}

func TestStore_ListMailFor_EmptyMailbox(t *testing.T) {
	store := setupTestStore(t)

	mails, err := store.ListMailFor(context.Background(), "@alice:x")
	require.NoError(t, err)
	assert.Empty(t, mails)
}

func TestStore_SurvivesReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.UpsertProfile(ctx, &Profile{UserID: "@alice:x", Username: "alice", Code: "4821"}))
	require.NoError(t, store.InsertMail(ctx, &Mail{RecipientID: "@alice:x", SenderName: "bob", Body: "hi"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetProfileByUser(ctx, "@alice:x")
	require.NoError(t, err)
	assert.Equal(t, "4821", got.Code)

	mails, err := reopened.ListMailFor(ctx, "@alice:x")
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.Equal(t, "hi", mails[0].Body)
}

func TestStore_CorruptFileResetsToEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	// Not a SQLite file at all
	require.NoError(t, os.WriteFile(dbPath, []byte("this is not a database"), 0644))

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err, "corrupt file must not prevent startup")
	defer store.Close()

	count, err := store.CountProfiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "store should start empty after reset")

	// The bad file is quarantined, not destroyed
	quarantined, err := filepath.Glob(dbPath + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
}
