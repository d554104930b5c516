// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides profile/mail persistence with automatic schema creation and corrupt-file recovery

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
//
// If an existing database file is unreadable or fails its integrity check,
// it is moved aside to <path>.corrupt-<timestamp> and an empty store is
// created in its place. Availability wins over preservation: the bot must
// come back up after a bad shutdown. The reset is logged as a recoverable
// event, never a fatal one. Only failure to create the fresh store is fatal.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := openAndInit(path)
	if err != nil {
		if path == ":memory:" {
			return nil, err
		}
		if _, statErr := os.Stat(path); statErr != nil {
			// Nothing on disk to recover from
			return nil, err
		}

		quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		logger.Warn("database unreadable, resetting to empty store",
			"path", path,
			"moved_to", quarantine,
			"error", err,
		)
		if mvErr := os.Rename(path, quarantine); mvErr != nil {
			return nil, fmt.Errorf("quarantining corrupt database: %w", mvErr)
		}
		removeSidecars(path)

		db, err = openAndInit(path)
		if err != nil {
			return nil, fmt.Errorf("recreating database after reset: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// openAndInit opens the database, verifies it is readable, and creates the
// schema. Any error here means the file cannot be used as-is.
func openAndInit(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	var verdict string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&verdict); err != nil {
		db.Close()
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	if verdict != "ok" {
		db.Close()
		return nil, fmt.Errorf("integrity check failed: %s", verdict)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return db, nil
}

// createSchema creates the database tables if they don't exist.
// Codes deliberately carry no UNIQUE constraint: the directory re-draws on
// collision before assigning, and GetProfileByCode resolves any residual
// duplicate deterministically (newest wins).
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			user_id    TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			code       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_code ON profiles(code);

		CREATE TABLE IF NOT EXISTS mails (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient_id TEXT NOT NULL,
			sender_name  TEXT NOT NULL,
			body         TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mails_recipient ON mails(recipient_id, id);
	`

	_, err := db.Exec(schema)
	return err
}

// removeSidecars deletes WAL/SHM files left next to a quarantined database.
func removeSidecars(path string) {
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertProfile replaces the profile for profile.UserID if one exists,
// else inserts it. The ON CONFLICT clause makes the replace atomic per
// user: concurrent upserts for the same user race harmlessly to last write
// wins, and upserts for different users never touch each other's row.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *Profile) error {
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = now
	}

	query := `
		INSERT INTO profiles (user_id, username, code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username   = excluded.username,
			code       = excluded.code,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		profile.UserID,
		profile.Username,
		profile.Code,
		profile.CreatedAt.UTC().Format(time.RFC3339),
		profile.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}

	s.logger.Debug("upserted profile", "user_id", profile.UserID)
	return nil
}

// GetProfileByUser retrieves the profile for a user.
// Returns ErrNotFound if the user has never issued a profile.
func (s *SQLiteStore) GetProfileByUser(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT user_id, username, code, created_at, updated_at
		FROM profiles
		WHERE user_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, userID)
	return scanProfile(row)
}

// GetProfileByCode resolves a code to the profile holding it.
// If more than one profile holds the code (possible across a crash window,
// since codes have no unique constraint), the most recently issued profile
// wins. Returns ErrNotFound if no profile holds the code.
func (s *SQLiteStore) GetProfileByCode(ctx context.Context, code string) (*Profile, error) {
	query := `
		SELECT user_id, username, code, created_at, updated_at
		FROM profiles
		WHERE code = ?
		ORDER BY updated_at DESC, rowid DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, code)
	return scanProfile(row)
}

// rowScanner lets scanProfile work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var createdAtStr, updatedAtStr string

	err := row.Scan(&p.UserID, &p.Username, &p.Code, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}

	p.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &p, nil
}

// ListProfiles returns every profile ordered by user ID ascending.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	query := `
		SELECT user_id, username, code, created_at, updated_at
		FROM profiles
		ORDER BY user_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profile rows: %w", err)
	}
	return profiles, nil
}

// CountProfiles returns the number of users holding a profile.
func (s *SQLiteStore) CountProfiles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting profiles: %w", err)
	}
	return count, nil
}

// InsertMail persists a mail record and sets mail.ID to the assigned
// monotonically increasing identifier.
func (s *SQLiteStore) InsertMail(ctx context.Context, mail *Mail) error {
	if mail.CreatedAt.IsZero() {
		mail.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO mails (recipient_id, sender_name, body, created_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		mail.RecipientID,
		mail.SenderName,
		mail.Body,
		mail.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting mail: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading mail id: %w", err)
	}
	mail.ID = id

	s.logger.Debug("inserted mail", "mail_id", id, "recipient", mail.RecipientID)
	return nil
}

// ListMailFor returns all mail for a recipient in insertion order (oldest
// first). A recipient with no mail gets an empty slice, not an error.
func (s *SQLiteStore) ListMailFor(ctx context.Context, userID string) ([]*Mail, error) {
	query := `
		SELECT id, recipient_id, sender_name, body, created_at
		FROM mails
		WHERE recipient_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying mail: %w", err)
	}
	defer rows.Close()

	var mails []*Mail
	for rows.Next() {
		var m Mail
		var createdAtStr string

		if err := rows.Scan(&m.ID, &m.RecipientID, &m.SenderName, &m.Body, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning mail row: %w", err)
		}

		m.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing mail created_at: %w", err)
		}

		mails = append(mails, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mail rows: %w", err)
	}
	return mails, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
