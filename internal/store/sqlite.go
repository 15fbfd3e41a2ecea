// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database with WAL and foreign keys and creates the chat schema

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that TEXT comparisons order chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// epoch stands in for a read marker that was never set
var epoch = time.Unix(0, 0).UTC()

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database limited to one connection.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.rekeyPairs(); err != nil {
		db.Close()
		return nil, fmt.Errorf("rekeying conversation pairs: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// buildDSN applies per-connection pragmas. Write transactions take the
// reserved lock up front so concurrent writers wait on busy_timeout instead
// of failing on lock upgrade.
func buildDSN(path string) string {
	params := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + path + "?" + params + "&_pragma=journal_mode(WAL)"
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			profile_picture TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			pair_key TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(pair_key);

		CREATE TABLE IF NOT EXISTS participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id TEXT NOT NULL,
			last_read_at TEXT,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS activity_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_activity_logs_user
			ON activity_logs(user_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_activity_logs_entity
			ON activity_logs(entity_type, entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// rekeyPairs rewrites pair keys stored in an older encoding by recomputing
// them from each conversation's participants
func (s *SQLiteStore) rekeyPairs() error {
	rows, err := s.db.Query(`
		SELECT c.id, c.pair_key, MIN(p.user_id), MAX(p.user_id)
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		GROUP BY c.id
		HAVING COUNT(*) = 2
	`)
	if err != nil {
		return err
	}

	stale := make(map[string]string)
	for rows.Next() {
		var id, key, low, high string
		if err := rows.Scan(&id, &key, &low, &high); err != nil {
			rows.Close()
			return err
		}
		if want := PairKey(low, high); want != key {
			stale[id] = want
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer rollback(tx)
	for id, key := range stale {
		if _, err := tx.Exec(`UPDATE conversations SET pair_key = ? WHERE id = ?`, key, id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("rekeyed conversation pairs", "count", len(stale))
	return nil
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	return t, nil
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "?, ?, ..." for n query arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rollback is used in deferred cleanup; the error is irrelevant after commit
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
