package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/parcelworks/kbassist/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Every call runs under a bounded
// timeout so a wedged backend surfaces as ErrUnavailable instead of blocking
// the request indefinitely.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLite creates a new SQLite-backed store. opTimeout bounds every
// individual call; zero disables the bound.
func NewSQLite(dbPath string, opTimeout time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, timeout: opTimeout}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_email TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		user_company TEXT NOT NULL DEFAULT '',
		user_division TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		total_queries INTEGER NOT NULL DEFAULT 0,
		escalations INTEGER NOT NULL DEFAULT 0,
		avg_confidence REAL NOT NULL DEFAULT 0,
		confidence_samples INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		ts INTEGER NOT NULL,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ts, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// opCtx bounds a store call with the configured timeout.
func (s *SQLiteStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

// CreateSession stores a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
	INSERT INTO sessions (
		session_id, user_email, user_name, user_company, user_division,
		created_at, last_activity, message_count, status, summary,
		total_queries, escalations, avg_confidence, confidence_samples
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID,
		session.User.Email, session.User.Name, session.User.Company, session.User.Division,
		session.CreatedAt.UnixMilli(), session.LastActivity.UnixMilli(),
		session.MessageCount, string(session.Status), session.Summary,
		session.TotalQueries, session.Escalations,
		session.AvgConfidence, session.ConfidenceSamples,
	)
	return classify("create session", err)
}

const sessionColumns = `session_id, user_email, user_name, user_company, user_division,
	created_at, last_activity, message_count, status, summary,
	total_queries, escalations, avg_confidence, confidence_samples`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	var status string
	var createdAt, lastActivity int64

	err := row.Scan(
		&sess.SessionID,
		&sess.User.Email, &sess.User.Name, &sess.User.Company, &sess.User.Division,
		&createdAt, &lastActivity, &sess.MessageCount, &status, &sess.Summary,
		&sess.TotalQueries, &sess.Escalations,
		&sess.AvgConfidence, &sess.ConfidenceSamples,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.LastActivity = time.UnixMilli(lastActivity)
	return &sess, nil
}

// GetSession retrieves a session by its identifier.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)

	sess, err := scanSession(row)
	if err != nil {
		return nil, classify("get session", err)
	}
	return sess, nil
}

// UpdateSession merges the non-nil fields of upd into the stored record.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error {
	if upd.IsZero() {
		return nil
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.LastActivity != nil {
		set("last_activity", upd.LastActivity.UnixMilli())
	}
	if upd.MessageCount != nil {
		set("message_count", *upd.MessageCount)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.Summary != nil {
		set("summary", *upd.Summary)
	}
	if upd.TotalQueries != nil {
		set("total_queries", *upd.TotalQueries)
	}
	if upd.Escalations != nil {
		set("escalations", *upd.Escalations)
	}
	if upd.AvgConfidence != nil {
		set("avg_confidence", *upd.AvgConfidence)
	}
	if upd.ConfidenceSamples != nil {
		set("confidence_samples", *upd.ConfidenceSamples)
	}

	args = append(args, sessionID)
	query := `UPDATE sessions SET ` + strings.Join(sets, ", ") + ` WHERE session_id = ?`

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("update session", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return classify("update session rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("update session %s: %w", sessionID, errdefs.ErrNotFound)
	}
	return nil
}

// AppendMessage stores a new message, assigning the next per-session
// sequence number.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var metadata any
	if len(message.Metadata) > 0 {
		data, err := json.Marshal(message.Metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		metadata = string(data)
	}

	query := `
	INSERT INTO messages (message_id, session_id, seq, role, content, ts, metadata_json)
	VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		message.MessageID, message.SessionID, message.SessionID,
		string(message.Role), message.Content, message.Timestamp.UnixMilli(), metadata,
	)
	return classify("append message", err)
}

// QueryMessages returns up to limit of the most recent messages for a
// session, in ascending (timestamp, seq) order.
func (s *SQLiteStore) QueryMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// Select the most recent window by descending order, then reverse so the
	// caller always receives chronological order.
	query := `
	SELECT message_id, session_id, seq, role, content, ts, metadata_json
	FROM messages WHERE session_id = ? ORDER BY ts DESC, seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query messages", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var ts int64
		var metadata sql.NullString

		if err := rows.Scan(
			&msg.MessageID, &msg.SessionID, &msg.Seq,
			&role, &msg.Content, &ts, &metadata,
		); err != nil {
			return nil, classify("scan message row", err)
		}

		msg.Role = domain.Role(role)
		msg.Timestamp = time.UnixMilli(ts)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate messages", err)
	}

	// Reverse to ascending.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// StaleSessions returns sessions whose last activity is older than cutoff.
func (s *SQLiteStore) StaleSessions(ctx context.Context, cutoff time.Time) ([]domain.Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE last_activity < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, classify("query stale sessions", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stale session rows", "error", closeErr)
		}
	}()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, classify("scan stale session row", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate stale sessions", err)
	}
	return sessions, nil
}

// DeleteSessionCascade removes the session record and all its messages.
// Deleting a session that does not exist is a no-op. Retries a few times on
// SQLITE_BUSY, which can occur while the sweep races in-flight appends.
func (s *SQLiteStore) DeleteSessionCascade(ctx context.Context, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.deleteSessionCascadeOnce(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !isRetryableConflict(err) {
			break
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("cascade delete hit SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
		}
	}
	return classify("delete session cascade", err)
}

func (s *SQLiteStore) deleteSessionCascadeOnce(ctx context.Context, sessionID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
