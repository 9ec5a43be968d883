package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/docchat/internal/domain"
)

// SessionRepository persists sessions and their ordered messages
type SessionRepository struct {
	db  *DB
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

// nextTimestamp returns ts, or the smallest instant after the previous one
// handed out, so messages never share a timestamp.
func (r *SessionRepository) nextTimestamp(ts time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ts.IsZero() {
		ts = r.now()
	}
	if !ts.After(r.last) {
		ts = r.last.Add(time.Nanosecond)
	}
	r.last = ts
	return ts
}

// EnsureSession creates the session if it does not exist yet
func (r *SessionRepository) EnsureSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, created_at) VALUES (?, ?)`,
		id, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: create session %s: %v", domain.ErrStorage, id, err)
	}
	return nil
}

// AppendMessage stores a message at the end of its session. ID and
// Timestamp are filled in when empty.
func (r *SessionRepository) AppendMessage(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.Timestamp = r.nextTimestamp(message.Timestamp)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin append: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE session_id = ?`, message.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: session %s: %w", domain.ErrStorage, message.SessionID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: lookup session: %v", domain.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, message.ID, message.SessionID, message.Role, message.Content, message.Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("%w: insert message: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit message: %v", domain.ErrStorage, err)
	}
	return nil
}

// ListMessages returns the messages of a session oldest first
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, session_id, role, content, timestamp
		FROM messages WHERE session_id = ?
		ORDER BY timestamp ASC, seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	messages := []*domain.Message{}
	for rows.Next() {
		message := &domain.Message{}
		var ts int64
		if err := rows.Scan(&message.ID, &message.SessionID, &message.Role,
			&message.Content, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", domain.ErrStorage, err)
		}
		message.Timestamp = time.Unix(0, ts)
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", domain.ErrStorage, err)
	}

	return messages, nil
}

// DeleteSession removes a session and all of its messages in one transaction
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete messages: %v", domain.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete session: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", domain.ErrStorage, err)
	}
	return nil
}

// ListSessionIDs returns every session id in creation order
func (r *SessionRepository) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id FROM sessions ORDER BY created_at ASC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", domain.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", domain.ErrStorage, err)
	}
	return ids, nil
}

// GetSession returns a session by id, or domain.ErrNotFound
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at FROM sessions WHERE session_id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", domain.ErrStorage, err)
	}
	return &domain.Session{ID: id, CreatedAt: time.Unix(0, createdAt)}, nil
}

// Ping checks the underlying database
func (r *SessionRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}
