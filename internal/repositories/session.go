package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
)

// SessionRepository persists [models.Session] rows.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new [SessionRepository] with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session and sets its ID
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	session.StartedAt = utc(session.StartedAt)
	session.CreatedAt = utc(time.Now())

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (name, started_at, archived, created_at) VALUES (?, ?, ?, ?)`,
		session.Name, session.StartedAt, session.Archived, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}
	session.ID = id
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id int64) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, started_at, archived, created_at FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// List retrieves sessions ordered by start time, newest first
func (r *SessionRepository) List(ctx context.Context, includeArchived bool) ([]*models.Session, error) {
	query := `SELECT id, name, started_at, archived, created_at FROM sessions`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY started_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

// Archive marks a session archived
func (r *SessionRepository) Archive(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE sessions SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %d", shared.ErrSessionNotFound, id))
}

func scanSession(s rowScanner) (*models.Session, error) {
	var session models.Session
	if err := s.Scan(&session.ID, &session.Name, &session.StartedAt, &session.Archived, &session.CreatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}
