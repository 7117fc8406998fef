package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// sessionRepository implements domain.SessionRepository.
type sessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func newSessionRepository(db *sql.DB) *sessionRepository {
	return &sessionRepository{db: db, now: time.Now}
}

var _ domain.SessionRepository = (*sessionRepository)(nil)

// Save upserts the session. Saving a deleted session restores it.
func (r *sessionRepository) Save(ctx context.Context, s *domain.Session) error {
	row, err := toSessionRow(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		 ON CONFLICT(id) DO UPDATE SET
			project = excluded.project,
			status = excluded.status,
			execution_model = excluded.execution_model,
			iteration = excluded.iteration,
			lifetime_tokens = excluded.lifetime_tokens,
			commits = excluded.commits,
			last_error = excluded.last_error,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		row.ID, row.Project, row.Status, row.ExecutionModel, row.Iteration, row.LifetimeTokens,
		row.Commits, row.LastError, row.Snapshot, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

// FindByID returns the session or SessionNotFoundError. Deleted sessions
// are not found.
func (r *sessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	row, err := scanSessionRow(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.SessionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("finding session %s: %w", id, err)
	}
	return row.toDomain()
}

// List returns sessions matching filter, newest first.
func (r *sessionRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE deleted_at IS NULL`
	var args []any
	if filter.Project != "" {
		query += ` AND project = ?`
		args = append(args, filter.Project)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Session
	for rows.Next() {
		row, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return out, nil
}

// Delete soft-deletes the session.
func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	now := r.now().UnixMilli()
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n == 0 {
		return &domain.SessionNotFoundError{ID: id}
	}
	return nil
}
