package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/ralph/internal/sessions/domain"
)

// sessionRow is one row of the sessions table. The full session is kept as
// JSON in Snapshot; the other columns exist for filtering and history
// listings.
type sessionRow struct {
	ID             string
	Project        string
	Status         string
	ExecutionModel string
	Iteration      int
	LifetimeTokens int
	Commits        int
	LastError      sql.NullString
	Snapshot       string
	CreatedAt      int64 // unix millis
	UpdatedAt      int64 // unix millis
	DeletedAt      sql.NullInt64
}

const sessionColumns = `id, project, status, execution_model, iteration, lifetime_tokens,
	commits, last_error, snapshot, created_at, updated_at, deleted_at`

func toSessionRow(s *domain.Session) (*sessionRow, error) {
	snap, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	r := &sessionRow{
		ID:             s.ID,
		Project:        s.ProjectPath,
		Status:         string(s.Status.Kind),
		ExecutionModel: s.Config.ExecutionModel,
		Iteration:      s.Iteration,
		LifetimeTokens: s.Tokens.Lifetime,
		Commits:        s.Commits,
		Snapshot:       string(snap),
		CreatedAt:      s.CreatedAt.UnixMilli(),
		UpdatedAt:      s.UpdatedAt.UnixMilli(),
	}
	if s.LastError != "" {
		r.LastError = sql.NullString{String: s.LastError, Valid: true}
	}
	return r, nil
}

func (r *sessionRow) toDomain() (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal([]byte(r.Snapshot), &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", r.ID, err)
	}
	// Columns win over the snapshot for the fields they index.
	s.ID = r.ID
	s.ProjectPath = r.Project
	s.CreatedAt = time.UnixMilli(r.CreatedAt)
	s.UpdatedAt = time.UnixMilli(r.UpdatedAt)
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(sc scanner) (*sessionRow, error) {
	var r sessionRow
	err := sc.Scan(&r.ID, &r.Project, &r.Status, &r.ExecutionModel, &r.Iteration, &r.LifetimeTokens,
		&r.Commits, &r.LastError, &r.Snapshot, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
