package domain

import "context"

// ListFilter narrows repository listings.
type ListFilter struct {
	Project string
	Status  StatusKind
	Limit   int
}

// SessionRepository persists session snapshots so history survives restarts.
type SessionRepository interface {
	Save(ctx context.Context, s *Session) error
	FindByID(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, filter ListFilter) ([]*Session, error)
	Delete(ctx context.Context, id string) error
}
