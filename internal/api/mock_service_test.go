package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/zjrosen/ralph/internal/guardrails"
	"github.com/zjrosen/ralph/internal/prd"
	"github.com/zjrosen/ralph/internal/pubsub"
	"github.com/zjrosen/ralph/internal/sessions/domain"
)

type mockService struct {
	mock.Mock
}

var _ SessionService = (*mockService)(nil)

func newMockService(t interface {
	mock.TestingT
	Cleanup(func())
}) *mockService {
	m := &mockService{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockService) CreateSession(ctx context.Context, projectPath string, cfg domain.SessionConfig) (domain.Session, error) {
	args := m.Called(ctx, projectPath, cfg)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *mockService) GetSession(ctx context.Context, id string) (domain.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *mockService) ListSessions(ctx context.Context) []domain.Session {
	return m.Called(ctx).Get(0).([]domain.Session)
}

func (m *mockService) StartSession(ctx context.Context, id string) (domain.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *mockService) PauseSession(ctx context.Context, id string) (domain.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *mockService) StopSession(ctx context.Context, id string) (domain.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *mockService) ResetSession(ctx context.Context, id string) (domain.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *mockService) EvictSession(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockService) SetPrd(ctx context.Context, id string, p *prd.Prd) (domain.Session, error) {
	args := m.Called(ctx, id, p)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *mockService) GetGuardrails(ctx context.Context, id string) ([]guardrails.Guardrail, error) {
	args := m.Called(ctx, id)
	gs, _ := args.Get(0).([]guardrails.Guardrail)
	return gs, args.Error(1)
}

func (m *mockService) Subscribe(ctx context.Context) <-chan pubsub.Event[domain.Session] {
	return m.Called(ctx).Get(0).(<-chan pubsub.Event[domain.Session])
}

func (m *mockService) SubscribeActivity(ctx context.Context) <-chan pubsub.Event[domain.Activity] {
	return m.Called(ctx).Get(0).(<-chan pubsub.Event[domain.Activity])
}
