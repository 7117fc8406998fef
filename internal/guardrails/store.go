package guardrails

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/paths"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheCleanup = 10 * time.Minute
)

// Store appends to and reads from per-project guardrail files.
// It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCacheTTL sets how long parsed files are kept.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.cache = cache.New(ttl, 2*ttl) }
}

// NewStore creates a Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		locks: make(map[string]*sync.Mutex),
		cache: cache.New(defaultCacheTTL, defaultCacheCleanup),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// Append adds g to the project's guardrails file and returns it with ID and
// CreatedAt filled in. Existing entries are never rewritten.
func (s *Store) Append(ctx context.Context, projectPath string, g Guardrail) (Guardrail, error) {
	if err := ctx.Err(); err != nil {
		return Guardrail{}, err
	}
	if g.Title == "" || g.Instruction == "" {
		return Guardrail{}, errors.New("guardrail needs a title and an instruction")
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now().UTC().Truncate(time.Second)
	}

	path := paths.GuardrailsPath(projectPath)
	l := s.lockFor(path)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return Guardrail{}, fmt.Errorf("creating guardrails directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // project-relative path
	if err != nil {
		return Guardrail{}, fmt.Errorf("opening guardrails file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Guardrail{}, fmt.Errorf("stat guardrails file: %w", err)
	}
	block := g.Markdown()
	if info.Size() == 0 {
		block = FileHeader + "\n" + block
	}
	if _, err := f.WriteString(block); err != nil {
		return Guardrail{}, fmt.Errorf("writing guardrail: %w", err)
	}

	s.cache.Delete(path)
	log.Info(log.CatSession, "guardrail added", "project", projectPath, "title", g.Title, "id", g.ID)
	return g, nil
}

// Load returns every guardrail for the project in insertion order. A missing
// file yields an empty list.
func (s *Store) Load(ctx context.Context, projectPath string) ([]Guardrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := paths.GuardrailsPath(projectPath)
	if cached, ok := s.cache.Get(path); ok {
		return clone(cached.([]Guardrail)), nil
	}

	l := s.lockFor(path)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // project-relative path
	if errors.Is(err, fs.ErrNotExist) {
		return []Guardrail{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading guardrails: %w", err)
	}

	gs := Parse(string(data))
	s.cache.Set(path, gs, cache.DefaultExpiration)
	return clone(gs), nil
}

// Invalidate drops any cached copy of the project's guardrails, for callers
// that know the file was edited by hand.
func (s *Store) Invalidate(projectPath string) {
	s.cache.Delete(paths.GuardrailsPath(projectPath))
}

func clone(gs []Guardrail) []Guardrail {
	out := make([]Guardrail, len(gs))
	copy(out, gs)
	return out
}
