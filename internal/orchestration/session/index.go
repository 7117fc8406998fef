package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zjrosen/ralph/internal/paths"
	"github.com/zjrosen/ralph/internal/sessions/domain"
)

const (
	// SessionIndexVersion is the current schema version for the session index.
	SessionIndexVersion = "1.0"
)

// SessionIndex lists the sessions that have run against one project. It
// lives in .ralph/sessions.json next to the progress log.
type SessionIndex struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Sessions is the list of all sessions in chronological order.
	Sessions []SessionIndexEntry `json:"sessions"`
}

// SessionIndexEntry contains summary information about a single session.
type SessionIndexEntry struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`

	// EndTime is set once the session reaches a terminal state.
	EndTime time.Time `json:"end_time,omitzero"`

	Status          domain.SessionStatus `json:"status"`
	ExecutionModel  string               `json:"execution_model"`
	Iterations      int                  `json:"iterations"`
	StoriesTotal    int                  `json:"stories_total"`
	StoriesComplete int                  `json:"stories_complete"`
	TotalCommits    int                  `json:"total_commits"`
	LifetimeTokens  int                  `json:"lifetime_tokens"`
	LastError       string               `json:"last_error,omitempty"`
}

func indexEntryFor(s domain.Session) SessionIndexEntry {
	e := SessionIndexEntry{
		ID:              s.ID,
		StartTime:       s.CreatedAt,
		Status:          s.Status,
		ExecutionModel:  s.Config.ExecutionModel,
		Iterations:      s.Iteration,
		StoriesComplete: s.CompletedStories(),
		TotalCommits:    s.Commits,
		LifetimeTokens:  s.Tokens.Lifetime,
		LastError:       s.LastError,
	}
	if s.Prd != nil {
		e.StoriesTotal = len(s.Prd.Stories)
	}
	if s.Status.IsTerminal() {
		e.EndTime = s.UpdatedAt
	}
	return e
}

// LoadSessionIndex loads an existing session index from the given path.
// If the file doesn't exist, it returns an empty index with the current version.
// If the file exists but contains invalid JSON, it returns an error.
func LoadSessionIndex(path string) (*SessionIndex, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is trusted input from caller
	if err != nil {
		if os.IsNotExist(err) {
			return &SessionIndex{
				Version:  SessionIndexVersion,
				Sessions: []SessionIndexEntry{},
			}, nil
		}
		return nil, fmt.Errorf("reading session index: %w", err)
	}

	var index SessionIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing session index: %w", err)
	}
	return &index, nil
}

// SaveSessionIndex writes the session index to the given path using atomic rename.
func SaveSessionIndex(path string, index *SessionIndex) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session index: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating session index directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "sessions.*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary session index file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temporary session index: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temporary session index: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming session index: %w", err)
	}
	return nil
}

var indexMu sync.Mutex

// RecordInIndex upserts s into its project's session index.
func RecordInIndex(s domain.Session) error {
	indexMu.Lock()
	defer indexMu.Unlock()

	path := paths.SessionIndexPath(s.ProjectPath)
	index, err := LoadSessionIndex(path)
	if err != nil {
		return err
	}
	entry := indexEntryFor(s)
	replaced := false
	for i := range index.Sessions {
		if index.Sessions[i].ID == s.ID {
			index.Sessions[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index.Sessions = append(index.Sessions, entry)
	}
	index.Version = SessionIndexVersion
	return SaveSessionIndex(path, index)
}
