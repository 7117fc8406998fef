package prd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when no prd.json exists.
var ErrNotFound = errors.New("prd.json not found")

// Load reads and decodes a prd.json file.
func Load(path string) (*Prd, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the project prd.json
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading prd: %w", err)
	}

	var p Prd
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prd %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the PRD as indented JSON using a temp file and rename, so
// agents reading prd.json never observe a partial write.
func Save(path string, p *Prd) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling prd: %w", err)
	}
	data = append(data, '\n')

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".prd.*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary prd file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temporary prd file: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temporary prd file: %w", closeErr)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil { //nolint:gosec // prd.json is committed project content
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting prd permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming prd file: %w", err)
	}
	return nil
}
