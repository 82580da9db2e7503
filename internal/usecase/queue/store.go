package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gracebot/internal/domain"
)

// jobRecord is the persisted {id, data} pair. The id doubles as the
// deduplication key (the inbound message id).
type jobRecord struct {
	ID   string            `json:"id"`
	Data *domain.AgentTask `json:"data"`
}

// store persists one job list as a JSON array. Writes go through a temp
// file plus rename so a crash mid-write can never leave a torn store; a
// reader sees either the old list or the new one.
type store struct {
	path string
}

func newStore(path string) *store {
	return &store{path: path}
}

// load reads the job list. A missing file is an empty list, not an error.
func (s *store) load() ([]jobRecord, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var jobs []jobRecord
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return jobs, nil
}

// save atomically replaces the job list on disk.
func (s *store) save(jobs []jobRecord) error {
	if jobs == nil {
		jobs = []jobRecord{}
	}
	raw, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", s.path, err)
	}
	return nil
}
