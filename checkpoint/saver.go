// Package checkpoint persists tagged snapshots of model weights and keeps
// only the most recent ones.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"prognet/utils"
)

// DefaultMaxToKeep is the retention used when none is given.
const DefaultMaxToKeep = 5

// IndexFile lists the retained checkpoints of a model directory.
const IndexFile = "checkpoint.json"

// Entry is one retained checkpoint.
type Entry struct {
	Tag     int       `json:"tag"`
	Path    string    `json:"path"`
	SavedAt time.Time `json:"saved_at"`
}

// Index is the on-disk list of retained checkpoints, oldest first.
type Index struct {
	RunID       string  `json:"run_id"`
	Checkpoints []Entry `json:"checkpoints"`
}

// Saver writes checkpoints into one directory. Saving a tag that already
// exists overwrites it and makes it the most recent.
type Saver struct {
	dir       string
	maxToKeep int
	index     Index
}

func NewSaver(dir string, maxToKeep int, runID string) (*Saver, error) {
	if maxToKeep <= 0 {
		maxToKeep = DefaultMaxToKeep
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &Saver{dir: dir, maxToKeep: maxToKeep, index: Index{RunID: runID}}, nil
}

// Dir is the directory checkpoints are written to.
func (s *Saver) Dir() string { return s.dir }

// Path is the file a checkpoint with the given tag is written to.
func (s *Saver) Path(tag int) string {
	return filepath.Join(s.dir, fmt.Sprintf("model.ckpt-%d.json", tag))
}

// Save writes weights under tag and prunes checkpoints beyond the
// retention limit.
func (s *Saver) Save(tag int, weights *utils.ModelWeights) (string, error) {
	path := s.Path(tag)
	weights.Tag = tag
	if weights.RunID == "" {
		weights.RunID = s.index.RunID
	}
	if err := utils.SaveWeights(path, weights); err != nil {
		return "", fmt.Errorf("checkpoint %d: %w", tag, err)
	}

	kept := s.index.Checkpoints[:0]
	for _, e := range s.index.Checkpoints {
		if e.Tag != tag {
			kept = append(kept, e)
		}
	}
	kept = append(kept, Entry{Tag: tag, Path: path, SavedAt: time.Now()})
	for len(kept) > s.maxToKeep {
		if err := os.Remove(kept[0].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("prune checkpoint %d: %w", kept[0].Tag, err)
		}
		kept = kept[1:]
	}
	s.index.Checkpoints = kept

	if err := s.writeIndex(); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Saver) writeIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint index: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, IndexFile), data, 0644)
}

// Checkpoints returns the retained checkpoints, oldest first.
func (s *Saver) Checkpoints() []Entry {
	return append([]Entry(nil), s.index.Checkpoints...)
}

// Latest returns the most recent checkpoint.
func (s *Saver) Latest() (Entry, bool) {
	if len(s.index.Checkpoints) == 0 {
		return Entry{}, false
	}
	return s.index.Checkpoints[len(s.index.Checkpoints)-1], true
}

// LoadIndex reads the checkpoint index of dir.
func LoadIndex(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint index: %w", err)
	}
	return &idx, nil
}

// Latest returns the path of the most recent checkpoint in dir.
func Latest(dir string) (string, error) {
	idx, err := LoadIndex(dir)
	if err != nil {
		return "", err
	}
	if len(idx.Checkpoints) == 0 {
		return "", fmt.Errorf("no checkpoints in %s", dir)
	}
	return idx.Checkpoints[len(idx.Checkpoints)-1].Path, nil
}
