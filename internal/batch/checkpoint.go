// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/citation-novelty/pkg/types"
)

// Checkpoint holds the results scored so far, keyed by project id.
type Checkpoint struct {
	Updated time.Time               `yaml:"updated"`
	Results map[string]types.Result `yaml:"results"`
}

// LoadCheckpoint reads a checkpoint file. An empty path or a missing file yields an empty
// checkpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	cp := &Checkpoint{Results: make(map[string]types.Result)}
	if path == "" {
		return cp, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cp, nil
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	if cp.Results == nil {
		cp.Results = make(map[string]types.Result)
	}
	return cp, nil
}

// Save writes the checkpoint atomically through a temporary file.
func (c *Checkpoint) Save(path string) error {
	c.Updated = time.Now().UTC()
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}
