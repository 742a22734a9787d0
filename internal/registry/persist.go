package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// persistedFile is the self-describing record format written to disk: a
// name -> ServiceEntry map preserving every field of each entry.
type persistedFile struct {
	Services map[string]model.ServiceEntry `yaml:"services"`
}

// persistSnapshot writes snapshot to path atomically: write-to-`{path}.tmp`,
// fsync, rename over `{path}`.
func persistSnapshot(path string, snapshot map[string]model.ServiceEntry) error {
	data, err := yaml.Marshal(persistedFile{Services: snapshot})
	if err != nil {
		return fmt.Errorf("registry: marshal snapshot: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registry: create persist dir: %w", err)
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("registry: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("registry: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("registry: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("registry: rename temp file over target: %w", err)
	}
	return nil
}

// loadSnapshot reads a previously persisted file. Any read or parse error is
// returned to the caller, who treats it as "start empty and
// log" rather than propagating a fatal error.
func loadSnapshot(path string) (map[string]model.ServiceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read persisted file: %w", err)
	}
	var parsed persistedFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("registry: parse persisted file: %w", err)
	}
	return parsed.Services, nil
}
