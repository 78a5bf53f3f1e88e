// Package manifest handles moshell.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a moshell.toml runtime configuration.
type Manifest struct {
	VM      VMConfig      `toml:"vm"`
	History HistoryConfig `toml:"history"`

	// Dir is the directory containing the moshell.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig tunes the execution engine.
type VMConfig struct {
	// StackCapacity is the call stack tape size in bytes.
	StackCapacity int `toml:"stack-capacity"`

	// GCDebug enables the collector's per-cycle trace.
	GCDebug bool `toml:"gc-debug"`
}

// HistoryConfig configures the spawn history store.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load parses a moshell.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "moshell.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a moshell.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "moshell.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Default returns the configuration used when no moshell.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.StackCapacity <= 0 {
		m.VM.StackCapacity = 10000
	}
	if m.History.Enabled && m.History.Path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			m.History.Path = filepath.Join(home, ".moshell", "history.db")
		}
	}
}

// HistoryPath returns the resolved history database path, or "" when history
// is disabled.
func (m *Manifest) HistoryPath() string {
	if !m.History.Enabled {
		return ""
	}
	return m.History.Path
}
