// Package home manages the cwtail home directory layout.
//
// The home directory owns the default locations for persistent state: the
// checkpoint snapshot, the optional SQLite checkpoint database, and the
// file sink output tree.
//
// Layout:
//
//	<root>/
//	  config.yaml        (optional config file picked up when --config is unset)
//	  checkpoint.json    (file checkpoint backend)
//	  checkpoint.db      (sqlite checkpoint backend)
//	  logs/
//	    <group-slug>/
//	      <stream-slug>.log
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a cwtail home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/cwtail
//   - macOS:   ~/Library/Application Support/cwtail
//   - Windows: %APPDATA%/cwtail
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "cwtail")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path of the optional default config file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "config.yaml")
}

// CheckpointPath returns the default path for the checkpoint snapshot.
// ext selects the backend flavour: "json" or "db".
func (d Dir) CheckpointPath(ext string) string {
	return filepath.Join(d.root, "checkpoint."+ext)
}

// LogsDir returns the default output directory of the file sink.
func (d Dir) LogsDir() string {
	return filepath.Join(d.root, "logs")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
