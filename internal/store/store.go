// Package store implements Phaser's durable persistence layer (§4.1): atomic
// file writes, advisory locking, schema versioning, and the on-disk layout
// under a resolved `.phaser/` root.
package store

import (
	"os"
	"path/filepath"

	"github.com/jpsweeney97/phaser/internal/phaserr"
)

const (
	storageDirName = ".phaser"
	storageDirEnv  = "PHASER_STORAGE_DIR"

	auditsFile       = "audits.json"
	eventsFile       = "events.json"
	configFile       = "config.yaml"
	simulationFile   = "simulation.yaml"
	branchesFile     = "branches.yaml"
	replaysFile      = "replays.json"
	contractsDir     = "contracts"
	manifestsDir     = "manifests"
	negotiateDir     = "negotiate"
	analyticsDir     = "analytics"
	analyticsIndex   = "index.json"
	analyticsRunsDir = "executions"
)

// Store is a handle onto one resolved `.phaser/` root. It carries no
// process-wide state; every component that needs persistence is handed a
// Store explicitly (§9 "no process-wide singleton").
type Store struct {
	root string
}

// Open resolves the storage root per §4.1's precedence (env override,
// nearest project-local `.phaser/`, global `~/.phaser/`) and returns a Store
// bound to it. The directory tree is created if absent.
func Open(startDir string) (*Store, error) {
	root, err := resolveRoot(startDir)
	if err != nil {
		return nil, err
	}
	if err := ensureLayout(root); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Root returns the resolved `.phaser/` directory absolute path.
func (s *Store) Root() string { return s.root }

func resolveRoot(startDir string) (string, error) {
	if override := os.Getenv(storageDirEnv); override != "" {
		return override, nil
	}

	dir := startDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", phaserr.Wrap(phaserr.Resource, err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", phaserr.Wrap(phaserr.Resource, err)
	}

	for {
		candidate := filepath.Join(dir, storageDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", phaserr.Wrap(phaserr.Resource, err)
	}
	return filepath.Join(home, storageDirName), nil
}

func ensureLayout(root string) error {
	dirs := []string{
		root,
		filepath.Join(root, contractsDir),
		filepath.Join(root, manifestsDir),
		filepath.Join(root, negotiateDir),
		filepath.Join(root, analyticsDir),
		filepath.Join(root, analyticsDir, analyticsRunsDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return phaserr.Wrap(phaserr.Resource, err)
		}
	}
	return nil
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}
