package store

import (
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jpsweeney97/phaser/internal/phaserr"
)

// AbsPath resolves a path relative to the store root, for components that
// need direct filesystem access (e.g. deciding whether to create a file).
func (s *Store) AbsPath(rel ...string) string {
	return s.path(rel...)
}

// Exists reports whether the given store-relative path exists.
func (s *Store) Exists(rel ...string) bool {
	_, err := os.Stat(s.path(rel...))
	return err == nil
}

// Remove deletes a store-relative path if present; absence is not an error.
func (s *Store) Remove(rel ...string) error {
	err := os.Remove(s.path(rel...))
	if err != nil && !os.IsNotExist(err) {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	return nil
}

// WriteYAML atomically writes v as YAML to a store-relative path, under an
// exclusive lock.
func (s *Store) WriteYAML(v interface{}, rel ...string) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	return writeLocked(s.path(rel...), data)
}

// ReadYAML reads and unmarshals a store-relative YAML file into v, under a
// shared lock. Returns found=false if the file does not exist.
func (s *Store) ReadYAML(v interface{}, rel ...string) (bool, error) {
	data, err := readLocked(s.path(rel...))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, phaserr.Wrap(phaserr.Validation, err)
	}
	return true, nil
}

// WriteJSON atomically writes v as indented JSON to a store-relative path.
func (s *Store) WriteJSON(v interface{}, rel ...string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	return writeLocked(s.path(rel...), data)
}

// ReadJSON reads and unmarshals a store-relative JSON file into v.
func (s *Store) ReadJSON(v interface{}, rel ...string) (bool, error) {
	data, err := readLocked(s.path(rel...))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, phaserr.Wrap(phaserr.Validation, err)
	}
	return true, nil
}

// ListDir returns the base names of entries directly under a store-relative
// directory, or nil if it does not exist.
func (s *Store) ListDir(rel ...string) ([]string, error) {
	entries, err := os.ReadDir(s.path(rel...))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Resource, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Named path helpers for the fixed layout (§4.1 Layout).
func (s *Store) ManifestPath(auditID, which string) []string {
	return []string{manifestsDir, auditID, which + ".yaml"}
}

func (s *Store) ContractPath(id string) []string {
	return []string{contractsDir, id + ".yaml"}
}

func (s *Store) ContractsDirPath() []string {
	return []string{contractsDir}
}

func (s *Store) SimulationPath() []string { return []string{simulationFile} }
func (s *Store) BranchesPath() []string   { return []string{branchesFile} }
func (s *Store) ReplaysPath() []string    { return []string{replaysFile} }

func (s *Store) NegotiatePath(sourceHash string) []string {
	return []string{negotiateDir, sourceHash + ".yaml"}
}

func (s *Store) AnalyticsIndexPath() []string {
	return []string{analyticsDir, analyticsIndex}
}

func (s *Store) AnalyticsExecutionPath(name string) []string {
	return []string{analyticsDir, analyticsRunsDir, name + ".json"}
}

func (s *Store) AnalyticsExecutionsDir() []string {
	return []string{analyticsDir, analyticsRunsDir}
}
