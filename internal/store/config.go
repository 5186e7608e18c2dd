package store

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jpsweeney97/phaser/internal/config"
	"github.com/jpsweeney97/phaser/internal/phaserr"
)

// GetConfig returns the project/global config.yaml deep-merged over defaults
// (§4.1).
func (s *Store) GetConfig() (map[string]interface{}, error) {
	defaults, err := config.Default().ToMap()
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Internal, err)
	}

	data, err := readLocked(s.path(configFile))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return defaults, nil
	}

	var onDisk map[string]interface{}
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return nil, phaserr.Wrap(phaserr.Validation, err)
	}
	return deepMerge(defaults, onDisk), nil
}

// SetConfig sets dottedKey (e.g. "simulation.auto_stash") to value within the
// deep-merged config and persists only the resulting full map.
func (s *Store) SetConfig(dottedKey string, value interface{}) error {
	cfg, err := s.GetConfig()
	if err != nil {
		return err
	}
	if err := setDotted(cfg, dottedKey, value); err != nil {
		return err
	}
	return s.writeConfigMap(cfg)
}

// ResetConfig truncates config.yaml to empty, reverting get_config to pure
// defaults.
func (s *Store) ResetConfig() error {
	return writeLocked(s.path(configFile), []byte{})
}

func (s *Store) writeConfigMap(m map[string]interface{}) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	return writeLocked(s.path(configFile), data)
}

// deepMerge merges override onto base, recursing into nested maps; scalar
// and slice values in override replace the base value outright.
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		bv, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		bm, bIsMap := asMap(bv)
		ovMap, ovIsMap := asMap(v)
		if bIsMap && ovIsMap {
			out[k] = deepMerge(bm, ovMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[toStringKey(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func toStringKey(k interface{}) string {
	switch v := k.(type) {
	case string:
		return v
	default:
		return strconv.Quote(fmtAny(v))
	}
}

func fmtAny(v interface{}) string {
	return yamlScalar(v)
}

func yamlScalar(v interface{}) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// setDotted walks m by the dot-separated segments of key, creating
// intermediate maps as needed, and sets the final segment to value.
func setDotted(m map[string]interface{}, key string, value interface{}) error {
	segs := strings.Split(key, ".")
	if len(segs) == 0 || segs[0] == "" {
		return phaserr.New(phaserr.Validation, "empty config key")
	}
	cur := m
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(cur[seg])
		if !ok {
			next = map[string]interface{}{}
		}
		cur[seg] = next
		cur = next
	}
	cur[segs[len(segs)-1]] = value
	return nil
}
