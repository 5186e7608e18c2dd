package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
)

const auditsSchemaVersion = 1

// auditsFile is the top-level wrapper persisted to audits.json. Audits are
// kept as generic maps, not typed structs, so that update_audit's "unknown
// fields preserved" contract (§4.1) holds even for fields this binary does
// not yet know about.
type auditsWrapper struct {
	Version int                      `json:"version"`
	Audits  []map[string]interface{} `json:"audits"`
}

func (s *Store) loadAudits() (*auditsWrapper, error) {
	data, err := readLocked(s.path(auditsFile))
	if err != nil {
		return nil, err
	}
	w := &auditsWrapper{Version: auditsSchemaVersion}
	if len(data) == 0 {
		return w, nil
	}
	if err := json.Unmarshal(data, w); err != nil {
		return nil, phaserr.Wrap(phaserr.Validation, err)
	}
	if w.Version < auditsSchemaVersion {
		w.Version = auditsSchemaVersion // no migrations registered yet; additive only
	}
	return w, nil
}

func (s *Store) saveAudits(w *auditsWrapper) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	return writeLocked(s.path(auditsFile), data)
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func mapToAudit(m map[string]interface{}) (*types.Audit, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Internal, err)
	}
	var a types.Audit
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, phaserr.Wrap(phaserr.Validation, err)
	}
	return &a, nil
}

// SaveAudit appends a new audit record, assigning it a UUID if it does not
// already have one, and returns the assigned ID (§4.1).
func (s *Store) SaveAudit(audit *types.Audit) (string, error) {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	audit.Version = auditsSchemaVersion

	w, err := s.loadAudits()
	if err != nil {
		return "", err
	}
	m, err := toMap(audit)
	if err != nil {
		return "", phaserr.Wrap(phaserr.Internal, err)
	}
	w.Audits = append(w.Audits, m)
	if err := s.saveAudits(w); err != nil {
		return "", err
	}
	return audit.ID, nil
}

// GetAudit returns the audit with the given ID, or (nil, false, nil) if no
// such audit exists. Unknown audit IDs never produce an error (§4.1).
func (s *Store) GetAudit(id string) (*types.Audit, bool, error) {
	w, err := s.loadAudits()
	if err != nil {
		return nil, false, err
	}
	for _, m := range w.Audits {
		if fmtID(m["id"]) == id {
			a, err := mapToAudit(m)
			if err != nil {
				return nil, false, err
			}
			return a, true, nil
		}
	}
	return nil, false, nil
}

// ListAudits returns every audit, optionally filtered to one project path,
// sorted by started_at descending (§4.1).
func (s *Store) ListAudits(project string) ([]*types.Audit, error) {
	w, err := s.loadAudits()
	if err != nil {
		return nil, err
	}
	var out []*types.Audit
	for _, m := range w.Audits {
		a, err := mapToAudit(m)
		if err != nil {
			return nil, err
		}
		if project != "" && a.ProjectPath != project {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := startedAt(out[i]), startedAt(out[j])
		return ti.After(tj)
	})
	return out, nil
}

func startedAt(a *types.Audit) time.Time {
	if a.StartedAt == nil {
		return time.Time{}
	}
	return *a.StartedAt
}

// UpdateAudit applies a partial merge of delta onto the stored audit record,
// preserving any field not mentioned in delta (including fields unknown to
// this binary's schema). Returns false if no audit with id exists.
func (s *Store) UpdateAudit(id string, delta map[string]interface{}) (bool, error) {
	w, err := s.loadAudits()
	if err != nil {
		return false, err
	}
	for i, m := range w.Audits {
		if fmtID(m["id"]) != id {
			continue
		}
		for k, v := range delta {
			m[k] = v
		}
		w.Audits[i] = m
		if err := s.saveAudits(w); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func fmtID(v interface{}) string {
	s, _ := v.(string)
	return s
}
