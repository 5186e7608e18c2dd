package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
)

const eventsSchemaVersion = 1

type eventsWrapper struct {
	Version int           `json:"version"`
	Events  []types.Event `json:"events"`
}

func (s *Store) loadEvents() (*eventsWrapper, error) {
	data, err := readLocked(s.path(eventsFile))
	if err != nil {
		return nil, err
	}
	w := &eventsWrapper{Version: eventsSchemaVersion}
	if len(data) == 0 {
		return w, nil
	}
	if err := json.Unmarshal(data, w); err != nil {
		return nil, phaserr.Wrap(phaserr.Validation, err)
	}
	return w, nil
}

func (s *Store) saveEvents(w *eventsWrapper) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	return writeLocked(s.path(eventsFile), data)
}

// AppendEvent assigns an ID and timestamp if absent and atomically appends
// the event to events.json (§4.1, §4.2). The write takes the file's
// exclusive lock for the whole read-modify-write so concurrent appends never
// interleave partial writes.
func (s *Store) AppendEvent(event types.Event) (types.Event, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	}

	w, err := s.loadEvents()
	if err != nil {
		return event, err
	}
	w.Events = append(w.Events, event)
	if err := s.saveEvents(w); err != nil {
		return event, err
	}
	return event, nil
}

// EventFilter selects a subset of the event log (§4.1).
type EventFilter struct {
	AuditID string
	Type    types.EventType
	Since   *time.Time
}

func (f EventFilter) matches(e types.Event) bool {
	if f.AuditID != "" && e.AuditID != f.AuditID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// GetEvents returns events matching filter, sorted by timestamp ascending
// with ties broken by log insertion order (§4.2 Ordering).
func (s *Store) GetEvents(filter EventFilter) ([]types.Event, error) {
	w, err := s.loadEvents()
	if err != nil {
		return nil, err
	}
	type indexed struct {
		idx int
		ev  types.Event
	}
	var matched []indexed
	for i, e := range w.Events {
		if filter.matches(e) {
			matched = append(matched, indexed{i, e})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := matched[i].ev.Timestamp, matched[j].ev.Timestamp
		if ti.Equal(tj) {
			return matched[i].idx < matched[j].idx
		}
		return ti.Before(tj)
	})
	out := make([]types.Event, len(matched))
	for i, m := range matched {
		out[i] = m.ev
	}
	return out, nil
}

// ClearEvents removes events older than before (if set), then additionally
// trims to retentionDays/maxEvents from config, returning the count removed
// (§4.1).
func (s *Store) ClearEvents(before *time.Time, retentionDays, maxEvents int) (int, error) {
	w, err := s.loadEvents()
	if err != nil {
		return 0, err
	}
	original := len(w.Events)

	cutoff := before
	if retentionDays > 0 {
		rc := time.Now().UTC().AddDate(0, 0, -retentionDays)
		if cutoff == nil || rc.After(*cutoff) {
			cutoff = &rc
		}
	}

	kept := w.Events[:0:0]
	for _, e := range w.Events {
		if cutoff != nil && e.Timestamp.Before(*cutoff) {
			continue
		}
		kept = append(kept, e)
	}

	if maxEvents > 0 && len(kept) > maxEvents {
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
		kept = kept[len(kept)-maxEvents:]
	}

	w.Events = kept
	if err := s.saveEvents(w); err != nil {
		return 0, err
	}
	return original - len(kept), nil
}
