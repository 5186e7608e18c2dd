package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

// IndexEntry is one row of a project's analytics/index.json summary (§4.13 Storage).
type IndexEntry struct {
	ExecutionID   string                 `json:"execution_id"`
	DocumentTitle string                 `json:"document_title"`
	Status        types.ExecutionStatus  `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   time.Time              `json:"completed_at"`
	ReportPath    string                 `json:"report_path"`
}

type indexFile struct {
	Version    int          `json:"version"`
	Executions []IndexEntry `json:"executions"`
}

// executionFileName builds the `<ISO-timestamp>-<short-id>` base name a
// record is stored under (§4.1 Layout).
func executionFileName(rec *types.ExecutionRecord) string {
	ts := rec.StartedAt
	if ts.IsZero() {
		ts = rec.ImportedAt
	}
	short := rec.ExecutionID
	if len(short) > 8 {
		short = short[:8]
	}
	return ts.UTC().Format("2006-01-02T150405Z") + "-" + short
}

// Import parses reportContent, assigns an execution ID and imported_at
// timestamp, persists the record and rebuilds the project index (§4.13 Import,
// Storage).
func Import(s *store.Store, reportContent, reportPath string) (*types.ExecutionRecord, error) {
	rec, err := ParseReport(reportContent, reportPath)
	if err != nil {
		return nil, err
	}
	if rec.ExecutionID == "" {
		rec.ExecutionID = uuid.NewString()
	}
	rec.ImportedAt = time.Now().UTC()

	if err := s.WriteJSON(rec, s.AnalyticsExecutionPath(executionFileName(rec))...); err != nil {
		return nil, err
	}
	if err := rebuildIndex(s); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the execution record with the given ID (or unique ID prefix).
func Get(s *store.Store, executionID string) (*types.ExecutionRecord, bool, error) {
	all, err := All(s)
	if err != nil {
		return nil, false, err
	}
	for _, rec := range all {
		if rec.ExecutionID == executionID || strings.HasPrefix(rec.ExecutionID, executionID) {
			return rec, true, nil
		}
	}
	return nil, false, nil
}

// All returns every stored execution record for the current project, in no
// particular order; callers sort/filter via Query.
func All(s *store.Store) ([]*types.ExecutionRecord, error) {
	names, err := s.ListDir(s.AnalyticsExecutionsDir()...)
	if err != nil {
		return nil, err
	}
	var out []*types.ExecutionRecord
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		var rec types.ExecutionRecord
		found, err := s.ReadJSON(&rec, s.AnalyticsExecutionPath(base)...)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// rebuildIndex recomputes analytics/index.json from the on-disk execution
// records (§4.13 Storage: "Deletion removes the file and rebuilds the index").
func rebuildIndex(s *store.Store) error {
	records, err := All(s)
	if err != nil {
		return err
	}
	idx := indexFile{Version: 1}
	for _, r := range records {
		idx.Executions = append(idx.Executions, IndexEntry{
			ExecutionID:   r.ExecutionID,
			DocumentTitle: r.DocumentTitle,
			Status:        r.Status,
			StartedAt:     r.StartedAt,
			CompletedAt:   r.CompletedAt,
			ReportPath:    r.ReportPath,
		})
	}
	sort.Slice(idx.Executions, func(i, j int) bool {
		return idx.Executions[i].StartedAt.After(idx.Executions[j].StartedAt)
	})
	return s.WriteJSON(idx, s.AnalyticsIndexPath()...)
}

// Clear deletes the execution record with the given ID and rebuilds the
// index; it is not an error if the record does not exist.
func Clear(s *store.Store, executionID string) error {
	rec, found, err := Get(s, executionID)
	if err != nil {
		return err
	}
	if found {
		if err := s.Remove(s.AnalyticsExecutionPath(executionFileName(rec))...); err != nil {
			return err
		}
	}
	return rebuildIndex(s)
}

// Query selects a subset of execution records (§4.13 Queries).
type Query struct {
	Limit    int
	Since    *time.Time
	Until    *time.Time
	Status   types.ExecutionStatus
	Document string
}

func (q Query) matches(r *types.ExecutionRecord) bool {
	if q.Since != nil && r.StartedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && r.StartedAt.After(*q.Until) {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.Document != "" && r.AuditDocument != q.Document {
		return false
	}
	return true
}

// List returns records matching q, sorted by started_at descending, capped at
// q.Limit if positive (§4.13 Queries).
func List(s *store.Store, q Query) ([]*types.ExecutionRecord, error) {
	all, err := All(s)
	if err != nil {
		return nil, err
	}
	var out []*types.ExecutionRecord
	for _, r := range all {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Aggregation is the summary statistics produced over a set of records
// (§4.13 Queries).
type Aggregation struct {
	Total              int
	Successful         int
	Partial            int
	Failed             int
	SuccessRate        float64
	DurationMinSeconds float64
	DurationAvgSeconds float64
	DurationMaxSeconds float64
	DurationTotalSeconds float64
	TotalTestDelta     int
	AvgTestDelta       float64
	PhasesExecuted     int
	PhasesCompleted    int
	PhaseSuccessRate   float64
	Earliest           *time.Time
	Latest             *time.Time
}

// Aggregate computes summary statistics over records (§4.13 Queries).
func Aggregate(records []*types.ExecutionRecord) Aggregation {
	var agg Aggregation
	agg.Total = len(records)
	if agg.Total == 0 {
		return agg
	}

	var durations []float64
	for _, r := range records {
		switch r.Status {
		case types.ExecutionSuccess:
			agg.Successful++
		case types.ExecutionPartial:
			agg.Partial++
		case types.ExecutionFailed:
			agg.Failed++
		}

		d := r.DurationSeconds()
		durations = append(durations, d)
		agg.DurationTotalSeconds += d

		agg.TotalTestDelta += r.TestDelta()
		agg.PhasesExecuted += r.PhasesPlanned
		agg.PhasesCompleted += r.PhasesCompleted

		if agg.Earliest == nil || r.StartedAt.Before(*agg.Earliest) {
			t := r.StartedAt
			agg.Earliest = &t
		}
		if agg.Latest == nil || r.StartedAt.After(*agg.Latest) {
			t := r.StartedAt
			agg.Latest = &t
		}
	}

	agg.SuccessRate = float64(agg.Successful) / float64(agg.Total)
	agg.AvgTestDelta = float64(agg.TotalTestDelta) / float64(agg.Total)
	agg.DurationAvgSeconds = agg.DurationTotalSeconds / float64(agg.Total)
	if agg.PhasesExecuted > 0 {
		agg.PhaseSuccessRate = float64(agg.PhasesCompleted) / float64(agg.PhasesExecuted)
	}

	sort.Float64s(durations)
	agg.DurationMinSeconds = durations[0]
	agg.DurationMaxSeconds = durations[len(durations)-1]

	return agg
}

// ProjectEntry is one row of the global registry (~/.phaser/projects.json).
type ProjectEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	LastActivity time.Time `json:"last_activity"`
}

type registryFile struct {
	Version  int            `json:"version"`
	Projects []ProjectEntry `json:"projects"`
}

func registryPath(homeDir string) string {
	return filepath.Join(homeDir, ".phaser", "projects.json")
}

// RegisterProject upserts an entry in the global project registry, used by
// `--global` queries across projects (§4.13 Storage).
func RegisterProject(homeDir, name, path string, lastActivity time.Time) error {
	path = filepath.Clean(path)
	reg, err := loadRegistry(homeDir)
	if err != nil {
		return err
	}
	found := false
	for i, p := range reg.Projects {
		if p.Path == path {
			reg.Projects[i].LastActivity = lastActivity
			reg.Projects[i].Name = name
			found = true
			break
		}
	}
	if !found {
		reg.Projects = append(reg.Projects, ProjectEntry{Name: name, Path: path, LastActivity: lastActivity})
	}
	return saveRegistry(homeDir, reg)
}

// ListProjects returns every project in the global registry.
func ListProjects(homeDir string) ([]ProjectEntry, error) {
	reg, err := loadRegistry(homeDir)
	if err != nil {
		return nil, err
	}
	return reg.Projects, nil
}

func loadRegistry(homeDir string) (*registryFile, error) {
	data, err := os.ReadFile(registryPath(homeDir))
	if os.IsNotExist(err) {
		return &registryFile{Version: 1}, nil
	}
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Resource, err)
	}
	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, phaserr.Wrap(phaserr.Validation, err)
	}
	return &reg, nil
}

// saveRegistry writes reg via the same temp-file-then-rename pattern the
// project store uses for durability (§4.1 Atomicity), since the global
// registry lives outside any single project's `.phaser/` root.
func saveRegistry(homeDir string, reg *registryFile) error {
	dir := filepath.Dir(registryPath(homeDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return phaserr.Wrap(phaserr.Internal, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return phaserr.Wrap(phaserr.Resource, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return phaserr.Wrap(phaserr.Resource, err)
	}
	if err := tmp.Close(); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	return phaserr.Wrap(phaserr.Resource, os.Rename(tmpName, registryPath(homeDir)))
}
