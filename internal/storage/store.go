// Package storage keeps a history of compiled steering runs: a JSON
// metadata file and a CSV of the expanded schedule per run.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/michellab/AMMo/internal/steering"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Protocol   string             `json:"protocol"`
	Structure  string             `json:"structure"`
	Output     string             `json:"output"`
	Engine     string             `json:"engine"`
	CVs        []string           `json:"cvs"`
	Kinds      []string           `json:"kinds"`
	Baselines  map[string]float64 `json:"baselines"`
	TotalSteps int64              `json:"total_steps"`
	References []string           `json:"references,omitempty"`
}

// Save stores res under a new run id.
func (s *Store) Save(protocolPath, engine string, res *steering.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("steer_%s", now.Format("20060102T150405.000"))
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:         runID,
		Timestamp:  now,
		Protocol:   protocolPath,
		Structure:  res.Structure,
		Output:     res.Output,
		Engine:     engine,
		Baselines:  res.Baselines,
		TotalSteps: res.TotalSteps(),
		References: res.References,
	}
	for _, cv := range res.CVs {
		meta.CVs = append(meta.CVs, cv.ID)
		meta.Kinds = append(meta.Kinds, string(cv.Kind))
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "schedule.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteSchedule(csvFile, meta.CVs, res.Steps); err != nil {
		return "", err
	}
	return runID, nil
}

// WriteSchedule writes one row per step: time, MD step, then the target
// and force of every CV.
func WriteSchedule(out io.Writer, cvs []string, steps []steering.ExpandedStep) error {
	w := csv.NewWriter(out)

	header := []string{"time_ns", "md_step"}
	for _, id := range cvs {
		header = append(header, id+"_at", id+"_kappa")
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, st := range steps {
		row := []string{
			strconv.FormatFloat(st.Time, 'g', -1, 64),
			strconv.FormatInt(st.MDStep, 10),
		}
		for i := range cvs {
			row = append(row,
				strconv.FormatFloat(st.Targets[i], 'g', -1, 64),
				strconv.FormatFloat(st.Forces[i], 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns stored runs, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadSchedule reads back the steps of a run.
func (s *Store) LoadSchedule(runID string) ([]steering.ExpandedStep, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "schedule.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []steering.ExpandedStep{}, nil
	}

	steps := make([]steering.ExpandedStep, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 2 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("schedule time %q: %w", record[0], err)
		}
		md, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("schedule step %q: %w", record[1], err)
		}
		st := steering.ExpandedStep{Time: t, MDStep: md}
		for j := 2; j+1 < len(record); j += 2 {
			at, err1 := strconv.ParseFloat(record[j], 64)
			kappa, err2 := strconv.ParseFloat(record[j+1], 64)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("schedule row at %s: bad value", record[0])
			}
			st.Targets = append(st.Targets, at)
			st.Forces = append(st.Forces, kappa)
		}
		steps = append(steps, st)
	}
	return steps, nil
}
