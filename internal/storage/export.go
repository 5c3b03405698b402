package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/michellab/AMMo/internal/steering"
)

type ExportData struct {
	RunMetadata
	Steps []steering.ExpandedStep `json:"steps"`
}

// ExportJSON writes the metadata and schedule of a run to path, or to
// stdout when path is empty or "-".
func (s *Store) ExportJSON(runID, path string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	steps, err := s.LoadSchedule(runID)
	if err != nil {
		return err
	}
	data := ExportData{RunMetadata: *meta, Steps: steps}

	if path == "" || path == "-" {
		return encode(os.Stdout, data)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return encode(file, data)
}

func encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
