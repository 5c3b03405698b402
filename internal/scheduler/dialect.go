// Package scheduler classifies batch job templates and builds the
// commands that submit them as array jobs.
package scheduler

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrUnsupportedScheduler indicates a template without a recognised
// directive marker.
var ErrUnsupportedScheduler = errors.New("scheduler: template has no #SBATCH or #$ directive")

type Dialect int

const (
	Unknown Dialect = iota
	Slurm
	GridEngine
)

func (d Dialect) String() string {
	switch d {
	case Slurm:
		return "slurm"
	case GridEngine:
		return "gridengine"
	}
	return "unknown"
}

// Marker is the directive prefix of the dialect.
func (d Dialect) Marker() string {
	switch d {
	case Slurm:
		return "#SBATCH"
	case GridEngine:
		return "#$"
	}
	return ""
}

// ArrayToken is the environment placeholder holding the array task index.
func (d Dialect) ArrayToken() string {
	switch d {
	case Slurm:
		return "$SLURM_ARRAY_TASK_ID"
	case GridEngine:
		return "$SGE_TASK_ID"
	}
	return ""
}

// WorkDirDirective sets the working directory of the job.
func (d Dialect) WorkDirDirective(dir string) string {
	switch d {
	case Slurm:
		return "#SBATCH --chdir=" + dir
	case GridEngine:
		return "#$ -wd " + dir
	}
	return ""
}

// Detect returns the dialect of the first line carrying a directive marker.
func Detect(lines []string) (Dialect, error) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, Slurm.Marker()):
			return Slurm, nil
		case strings.HasPrefix(line, GridEngine.Marker()):
			return GridEngine, nil
		}
	}
	return Unknown, ErrUnsupportedScheduler
}

// ReadTemplate splits a template into lines.
func ReadTemplate(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func LoadTemplate(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTemplate(f)
}
