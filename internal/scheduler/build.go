package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/michellab/AMMo/internal/seeds"
	"github.com/michellab/AMMo/internal/shell"
)

// SeedToken in a template or payload stands for the array task index.
const SeedToken = "{seed}"

// Job is one dispatch of a template. It is written once to a submission
// artifact and discarded after submission.
type Job struct {
	Dialect    Dialect
	Lines      []string
	WorkDir    string
	ArrayToken string
}

// NewJob detects the dialect of lines.
func NewJob(lines []string, workDir string) (*Job, error) {
	d, err := Detect(lines)
	if err != nil {
		return nil, err
	}
	return &Job{
		Dialect:    d,
		Lines:      append([]string(nil), lines...),
		WorkDir:    workDir,
		ArrayToken: d.ArrayToken(),
	}, nil
}

// HasSeedToken reports whether any template line refers to the seed.
func (j *Job) HasSeedToken() bool {
	for _, l := range j.Lines {
		if strings.Contains(l, SeedToken) {
			return true
		}
	}
	return false
}

// Append adds lines to the end of the script.
func (j *Job) Append(lines ...string) {
	j.Lines = append(j.Lines, lines...)
}

// Script renders the job: the working-directory directive becomes the
// second line and seed tokens become the array index placeholder.
func (j *Job) Script() string {
	var b strings.Builder
	for i, line := range j.Lines {
		if i == 1 {
			b.WriteString(j.Dialect.WorkDirDirective(j.WorkDir))
			b.WriteByte('\n')
		}
		b.WriteString(strings.ReplaceAll(line, SeedToken, j.ArrayToken))
		b.WriteByte('\n')
	}
	if len(j.Lines) == 1 {
		b.WriteString(j.Dialect.WorkDirDirective(j.WorkDir))
		b.WriteByte('\n')
	}
	return b.String()
}

// Build returns the commands submitting script for every seed. Slurm
// takes any index list in one command; Grid Engine needs one command per
// seed unless the set is contiguous.
func Build(job *Job, set seeds.Set, script string) ([]shell.Command, error) {
	if len(set) == 0 {
		return nil, seeds.ErrEmpty
	}
	switch job.Dialect {
	case Slurm:
		return []shell.Command{{Name: "sbatch", Args: []string{"--array=" + set.String(), script}}}, nil
	case GridEngine:
		if set.Contiguous() {
			span := fmt.Sprintf("%d-%d", set.Min(), set.Max())
			return []shell.Command{{Name: "qsub", Args: []string{"-t", span, script}}}, nil
		}
		cmds := make([]shell.Command, 0, len(set))
		for _, s := range set {
			cmds = append(cmds, shell.Command{Name: "qsub", Args: []string{"-t", strconv.Itoa(s), script}})
		}
		return cmds, nil
	}
	return nil, ErrUnsupportedScheduler
}

var (
	slurmJobRe = regexp.MustCompile(`Submitted batch job (\d+)`)
	sgeJobRe   = regexp.MustCompile(`Your job(?:-array)? (\d+)`)
)

// ParseJobID extracts the job id from sbatch or qsub output.
func ParseJobID(d Dialect, out string) (string, error) {
	re := slurmJobRe
	if d == GridEngine {
		re = sgeJobRe
	}
	m := re.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unable to parse %s submission output: %q", d, out)
	}
	return m[1], nil
}
