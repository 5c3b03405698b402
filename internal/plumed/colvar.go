package plumed

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrEmptyColvar = errors.New("plumed: COLVAR has no data rows")

// Colvar holds the field names and the last data row of a COLVAR file.
type Colvar struct {
	Fields []string
	Last   []float64
}

// Value returns the last recorded value of field.
func (c *Colvar) Value(field string) (float64, bool) {
	for i, f := range c.Fields {
		if f == field && i < len(c.Last) {
			return c.Last[i], true
		}
	}
	return 0, false
}

// ReadColvar parses "#! FIELDS" headers and keeps the final row.
func ReadColvar(r io.Reader) (*Colvar, error) {
	c := &Colvar{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "#! FIELDS"); ok {
			c.Fields = strings.Fields(rest)
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("plumed: bad COLVAR value %q", f)
			}
			row[i] = v
		}
		c.Last = row
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if c.Last == nil {
		return nil, ErrEmptyColvar
	}
	return c, nil
}
