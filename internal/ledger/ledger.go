// Package ledger records every ensemble dispatch in a sqlite database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one dispatch.
type Entry struct {
	ID        string
	System    string
	State     string
	Folder    string
	Dialect   string
	Seeds     string
	Remote    string
	Backup    string
	Commands  []string
	JobIDs    []string
	Status    string
	Error     string
	CreatedAt time.Time
}

const (
	StatusSubmitted = "submitted"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusDryRun    = "dry-run"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func initSchema(db *sql.DB) error {
	const createDispatches = `
CREATE TABLE IF NOT EXISTS dispatches (
  id         TEXT PRIMARY KEY,
  system     TEXT,
  state      TEXT,
  folder     TEXT,
  dialect    TEXT,
  seeds      TEXT,
  remote     TEXT,
  backup     TEXT,
  commands   TEXT,
  job_ids    TEXT,
  status     TEXT,
  created_at TEXT
);`
	if _, err := db.Exec(createDispatches); err != nil {
		return err
	}
	migrations := []string{
		`ALTER TABLE dispatches ADD COLUMN error TEXT`,
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
				continue
			}
			return err
		}
	}
	return nil
}

// Record stores e, assigning an id and timestamp when missing.
func (l *Ledger) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO dispatches (id, system, state, folder, dialect, seeds, remote, backup, commands, job_ids, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.System, e.State, e.Folder, e.Dialect, e.Seeds, e.Remote, e.Backup,
		strings.Join(e.Commands, "\n"), strings.Join(e.JobIDs, ","), e.Status, e.Error,
		e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// List returns the newest entries first; limit <= 0 returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, system, state, folder, dialect, seeds, remote, backup, commands, job_ids, status, COALESCE(error, ''), created_at
	          FROM dispatches ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                Entry
			commands, jobIDs string
			created          string
		)
		if err := rows.Scan(&e.ID, &e.System, &e.State, &e.Folder, &e.Dialect, &e.Seeds, &e.Remote, &e.Backup,
			&commands, &jobIDs, &e.Status, &e.Error, &created); err != nil {
			return nil, err
		}
		e.Commands = splitNonEmpty(commands, "\n")
		e.JobIDs = splitNonEmpty(jobIDs, ",")
		if t, err := time.Parse(timeLayout, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
