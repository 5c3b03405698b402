// Package shell runs external programs (plumed, cpptraj, ssh, scp, rsync,
// sbatch, qsub) behind a narrow interface so callers can be tested with a
// recording fake.
package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command is one external program invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Stdin string
}

// String renders the command the way a user would type it.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Executor runs a command and returns its combined output.
type Executor interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// OS runs commands on the local machine.
type OS struct{}

func (OS) Run(ctx context.Context, c Command) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("%s failed: %w: %s", c.Name, err, text)
	}
	return text, nil
}

// Quote single-quotes s for a POSIX shell unless it is plainly safe.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]{}!#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, `'`, `'"'"'`) + "'"
}

// Ssh wraps a remote shell line as "ssh host 'bash -lc <line>'". ssh
// joins its arguments with spaces for the remote shell, so the whole
// remote command travels as one quoted word.
func Ssh(host, line string) Command {
	return Command{Name: "ssh", Args: []string{host, "bash -lc " + Quote(line)}}
}
