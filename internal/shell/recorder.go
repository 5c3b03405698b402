package shell

import (
	"context"
	"sync"
)

// Recorder is an Executor that records every command instead of running
// it. Handler, when set, decides the output and error of each call.
type Recorder struct {
	Handler func(Command) (string, error)

	mu       sync.Mutex
	commands []Command
}

func (r *Recorder) Run(ctx context.Context, c Command) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()
	if r.Handler == nil {
		return "", nil
	}
	return r.Handler(c)
}

// Commands returns a copy of the recorded commands in call order.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Names returns the program names of the recorded commands.
func (r *Recorder) Names() []string {
	var names []string
	for _, c := range r.Commands() {
		names = append(names, c.Name)
	}
	return names
}
