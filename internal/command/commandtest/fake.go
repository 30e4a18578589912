// Package commandtest has a scriptable stand-in for the external tools.
package commandtest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"

	"github.com/jjtimmons/pcrdesign/internal/command"
)

// Call is one recorded invocation
type Call struct {
	Name  string
	Args  []string
	Stdin string
}

// Handler produces the result of a call
type Handler func(ctx context.Context, c Call) (*command.Result, error)

// Fake records calls and answers them with Handler. It implements
// both command.Runner and command.Starter
type Fake struct {
	Handler Handler

	mu      sync.Mutex
	calls   []Call
	started []Call
}

// Run records the call and returns the Handler's result
func (f *Fake) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (*command.Result, error) {
	c := Call{Name: name, Args: append([]string(nil), args...)}
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		c.Stdin = string(b)
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.Handler == nil {
		return &command.Result{}, nil
	}
	return f.Handler(ctx, c)
}

// Start records the call and returns a process that runs until killed
func (f *Fake) Start(ctx context.Context, name string, args ...string) (command.Process, error) {
	f.mu.Lock()
	f.started = append(f.started, Call{Name: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	return &Process{done: make(chan struct{})}, nil
}

// Calls returns every recorded Run call
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Started returns every recorded Start call
func (f *Fake) Started() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.started...)
}

// Count returns the number of Run calls for executables with the given base name
func (f *Fake) Count(base string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if filepath.Base(c.Name) == base {
			n++
		}
	}
	return n
}

// Process is a fake long-lived process
type Process struct {
	once sync.Once
	done chan struct{}
}

// Wait blocks until Kill
func (p *Process) Wait() error {
	<-p.done
	return errors.New("signal: killed")
}

// Kill ends the process
func (p *Process) Kill() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Flag returns the value following flag in args, or "" if it's absent
func Flag(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// Has returns whether flag is in args
func Has(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
