// Package gfserver runs a local gfServer over a reference and queries it with
// primer pairs for in-silico PCR.
package gfserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jjtimmons/pcrdesign/config"
	"github.com/jjtimmons/pcrdesign/internal/command"
	"github.com/jjtimmons/pcrdesign/internal/metrics"
	"github.com/jjtimmons/pcrdesign/internal/primer"
)

var (
	// ErrRetriesExhausted is returned when every pcr attempt wrote to stderr
	ErrRetriesExhausted = errors.New("gfServer retries exhausted")

	// ErrPortInUse is returned when another server in this process holds the port
	ErrPortInUse = errors.New("gfServer port in use")
)

// ports are the ports claimed by servers in this process
var ports = struct {
	sync.Mutex
	claimed map[int]bool
}{claimed: make(map[int]bool)}

func claim(port int) error {
	ports.Lock()
	defer ports.Unlock()
	if ports.claimed[port] {
		return fmt.Errorf("%w: %d", ErrPortInUse, port)
	}
	ports.claimed[port] = true
	return nil
}

func release(port int) {
	ports.Lock()
	defer ports.Unlock()
	delete(ports.claimed, port)
}

// Server is a gfServer process on localhost
type Server struct {
	// Executable is the path to gfServer
	Executable string

	// FaToTwoBit is the path to faToTwoBit
	FaToTwoBit string

	// Port to serve on
	Port int

	// MaxDistance is the max product size of a pcr query
	MaxDistance int

	// Trials is the number of attempts per pcr query
	Trials int

	// RetryDelay is the pause between attempts
	RetryDelay time.Duration

	// StopTimeout is how long Stop waits for the process to exit before killing it
	StopTimeout time.Duration

	Cmd     command.Runner
	Starter command.Starter
	Logger  *slog.Logger

	mu     sync.Mutex
	proc   command.Process
	exited chan struct{}
}

// New creates a Server from the gfserver settings. It isn't started
func New(c *config.Config, cmd command.Runner, starter command.Starter, logger *slog.Logger) *Server {
	if cmd == nil {
		cmd = command.Exec{}
	}
	if starter == nil {
		starter = command.Exec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Executable:  c.GfServer.Executable,
		FaToTwoBit:  c.GfServer.FaToTwoBit,
		Port:        c.GfServer.Port,
		MaxDistance: c.GfServer.MaxDistance,
		Trials:      c.GfServer.Trials,
		RetryDelay:  c.GfServer.RetryDelay,
		StopTimeout: 5 * time.Second,
		Cmd:         cmd,
		Starter:     starter,
		Logger:      logger,
	}
}

// TwoBitPath is where the 2bit version of a FASTA file is written
func TwoBitPath(fastaPath string) string {
	if strings.HasSuffix(fastaPath, ".fa") {
		return strings.TrimSuffix(fastaPath, ".fa") + ".2bit"
	}
	return fastaPath + ".2bit"
}

// Start converts the reference to 2bit, if that hasn't been done, and launches gfServer over it
func (s *Server) Start(ctx context.Context, referenceFasta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return fmt.Errorf("gfServer already started on port %d", s.Port)
	}
	if err := claim(s.Port); err != nil {
		return err
	}

	twoBit, err := s.convert(ctx, referenceFasta)
	if err != nil {
		release(s.Port)
		return err
	}

	proc, err := s.Starter.Start(
		ctx,
		s.Executable,
		"-canStop",
		"-stepSize=5",
		"start", "localhost", strconv.Itoa(s.Port),
		twoBit,
	)
	if err != nil {
		release(s.Port)
		return fmt.Errorf("failed to start gfServer: %w", err)
	}

	s.proc = proc
	s.exited = make(chan struct{})
	go func(exited chan struct{}) {
		err := proc.Wait()
		s.Logger.Debug("gfServer exited", "port", s.Port, "error", err)
		close(exited)
	}(s.exited)

	s.Logger.Info("started gfServer", "port", s.Port, "reference", twoBit)
	return nil
}

// convert writes the 2bit file for referenceFasta if it doesn't exist and returns its path
func (s *Server) convert(ctx context.Context, referenceFasta string) (string, error) {
	twoBit := TwoBitPath(referenceFasta)
	if _, err := os.Stat(twoBit); err == nil {
		return twoBit, nil
	}

	res, err := s.Cmd.Run(ctx, nil, s.FaToTwoBit, referenceFasta, twoBit)
	if err != nil {
		return "", fmt.Errorf("failed to execute faToTwoBit: %w", err)
	}
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" || res.ExitCode != 0 {
		return "", fmt.Errorf("failed to convert %s to 2bit: exit status %d: %s", filepath.Base(referenceFasta), res.ExitCode, stderr)
	}
	return twoBit, nil
}

// Call runs an in-silico PCR with the pair. Attempts that write to stderr, as happens
// while the server is still loading, are retried up to Trials times
func (s *Server) Call(ctx context.Context, pair primer.Pair) (*Response, error) {
	args := []string{
		"pcr", "localhost", strconv.Itoa(s.Port),
		pair.Forward.Seq, pair.Reverse.Seq,
		strconv.Itoa(s.MaxDistance),
	}

	trials := s.Trials
	if trials < 1 {
		trials = 1
	}

	var stderr string
	for i := 0; i < trials; i++ {
		if i > 0 {
			metrics.PCRRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.done():
				return nil, fmt.Errorf("gfServer on port %d exited: %s", s.Port, stderr)
			case <-time.After(s.RetryDelay):
			}
		}

		res, err := s.Cmd.Run(ctx, nil, s.Executable, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to execute gfServer pcr: %w", err)
		}

		stderr = strings.TrimSpace(res.Stderr)
		if stderr == "" {
			return ParseResponse(res.Stdout), nil
		}
	}

	s.Logger.Warn("gfServer pcr failed", "forward", pair.Forward.Seq, "reverse", pair.Reverse.Seq, "trials", trials, "stderr", stderr)
	return nil, fmt.Errorf("%w after %d trials: %s", ErrRetriesExhausted, trials, stderr)
}

// done is closed once the server process exits. It's nil, and never ready, if the server wasn't started
func (s *Server) done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited == nil {
		return nil
	}
	return s.exited
}

// Stop asks gfServer to stop, killing it if it hasn't exited once ctx ends, and releases the port
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return nil
	}
	defer func() {
		s.proc = nil
		release(s.Port)
	}()

	res, err := s.Cmd.Run(ctx, nil, s.Executable, "stop", "localhost", strconv.Itoa(s.Port))
	if err == nil && res.ExitCode == 0 {
		select {
		case <-s.exited:
			return nil
		case <-ctx.Done():
		case <-time.After(s.StopTimeout):
		}
	}

	s.Logger.Warn("gfServer did not stop, killing it", "port", s.Port)
	if err := s.proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill gfServer on port %d: %w", s.Port, err)
	}
	<-s.exited
	return nil
}
