package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ProcessRunner runs each Job in a child process: the job is written to the
// child's stdin as JSON and the results are read from its stdout. The child
// is expected to call ServeWorker.
type ProcessRunner struct {
	Path string   // executable, usually os.Executable()
	Args []string // e.g. []string{"eval-worker", "--config", path}
	Env  []string // nil inherits the parent's environment
	// Stderr receives the child's log output; nil discards it.
	Stderr io.Writer
}

func (p *ProcessRunner) Run(ctx context.Context, job Job) ([]Result, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	cmd.Env = p.Env
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if p.Stderr != nil {
		cmd.Stderr = io.MultiWriter(p.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("worker for %q failed: %w: %s", job.Query, err, lastLine(stderr.String()))
	}

	var results []Result
	if err := json.Unmarshal(stdout.Bytes(), &results); err != nil {
		return nil, fmt.Errorf("failed to decode worker output for %q: %w", job.Query, err)
	}
	return results, nil
}

// ServeWorker is the child side of ProcessRunner: it reads one Job from r,
// runs it and writes the results to w.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, runner Runner) error {
	var job Job
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return fmt.Errorf("failed to decode job: %w", err)
	}

	results, err := runner.Run(ctx, job)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(results); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

// SelfRunner re-executes the current binary with args.
func SelfRunner(args ...string) (*ProcessRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ProcessRunner{Path: exe, Args: args, Stderr: os.Stderr}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
