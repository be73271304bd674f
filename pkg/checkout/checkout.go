// Package checkout materialises remote repositories as local working trees
// using the git command line.
package checkout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

type Config struct {
	Dir     string // parent directory for checkouts
	Retries uint64
	Backoff time.Duration
	Logger  *slog.Logger
}

// Git clones repositories and answers ignore-rule queries.
type Git struct {
	config Config
	logger *slog.Logger
}

func New(config Config) *Git {
	if config.Dir == "" {
		config.Dir = "./data"
	}
	if config.Backoff == 0 {
		config.Backoff = time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{config: config, logger: logger}
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// RepoName turns a remote location into the "owner/name" identifier used
// for namespaces and prompts.
func RepoName(remote string) string {
	s := strings.TrimSuffix(strings.TrimRight(remote, "/"), ".git")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "/"); j >= 0 {
			s = s[j+1:]
		}
	} else if i := strings.Index(s, ":"); i >= 0 && strings.Contains(s[:i], "@") {
		s = s[i+1:]
	}
	parts := strings.Split(s, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return s
}

// RemoteURL expands the "owner/name" shorthand to a GitHub https URL.
// Anything else, including local paths, is returned unchanged.
func RemoteURL(remote string) string {
	if strings.Contains(remote, "://") || strings.HasPrefix(remote, "git@") ||
		strings.HasPrefix(remote, "/") || strings.HasPrefix(remote, ".") {
		return remote
	}
	if strings.Count(remote, "/") == 1 {
		return "https://github.com/" + remote + ".git"
	}
	return remote
}

// Checkout returns a local working tree of remote at branch, cloning it
// under the configured directory unless a checkout already exists there.
// Each branch gets its own directory; an empty branch means the remote's
// default branch.
func (g *Git) Checkout(ctx context.Context, remote, branch string) (string, error) {
	dest, err := filepath.Abs(filepath.Join(g.config.Dir, checkoutDirName(remote, branch)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve checkout path: %w", err)
	}

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		g.logger.Info("reusing checkout", "repo", remote, "path", dest)
		return dest, nil
	}

	if err := os.MkdirAll(g.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkout dir: %w", err)
	}

	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, RemoteURL(remote), dest)

	b := retry.WithMaxRetries(g.config.Retries, retry.NewFibonacci(g.config.Backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if _, err := run(ctx, "", nil, args...); err != nil {
			os.RemoveAll(dest)
			g.logger.Warn("clone failed", "repo", remote, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to clone %s: %w", remote, err)
	}

	g.logger.Info("cloned repository", "repo", remote, "branch", branch, "path", dest)
	return dest, nil
}

func checkoutDirName(remote, branch string) string {
	name := strings.ReplaceAll(RepoName(remote), "/", "_")
	if branch != "" {
		name += "@" + strings.ReplaceAll(branch, "/", "_")
	}
	return name
}

// Ignored asks git which of paths (relative to root) its ignore rules
// exclude.
func (g *Git) Ignored(ctx context.Context, root string, paths []string) (map[string]bool, error) {
	ignored := make(map[string]bool)
	if len(paths) == 0 {
		return ignored, nil
	}

	// -z keeps paths with special characters unquoted on both sides.
	stdin := strings.NewReader(strings.Join(paths, "\x00") + "\x00")
	out, err := run(ctx, root, stdin, "check-ignore", "--stdin", "-z")
	if err != nil {
		// Exit status 1 means none of the paths is ignored.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return ignored, nil
		}
		return nil, err
	}

	for _, path := range strings.Split(out, "\x00") {
		if path != "" {
			ignored[path] = true
		}
	}
	return ignored, nil
}

func run(ctx context.Context, dir string, stdin *strings.Reader, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
