package revision

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Env vars that are allowed to be inherited from the os when invoking git.
var allowedEnvVars = []string{"HOME", "PATH", "GIT_DIR"}

// GitSource resolves the short form of the current commit by invoking the
// git binary. Any failure (binary missing, not a repository, detached and
// unresolvable state) reports ErrUnavailable rather than an error of its own.
type GitSource struct {
	workDir string
	timeout time.Duration
}

func NewGitSource(workDir string, timeout time.Duration) *GitSource {
	return &GitSource{workDir: workDir, timeout: timeout}
}

func (g *GitSource) Name() string { return "git" }

func (g *GitSource) Resolve(ctx context.Context) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, "git", "rev-parse", "--short", "HEAD")
	if g.workDir != "" {
		c.Dir = g.workDir
	}
	c.Env = gitEnv()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	c.Stdout = out
	c.Stderr = errOut

	if err := c.Run(); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}

	rev := strings.TrimSpace(out.String())
	if rev == "" {
		return "", fmt.Errorf("%w: git produced no output", ErrUnavailable)
	}
	return rev, nil
}

func gitEnv() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}
