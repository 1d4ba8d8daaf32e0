package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes an external tool. The exec implementation is replaced by a
// fake in tests.
type Runner interface {
	// Run executes the binary with args, feeding stdin when non-nil, and
	// returns combined stdout.
	Run(ctx context.Context, dir string, stdin []byte, binary string, args ...string) (string, error)
}

// Env vars the external tools are allowed to inherit.
var allowedEnvVars = []string{"HOME", "PATH", "DOCKER_CONFIG", "DOCKER_HOST"}

// ExecRunner runs tools via os/exec with a scrubbed environment and
// deadline-aware error reporting.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, dir string, stdin []byte, binary string, args ...string) (string, error) {
	c := exec.CommandContext(ctx, binary, args...)
	if dir != "" {
		c.Dir = dir
	}
	c.Env = runEnv()
	if stdin != nil {
		c.Stdin = bytes.NewReader(stdin)
	}

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	c.Stdout = out
	c.Stderr = errOut

	err := c.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("running %s %s: %w", binary, strings.Join(args, " "), ctx.Err())
	}
	if err != nil {
		msg := lastLine(errOut.String())
		if msg == "" {
			msg = err.Error()
		}
		return out.String(), fmt.Errorf("%s %s: %s", binary, firstArg(args), msg)
	}
	return out.String(), nil
}

func runEnv() []string {
	env := []string{}
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
