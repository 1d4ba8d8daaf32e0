package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/apptrail-sh/deployer/internal/secret"
)

type call struct {
	dir    string
	stdin  string
	binary string
	args   []string
}

type fakeRunner struct {
	calls []call
	// errOn fails any call whose first arg matches.
	errOn string
}

func (r *fakeRunner) Run(_ context.Context, dir string, stdin []byte, binary string, args ...string) (string, error) {
	r.calls = append(r.calls, call{dir: dir, stdin: string(stdin), binary: binary, args: args})
	if r.errOn != "" && len(args) > 0 && args[0] == r.errOn {
		return "", errors.New(r.errOn + " failed")
	}
	return "", nil
}

func TestEngine_Build_TagPreserving(t *testing.T) {
	runner := &fakeRunner{}
	eng := New(DefaultConfig(), runner)

	ref, err := eng.Build(context.Background(), "./app", "app:main-abc1234")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if string(ref) != "app:main-abc1234" {
		t.Errorf("Expected ref to equal requested tag, got %q", ref)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("Expected 1 engine invocation, got %d", len(runner.calls))
	}
	got := strings.Join(runner.calls[0].args, " ")
	if got != "build -t app:main-abc1234 ./app" {
		t.Errorf("Unexpected build args: %q", got)
	}
}

func TestEngine_Build_Failure(t *testing.T) {
	runner := &fakeRunner{errOn: "build"}
	eng := New(DefaultConfig(), runner)

	if _, err := eng.Build(context.Background(), ".", "app:tag"); err == nil {
		t.Error("Expected build failure to propagate")
	}
}

func TestEngine_Login_PasswordOverStdin(t *testing.T) {
	runner := &fakeRunner{}
	cfg := DefaultConfig()
	cfg.Registry = "registry.example.com"
	eng := New(cfg, runner)

	cred := secret.Credential{Name: "registry", Value: []byte("bob:hunter2")}
	if err := eng.Login(context.Background(), cred); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	c := runner.calls[0]
	if c.stdin != "hunter2" {
		t.Errorf("Expected password on stdin, got %q", c.stdin)
	}
	for _, arg := range c.args {
		if strings.Contains(arg, "hunter2") {
			t.Errorf("Password must never appear in argv: %v", c.args)
		}
	}
	got := strings.Join(c.args, " ")
	if got != "login --username bob --password-stdin registry.example.com" {
		t.Errorf("Unexpected login args: %q", got)
	}
}

func TestEngine_Login_MalformedCredential(t *testing.T) {
	eng := New(DefaultConfig(), &fakeRunner{})

	cred := secret.Credential{Name: "registry", Value: []byte("no-separator")}
	if err := eng.Login(context.Background(), cred); err == nil {
		t.Error("Expected error for credential without username:password form")
	}
}

func TestEngine_Logout_FailureSwallowed(t *testing.T) {
	runner := &fakeRunner{errOn: "logout"}
	eng := New(DefaultConfig(), runner)

	// Logout returns nothing; a failure must not panic or propagate.
	eng.Logout(context.Background())

	if len(runner.calls) != 1 {
		t.Fatalf("Expected logout to be attempted, got %d calls", len(runner.calls))
	}
}
