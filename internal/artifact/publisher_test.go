package artifact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/apptrail-sh/deployer/internal/engine"
	"github.com/apptrail-sh/deployer/internal/secret"
)

type fakeRunner struct {
	ops   []string // first arg of each invocation, in order
	errOn string
}

func (r *fakeRunner) Run(_ context.Context, _ string, _ []byte, _ string, args ...string) (string, error) {
	op := ""
	if len(args) > 0 {
		op = args[0]
	}
	r.ops = append(r.ops, op)
	if r.errOn != "" && op == r.errOn {
		return "", errors.New(op + " failed")
	}
	return "", nil
}

type mapStore struct {
	creds map[string]string
}

func (s *mapStore) Get(_ context.Context, name string) (secret.Credential, error) {
	value, ok := s.creds[name]
	if !ok {
		return secret.Credential{}, secret.ErrCredentialMissing
	}
	return secret.Credential{Name: name, Value: []byte(value)}, nil
}

func newPublisher(runner *fakeRunner, creds map[string]string) *Publisher {
	eng := engine.New(engine.DefaultConfig(), runner)
	scope := secret.NewScope(&mapStore{creds: creds})
	return NewPublisher(eng, scope)
}

func TestPublisher_Publish_LoginPushLogoutOrder(t *testing.T) {
	runner := &fakeRunner{}
	publisher := newPublisher(runner, map[string]string{RegistryCredentialName: "bob:hunter2"})

	if err := publisher.Publish(context.Background(), "app:main-abc1234"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got := strings.Join(runner.ops, ",")
	if got != "login,push,logout" {
		t.Errorf("Expected login,push,logout, got %q", got)
	}
}

func TestPublisher_Publish_LogoutRunsAfterPushFailure(t *testing.T) {
	runner := &fakeRunner{errOn: "push"}
	publisher := newPublisher(runner, map[string]string{RegistryCredentialName: "bob:hunter2"})

	err := publisher.Publish(context.Background(), "app:main-abc1234")
	if err == nil {
		t.Fatal("Expected push failure to propagate")
	}
	if !strings.Contains(err.Error(), "push") {
		t.Errorf("Expected the push error to survive logout, got: %v", err)
	}

	got := strings.Join(runner.ops, ",")
	if got != "login,push,logout" {
		t.Errorf("Expected logout to run despite push failure, got %q", got)
	}
}

func TestPublisher_Publish_MissingCredential(t *testing.T) {
	runner := &fakeRunner{}
	publisher := newPublisher(runner, map[string]string{})

	err := publisher.Publish(context.Background(), "app:main-abc1234")
	if !secret.IsMissing(err) {
		t.Fatalf("Expected ErrCredentialMissing, got: %v", err)
	}
	if len(runner.ops) != 0 {
		t.Errorf("Expected no engine calls without a credential, got %v", runner.ops)
	}
}

func TestPublisher_Build_EmptyTag(t *testing.T) {
	runner := &fakeRunner{}
	publisher := newPublisher(runner, nil)

	if _, err := publisher.Build(context.Background(), ".", ""); err == nil {
		t.Error("Expected error for empty tag")
	}
	if len(runner.ops) != 0 {
		t.Errorf("Expected no engine calls for empty tag, got %v", runner.ops)
	}
}
