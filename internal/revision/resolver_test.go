package revision

import (
	"context"
	"testing"
)

type stubSource struct {
	name string
	rev  string
	err  error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Resolve(_ context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.rev, nil
}

func TestResolver_FirstSourceWins(t *testing.T) {
	resolver := &Resolver{
		config: DefaultConfig(),
		sources: []Source{
			&stubSource{name: "git", rev: "abc1234"},
			&stubSource{name: "build-counter", rev: "42"},
		},
	}

	if got := resolver.Resolve(context.Background()); got != "abc1234" {
		t.Errorf("Expected revision %q, got %q", "abc1234", got)
	}
}

func TestResolver_FallsBackToCounter(t *testing.T) {
	resolver := &Resolver{
		config: DefaultConfig(),
		sources: []Source{
			&stubSource{name: "git", err: ErrUnavailable},
			&stubSource{name: "build-counter", rev: "42"},
		},
	}

	if got := resolver.Resolve(context.Background()); got != "42" {
		t.Errorf("Expected revision %q, got %q", "42", got)
	}
}

func TestResolver_FallsBackToLocal(t *testing.T) {
	resolver := &Resolver{
		config: DefaultConfig(),
		sources: []Source{
			&stubSource{name: "git", err: ErrUnavailable},
			&stubSource{name: "build-counter", err: ErrUnavailable},
		},
	}

	if got := resolver.Resolve(context.Background()); got != FallbackRevision {
		t.Errorf("Expected fallback revision %q, got %q", FallbackRevision, got)
	}
}

func TestResolver_NoSources(t *testing.T) {
	resolver := &Resolver{config: DefaultConfig()}

	if got := resolver.Resolve(context.Background()); got != FallbackRevision {
		t.Errorf("Expected fallback revision %q, got %q", FallbackRevision, got)
	}
}

func TestCounterSource(t *testing.T) {
	source := NewCounterSource("17")
	rev, err := source.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if rev != "17" {
		t.Errorf("Expected %q, got %q", "17", rev)
	}

	empty := NewCounterSource("")
	if _, err := empty.Resolve(context.Background()); err == nil {
		t.Error("Expected ErrUnavailable for empty counter")
	}
}

func TestNewResolver_StandardChain(t *testing.T) {
	resolver := NewResolver(DefaultConfig())

	if len(resolver.sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(resolver.sources))
	}
	if resolver.sources[0].Name() != "git" {
		t.Errorf("Expected git first, got %q", resolver.sources[0].Name())
	}
	if resolver.sources[1].Name() != "build-counter" {
		t.Errorf("Expected build-counter second, got %q", resolver.sources[1].Name())
	}
}
