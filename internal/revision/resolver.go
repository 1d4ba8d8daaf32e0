package revision

import (
	"context"
	"errors"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// FallbackRevision is used when no source can produce a revision.
const FallbackRevision = "local"

// ErrUnavailable is returned by a Source that cannot produce a revision
// (tool absent, detached state, counter not set).
var ErrUnavailable = errors.New("revision source unavailable")

// Source produces a revision identifier for the current checkout.
type Source interface {
	// Name returns the source identifier, used for logging.
	Name() string
	// Resolve returns a non-empty, whitespace-trimmed revision or ErrUnavailable.
	Resolve(ctx context.Context) (string, error)
}

// Config holds configuration for the resolver.
type Config struct {
	// Timeout for a single source query.
	Timeout time.Duration
	// WorkDir is the source checkout the version-control tool is queried in.
	WorkDir string
	// BuildCounter is the externally supplied monotonic counter, empty when
	// the environment does not provide one.
	BuildCounter string
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
	}
}

// Resolver walks an ordered chain of revision sources and returns the first
// answer. It never fails: when every source is unavailable it degrades to
// FallbackRevision.
type Resolver struct {
	config  Config
	sources []Source
}

// NewResolver creates a resolver with the standard chain: version control,
// then the environment build counter.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		config: cfg,
		sources: []Source{
			NewGitSource(cfg.WorkDir, cfg.Timeout),
			NewCounterSource(cfg.BuildCounter),
		},
	}
}

// Resolve returns the revision from the first source that answers.
func (r *Resolver) Resolve(ctx context.Context) string {
	logger := log.FromContext(ctx).WithName("revision")

	for _, source := range r.sources {
		rev, err := source.Resolve(ctx)
		if err != nil {
			logger.V(1).Info("revision source unavailable", "source", source.Name(), "reason", err.Error())
			continue
		}
		logger.Info("resolved revision", "source", source.Name(), "revision", rev)
		return rev
	}

	logger.Info("no revision source available, using fallback", "revision", FallbackRevision)
	return FallbackRevision
}

// CounterSource yields the externally supplied build counter.
type CounterSource struct {
	counter string
}

func NewCounterSource(counter string) *CounterSource {
	return &CounterSource{counter: counter}
}

func (c *CounterSource) Name() string { return "build-counter" }

func (c *CounterSource) Resolve(_ context.Context) (string, error) {
	if c.counter == "" {
		return "", ErrUnavailable
	}
	return c.counter, nil
}
