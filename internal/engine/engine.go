package engine

import (
	"context"
	"fmt"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/secret"
)

// ImageRef identifies a built image. Engines are tag-preserving, so the ref
// equals the requested tag.
type ImageRef string

// Config holds configuration for the container engine adapter.
type Config struct {
	// Binary is the engine CLI, e.g. "docker" or "podman".
	Binary string
	// Registry is the registry host used for login/logout and defaults to
	// the engine's default registry when empty.
	Registry string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Binary: "docker",
	}
}

// Engine shells out to a container engine CLI for image build, push and
// registry session management.
type Engine struct {
	config Config
	runner Runner
}

func New(cfg Config, runner Runner) *Engine {
	return &Engine{config: cfg, runner: runner}
}

// Build produces an image from contextDir tagged with tag.
func (e *Engine) Build(ctx context.Context, contextDir, tag string) (ImageRef, error) {
	logger := log.FromContext(ctx).WithName("engine")
	logger.Info("building image", "context", contextDir, "tag", tag)

	if _, err := e.runner.Run(ctx, "", nil, e.config.Binary, "build", "-t", tag, contextDir); err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}
	return ImageRef(tag), nil
}

// Login opens a registry session. The credential value holds
// "username:password"; the password travels over stdin, never argv.
func (e *Engine) Login(ctx context.Context, cred secret.Credential) error {
	username, password, ok := strings.Cut(string(cred.Value), ":")
	if !ok || username == "" {
		return fmt.Errorf("registry credential %s: expected username:password", cred.Name)
	}

	args := []string{"login", "--username", username, "--password-stdin"}
	if e.config.Registry != "" {
		args = append(args, e.config.Registry)
	}
	if _, err := e.runner.Run(ctx, "", []byte(password), e.config.Binary, args...); err != nil {
		return fmt.Errorf("registry login: %w", err)
	}
	return nil
}

// Push publishes the image.
func (e *Engine) Push(ctx context.Context, ref ImageRef) error {
	logger := log.FromContext(ctx).WithName("engine")
	logger.Info("pushing image", "ref", string(ref))

	if _, err := e.runner.Run(ctx, "", nil, e.config.Binary, "push", string(ref)); err != nil {
		return fmt.Errorf("image push: %w", err)
	}
	return nil
}

// Logout closes the registry session. Best-effort: failures are logged and
// never returned, so they cannot mask an earlier push error.
func (e *Engine) Logout(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("engine")

	args := []string{"logout"}
	if e.config.Registry != "" {
		args = append(args, e.config.Registry)
	}
	if _, err := e.runner.Run(ctx, "", nil, e.config.Binary, args...); err != nil {
		logger.Error(err, "registry logout failed")
	}
}
