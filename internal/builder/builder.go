// Package builder adapts the external application build tool that turns the
// source tree into static assets. The orchestrator does no compilation
// itself; a build failure here is fatal to the run.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/engine"
	"github.com/apptrail-sh/deployer/internal/secret"
)

// Config holds configuration for the application build step.
type Config struct {
	// Command is the build invocation, e.g. "npm run build". Empty disables
	// the step.
	Command string
	// SourceDir is the tree the command runs in.
	SourceDir string
	// APIKeySecret names the credential materialized into an env file before
	// the build, e.g. a build-time API key. Empty means no secret is needed.
	APIKeySecret string
	// EnvFile is the file the API key is written to, relative to SourceDir.
	EnvFile string
	// EnvVar is the variable name written into EnvFile.
	EnvVar string
}

// DefaultConfig returns the default build-step configuration.
func DefaultConfig() Config {
	return Config{
		EnvFile: ".env.production",
		EnvVar:  "API_KEY",
	}
}

// Builder runs the application build command, materializing the build-time
// secret for exactly the span of the command.
type Builder struct {
	config Config
	scope  *secret.Scope
	runner engine.Runner
}

func New(cfg Config, scope *secret.Scope, runner engine.Runner) *Builder {
	return &Builder{config: cfg, scope: scope, runner: runner}
}

// Build runs the configured build command. When an API key secret is
// configured, the env file exists only while the command runs; it is removed
// on every exit path.
func (b *Builder) Build(ctx context.Context) error {
	if b.config.Command == "" {
		return nil
	}

	if b.config.APIKeySecret == "" {
		return b.runCommand(ctx)
	}

	return b.scope.WithSecret(ctx, b.config.APIKeySecret, func(cred secret.Credential) error {
		envPath := filepath.Join(b.config.SourceDir, b.config.EnvFile)
		content := fmt.Sprintf("%s=%s\n", b.config.EnvVar, string(cred.Value))
		if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
			return fmt.Errorf("writing build env file: %w", err)
		}
		defer func() {
			if err := os.Remove(envPath); err != nil {
				log.FromContext(ctx).Error(err, "removing build env file", "path", envPath)
			}
		}()

		return b.runCommand(ctx)
	})
}

func (b *Builder) runCommand(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("builder")
	logger.Info("running application build", "command", b.config.Command, "dir", b.config.SourceDir)

	fields := strings.Fields(b.config.Command)
	if len(fields) == 0 {
		return nil
	}
	if _, err := b.runner.Run(ctx, b.config.SourceDir, nil, fields[0], fields[1:]...); err != nil {
		return fmt.Errorf("application build: %w", err)
	}
	return nil
}
