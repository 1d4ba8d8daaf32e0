// Package artifact produces and publishes the deployable image by driving
// the container engine collaborator.
package artifact

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/engine"
	"github.com/apptrail-sh/deployer/internal/secret"
)

// RegistryCredentialName is the store name of the registry credential.
const RegistryCredentialName = "registry"

// Publisher builds and optionally pushes tagged images. Whether Publish is
// invoked at all is the pipeline controller's decision; a skipped publish
// still leaves the built ImageRef usable by later stages.
type Publisher struct {
	engine *engine.Engine
	scope  *secret.Scope
}

func NewPublisher(eng *engine.Engine, scope *secret.Scope) *Publisher {
	return &Publisher{engine: eng, scope: scope}
}

// Build produces the image for contextDir under tag. A failure is fatal to
// the run; no later stage may assume an artifact exists.
func (p *Publisher) Build(ctx context.Context, contextDir, tag string) (engine.ImageRef, error) {
	if tag == "" {
		return "", fmt.Errorf("image tag is empty")
	}
	return p.engine.Build(ctx, contextDir, tag)
}

// Publish authenticates with the registry credential, pushes the image, and
// releases the session. Logout runs unconditionally once login succeeded and
// its failure never masks the push's original error.
func (p *Publisher) Publish(ctx context.Context, ref engine.ImageRef) error {
	logger := log.FromContext(ctx).WithName("artifact")

	err := p.scope.WithSecret(ctx, RegistryCredentialName, func(cred secret.Credential) error {
		if err := p.engine.Login(ctx, cred); err != nil {
			return err
		}
		defer p.engine.Logout(ctx)

		return p.engine.Push(ctx, ref)
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", string(ref), err)
	}

	logger.Info("image published", "ref", string(ref))
	return nil
}
