// Package reconcile converges a remote workload onto a desired image
// reference. An existing workload gets its image patched in place; an absent
// one is materialized from its manifest template. The remote control plane is
// the source of truth and may be mutated concurrently by others, so state is
// always re-probed rather than cached.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/model"
)

// Outcome is the terminal state of a reconcile attempt.
type Outcome string

const (
	// OutcomeConverged means the rollout completed within the timeout.
	OutcomeConverged Outcome = "converged"
	// OutcomeTimedOut means the mutation was submitted but the rollout did
	// not converge in time. The mutation is not rolled back; convergence may
	// still happen after the run ends.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeFailed means the control plane reported the rollout as unable
	// to progress.
	OutcomeFailed Outcome = "failed"
)

// Config holds configuration for the reconciler.
type Config struct {
	// Placeholder is the image marker expected in manifest templates.
	Placeholder string
	// PollInterval between rollout-status probes.
	PollInterval time.Duration
	// RolloutTimeout bounds AwaitConvergence.
	RolloutTimeout time.Duration
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Placeholder:    DefaultPlaceholder,
		PollInterval:   2 * time.Second,
		RolloutTimeout: 5 * time.Minute,
	}
}

// Reconciler converges deployment targets against the cluster.
type Reconciler struct {
	client.Client
	config Config
}

func New(c client.Client, cfg Config) *Reconciler {
	return &Reconciler{Client: c, config: cfg}
}

// Reconcile probes the target, patches or materializes it, then waits for
// convergence. Calling it twice with the same desired image is a no-op from
// the target's observable-state perspective: the probe finds the workload
// already on the desired ref and the redundant patch changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, target model.DeploymentTarget) (Outcome, error) {
	logger := log.FromContext(ctx).WithName("reconcile").WithValues(
		"target", target.Name,
		"namespace", target.Namespace,
	)
	ctx = log.IntoContext(ctx, logger)

	existing := &appsv1.Deployment{}
	err := r.Get(ctx, types.NamespacedName{Namespace: target.Namespace, Name: target.Name}, existing)
	switch {
	case err == nil:
		if err := r.patchImage(ctx, existing, target); err != nil {
			return "", err
		}
	case apierrors.IsNotFound(err):
		if err := r.materialize(ctx, target); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("probing target %s/%s: %w", target.Namespace, target.Name, err)
	}

	return r.awaitConvergence(ctx, target)
}

// patchImage updates the image reference on the existing workload, recording
// the previous reference for audit. The patch is issued even when the image
// already matches; a redundant patch is safe.
func (r *Reconciler) patchImage(ctx context.Context, existing *appsv1.Deployment, target model.DeploymentTarget) error {
	logger := log.FromContext(ctx)

	previous := currentImageRef(existing, target.Name)
	logger.Info("target exists, patching image",
		"previousImage", previous,
		"desiredImage", target.DesiredImageRef,
	)

	patched := existing.DeepCopy()
	containers := patched.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return fmt.Errorf("workload %s/%s has no containers to patch", target.Namespace, target.Name)
	}
	containers[containerIndex(containers, target.Name)].Image = target.DesiredImageRef

	if err := r.Patch(ctx, patched, client.MergeFrom(existing)); err != nil {
		return fmt.Errorf("patching image on %s/%s: %w", target.Namespace, target.Name, err)
	}
	return nil
}

// materialize renders the manifest template with the desired image and
// creates the workload. An associated service manifest is submitted as a
// secondary, independent creation: its failure is logged and never rolls
// back the workload.
func (r *Reconciler) materialize(ctx context.Context, target model.DeploymentTarget) error {
	logger := log.FromContext(ctx)
	logger.Info("target absent, materializing from template", "desiredImage", target.DesiredImageRef)

	rendered, err := RenderManifest(target.ManifestTemplate, r.config.Placeholder, target.DesiredImageRef)
	if err != nil {
		return err
	}
	deployment, err := DecodeDeployment(rendered)
	if err != nil {
		return err
	}
	if deployment.Namespace == "" {
		deployment.Namespace = target.Namespace
	}

	if err := r.Create(ctx, deployment); err != nil {
		return fmt.Errorf("creating workload %s/%s: %w", target.Namespace, target.Name, err)
	}

	if len(target.ServiceManifest) > 0 {
		service, err := DecodeService(target.ServiceManifest)
		if err != nil {
			logger.Error(err, "service manifest invalid, workload creation stands")
			return nil
		}
		if service.Namespace == "" {
			service.Namespace = target.Namespace
		}
		if err := r.Create(ctx, service); err != nil && !apierrors.IsAlreadyExists(err) {
			logger.Error(err, "service creation failed, workload creation stands", "service", service.Name)
		}
	}
	return nil
}

// awaitConvergence polls rollout status until the workload converges, the
// control plane reports a rollout failure, or the timeout elapses.
func (r *Reconciler) awaitConvergence(ctx context.Context, target model.DeploymentTarget) (Outcome, error) {
	logger := log.FromContext(ctx)

	var failureReason string
	err := wait.PollUntilContextTimeout(ctx, r.config.PollInterval, r.config.RolloutTimeout, true,
		func(ctx context.Context) (bool, error) {
			observed := &appsv1.Deployment{}
			if err := r.Get(ctx, types.NamespacedName{Namespace: target.Namespace, Name: target.Name}, observed); err != nil {
				// Transient read errors do not abort the wait.
				logger.Error(err, "rollout status probe failed")
				return false, nil
			}
			if reason, failed := rolloutFailed(observed); failed {
				failureReason = reason
				return true, nil
			}
			return rolloutComplete(observed), nil
		})

	switch {
	case err == nil && failureReason != "":
		return OutcomeFailed, fmt.Errorf("rollout of %s/%s failed: %s", target.Namespace, target.Name, failureReason)
	case err == nil:
		logger.Info("target converged", "image", target.DesiredImageRef)
		return OutcomeConverged, nil
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("rollout did not converge within timeout", "timeout", r.config.RolloutTimeout)
		return OutcomeTimedOut, nil
	default:
		return "", fmt.Errorf("awaiting convergence of %s/%s: %w", target.Namespace, target.Name, err)
	}
}

// currentImageRef returns the observed image for the target's container, or
// "" when the workload has no containers.
func currentImageRef(d *appsv1.Deployment, targetName string) string {
	containers := d.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return ""
	}
	return containers[containerIndex(containers, targetName)].Image
}

// containerIndex picks the container named after the target, falling back to
// the first container.
func containerIndex(containers []corev1.Container, targetName string) int {
	for i, c := range containers {
		if c.Name == targetName {
			return i
		}
	}
	return 0
}
