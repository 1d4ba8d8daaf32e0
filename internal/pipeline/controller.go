// Package pipeline sequences a single build-and-deploy run: Prepare, Build,
// optional Publish, optional Deploy, then an always-executed Cleanup and
// Notify pair. Stages run strictly sequentially; each is bounded by its own
// timeout.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/engine"
	"github.com/apptrail-sh/deployer/internal/hooks"
	"github.com/apptrail-sh/deployer/internal/model"
	"github.com/apptrail-sh/deployer/internal/reconcile"
	"github.com/apptrail-sh/deployer/internal/revision"
)

// ErrConvergenceTimeout marks a deploy that was submitted but did not
// converge within its timeout. It degrades the run rather than failing it,
// unless convergence is required by configuration.
var ErrConvergenceTimeout = errors.New("deployment did not converge within timeout")

// RevisionResolver derives the release identifier for the run.
type RevisionResolver interface {
	Resolve(ctx context.Context) string
}

// AppBuilder runs the external application build step.
type AppBuilder interface {
	Build(ctx context.Context) error
}

// ImagePublisher builds and publishes the deployable image.
type ImagePublisher interface {
	Build(ctx context.Context, contextDir, tag string) (engine.ImageRef, error)
	Publish(ctx context.Context, ref engine.ImageRef) error
}

// TargetReconciler converges the remote deployment target.
type TargetReconciler interface {
	Reconcile(ctx context.Context, target model.DeploymentTarget) (reconcile.Outcome, error)
}

// CleanupFunc is invoked during the terminal cleanup phase. Failures are the
// func's own business; cleanup is best-effort and bounded.
type CleanupFunc func(ctx context.Context)

// Timeouts bounds each stage.
type Timeouts struct {
	Prepare time.Duration
	Build   time.Duration
	Publish time.Duration
	Deploy  time.Duration
	Notify  time.Duration
	Cleanup time.Duration
}

// DefaultTimeouts returns the default stage timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Prepare: 5 * time.Minute,
		Build:   15 * time.Minute,
		Publish: 10 * time.Minute,
		Deploy:  10 * time.Minute,
		Notify:  30 * time.Second,
		Cleanup: 30 * time.Second,
	}
}

// Config holds run-level configuration, resolved once before the run starts.
type Config struct {
	RunID      string
	Repo       string
	Branch     string
	ContextDir string
	Gates      GateConfig
	Timeouts   Timeouts

	// Placeholder expected in the deploy manifest template; validated during
	// Prepare so a malformed template aborts before any external mutation.
	Placeholder string

	// RequireConvergence turns a deploy convergence timeout from a degraded
	// outcome into a run failure.
	RequireConvergence bool

	// PublishBestEffort makes a publish failure non-fatal. Off by default:
	// a failed push is a failed run.
	PublishBestEffort bool
}

// Collaborators are the stage implementations the controller drives.
type Collaborators struct {
	Resolver   RevisionResolver
	AppBuilder AppBuilder
	Publisher  ImagePublisher
	// Reconciler is nil when the deployment credential was unavailable at
	// startup; the deploy gate then resolves to skipped.
	Reconciler TargetReconciler
	Notifiers  []hooks.Notifier
}

// Controller executes one PipelineRun.
type Controller struct {
	config   Config
	target   model.DeploymentTarget
	collab   Collaborators
	cleanups []CleanupFunc
}

func NewController(cfg Config, target model.DeploymentTarget, collab Collaborators) *Controller {
	registerMetrics()
	if cfg.Placeholder == "" {
		cfg.Placeholder = reconcile.DefaultPlaceholder
	}
	return &Controller{
		config: cfg,
		target: target,
		collab: collab,
	}
}

// RegisterCleanup adds a function to the terminal cleanup phase. Cleanups
// run in registration order.
func (c *Controller) RegisterCleanup(fn CleanupFunc) {
	c.cleanups = append(c.cleanups, fn)
}

// Run drives the run to its terminal state. Cleanup and Notify execute
// exactly once regardless of how the stages end, and the returned run
// carries the final result.
func (c *Controller) Run(ctx context.Context) *model.PipelineRun {
	logger := log.FromContext(ctx).WithName("pipeline").WithValues("runID", c.config.RunID)
	ctx = log.IntoContext(ctx, logger)

	run := &model.PipelineRun{
		RunID:     c.config.RunID,
		Branch:    c.config.Branch,
		StartedAt: time.Now(),
	}

	gates := EvaluateGates(ctx, c.config.Gates, GateInputs{
		Branch:                    c.config.Branch,
		DeployCredentialAvailable: c.collab.Reconciler != nil,
		HasDeployTarget:           c.target.Name != "" && len(c.target.ManifestTemplate) > 0,
	})

	result := c.execute(ctx, run, gates)
	c.finish(ctx, run, result)

	logger.Info("run finished",
		"result", run.FinalResult,
		"revision", run.Revision,
		"imageTag", run.ImageTag,
		"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)
	return run
}

func (c *Controller) execute(ctx context.Context, run *model.PipelineRun, gates Gates) model.RunResult {
	t := c.config.Timeouts

	if err := c.runStage(ctx, run, model.StagePrepare, t.Prepare, func(ctx context.Context) error {
		return c.prepare(ctx, run, gates)
	}); err != nil {
		return terminalFor(ctx)
	}

	var ref engine.ImageRef
	if err := c.runStage(ctx, run, model.StageBuild, t.Build, func(ctx context.Context) error {
		built, err := c.collab.Publisher.Build(ctx, c.config.ContextDir, run.ImageTag)
		ref = built
		return err
	}); err != nil {
		return terminalFor(ctx)
	}

	if gates.Push {
		err := c.runStage(ctx, run, model.StagePublish, t.Publish, func(ctx context.Context) error {
			return c.collab.Publisher.Publish(ctx, ref)
		})
		if err != nil {
			if c.config.PublishBestEffort && ctx.Err() == nil {
				log.FromContext(ctx).Info("publish failed, continuing per best-effort configuration")
			} else {
				return terminalFor(ctx)
			}
		}
	} else {
		run.RecordStage(model.StagePublish, model.StageOutcomeSkipped, 0, gates.PushReason)
	}

	if gates.Deploy {
		err := c.runStage(ctx, run, model.StageDeploy, t.Deploy, func(ctx context.Context) error {
			target := c.target
			target.DesiredImageRef = string(ref)
			outcome, err := c.collab.Reconciler.Reconcile(ctx, target)
			if err != nil {
				return err
			}
			if outcome == reconcile.OutcomeTimedOut {
				return ErrConvergenceTimeout
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrConvergenceTimeout) && !c.config.RequireConvergence && ctx.Err() == nil {
				log.FromContext(ctx).Info("deployment submitted but not yet converged; treating as degraded")
			} else {
				return terminalFor(ctx)
			}
		}
	} else {
		run.RecordStage(model.StageDeploy, model.StageOutcomeSkipped, 0, gates.DeployReason)
	}

	return model.RunResultSuccess
}

// prepare resolves the revision, derives the image tag, validates deploy
// configuration, and runs the application build step.
func (c *Controller) prepare(ctx context.Context, run *model.PipelineRun, gates Gates) error {
	run.Revision = c.collab.Resolver.Resolve(ctx)

	tag := revision.ImageTag(c.config.Repo, c.config.Branch, run.Revision)
	if tag == "" {
		return &ConfigError{Reason: "derived image tag is empty: artifact repository not configured"}
	}
	run.ImageTag = tag

	if gates.Deploy {
		if _, err := reconcile.RenderManifest(c.target.ManifestTemplate, c.config.Placeholder, "validate"); err != nil {
			return &ConfigError{Reason: err.Error()}
		}
	}

	if c.collab.AppBuilder != nil {
		if err := c.collab.AppBuilder.Build(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runStage executes fn under the stage timeout and records the result.
func (c *Controller) runStage(ctx context.Context, run *model.PipelineRun, stage model.Stage, timeout time.Duration, fn func(context.Context) error) error {
	logger := log.FromContext(ctx)

	stageCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	duration := time.Since(start)

	outcome := model.StageOutcomeSucceeded
	detail := ""
	switch {
	case err == nil:
	case errors.Is(err, ErrConvergenceTimeout):
		outcome = model.StageOutcomeTimedOut
		detail = err.Error()
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		outcome = model.StageOutcomeTimedOut
		detail = fmt.Sprintf("exceeded stage timeout %s", timeout)
	default:
		outcome = model.StageOutcomeFailed
		detail = err.Error()
	}

	run.RecordStage(stage, outcome, duration, detail)
	stageDurationHist.WithLabelValues(string(stage), string(outcome)).Observe(duration.Seconds())

	if err != nil {
		logger.Error(err, "stage did not complete", "stage", stage, "outcome", outcome, "duration", duration.Round(time.Millisecond))
	} else {
		logger.Info("stage completed", "stage", stage, "duration", duration.Round(time.Millisecond))
	}
	return err
}

// finish runs the guaranteed terminal phase. Cleanup and Notify both execute
// exactly once even when the run context is already cancelled; each is
// bounded by its own short timeout.
func (c *Controller) finish(ctx context.Context, run *model.PipelineRun, result model.RunResult) {
	t := c.config.Timeouts
	base := context.WithoutCancel(ctx)

	cleanupCtx, cancelCleanup := context.WithTimeout(base, t.Cleanup)
	start := time.Now()
	for _, fn := range c.cleanups {
		fn(cleanupCtx)
	}
	cancelCleanup()
	cleanupDuration := time.Since(start)
	run.RecordStage(model.StageCleanup, model.StageOutcomeSucceeded, cleanupDuration, "")
	stageDurationHist.WithLabelValues(string(model.StageCleanup), string(model.StageOutcomeSucceeded)).Observe(cleanupDuration.Seconds())

	run.FinalResult = result
	run.FinishedAt = time.Now()

	runResultCounter.WithLabelValues(string(result)).Inc()
	lastRunGauge.Reset()
	lastRunGauge.WithLabelValues(run.RunID, run.Branch, run.ImageTag, string(result)).Set(1)

	notifyCtx, cancelNotify := context.WithTimeout(base, t.Notify)
	defer cancelNotify()
	start = time.Now()
	hooks.NotifyAll(notifyCtx, c.collab.Notifiers, run, model.StatusLine(run))
	notifyDuration := time.Since(start)
	run.RecordStage(model.StageNotify, model.StageOutcomeSucceeded, notifyDuration, "")
	stageDurationHist.WithLabelValues(string(model.StageNotify), string(model.StageOutcomeSucceeded)).Observe(notifyDuration.Seconds())
}

// terminalFor maps an interrupted run to Aborted and everything else to
// Failure.
func terminalFor(ctx context.Context) model.RunResult {
	if ctx.Err() != nil {
		return model.RunResultAborted
	}
	return model.RunResultFailure
}
