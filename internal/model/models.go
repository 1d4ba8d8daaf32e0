package model

import "time"

type RunResult string
type StageOutcome string
type Stage string

const (
	RunResultSuccess RunResult = "SUCCESS"
	RunResultFailure RunResult = "FAILURE"
	RunResultAborted RunResult = "ABORTED"

	StageOutcomeSucceeded StageOutcome = "succeeded"
	StageOutcomeFailed    StageOutcome = "failed"
	StageOutcomeSkipped   StageOutcome = "skipped"
	StageOutcomeTimedOut  StageOutcome = "timed_out"

	StagePrepare Stage = "prepare"
	StageBuild   Stage = "build"
	StagePublish Stage = "publish"
	StageDeploy  Stage = "deploy"
	StageNotify  Stage = "notify"
	StageCleanup Stage = "cleanup"
)

// StageResult records the outcome of a single pipeline stage. Results are
// appended in execution order; the ordering is relied on when reconstructing
// what a run did from its notification or logs.
type StageResult struct {
	Stage    Stage
	Outcome  StageOutcome
	Duration time.Duration
	Detail   string // short human-readable note (error summary, skip reason)
}

// PipelineRun is the unit of execution. It is created when the controller
// starts, mutated as stages complete, and discarded once the terminal
// notification has been sent. It is never persisted.
type PipelineRun struct {
	RunID        string
	Branch       string
	Revision     string
	ImageTag     string
	StageResults []StageResult
	FinalResult  RunResult
	StartedAt    time.Time
	FinishedAt   time.Time
}

// RecordStage appends a stage result, preserving execution order.
func (r *PipelineRun) RecordStage(stage Stage, outcome StageOutcome, duration time.Duration, detail string) {
	r.StageResults = append(r.StageResults, StageResult{
		Stage:    stage,
		Outcome:  outcome,
		Duration: duration,
		Detail:   detail,
	})
}

// StageOutcomeFor returns the recorded outcome for a stage, or "" if the
// stage never ran.
func (r *PipelineRun) StageOutcomeFor(stage Stage) StageOutcome {
	for _, sr := range r.StageResults {
		if sr.Stage == stage {
			return sr.Outcome
		}
	}
	return ""
}

// DeploymentTarget is a named remote workload the reconciler converges. The
// remote control plane is the source of truth; nothing here is persisted
// locally.
type DeploymentTarget struct {
	Name      string
	Namespace string

	// ManifestTemplate is the workload manifest with an image placeholder
	// marker. Only used when the target does not already exist remotely.
	ManifestTemplate []byte

	// ServiceManifest is an optional secondary manifest created alongside a
	// materialized workload. Its failure never rolls back the workload.
	ServiceManifest []byte

	DesiredImageRef string
}
