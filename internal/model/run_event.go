package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RunEventKind string

const (
	RunEventKindPipeline RunEventKind = "PIPELINE_RUN"
)

type SourceMetadata struct {
	RunID           string `json:"runId"`
	DeployerVersion string `json:"deployerVersion"`
}

type StageBreakdown struct {
	Stage      Stage        `json:"stage"`
	Outcome    StageOutcome `json:"outcome"`
	DurationMS int64        `json:"durationMs"`
	Detail     string       `json:"detail,omitempty"`
}

// RunEventPayload is the event published to downstream sinks when a run
// reaches its terminal state.
type RunEventPayload struct {
	EventID    string           `json:"eventId"`
	OccurredAt time.Time        `json:"occurredAt"`
	Kind       RunEventKind     `json:"kind"`
	Source     SourceMetadata   `json:"source"`
	Branch     string           `json:"branch,omitempty"`
	Revision   string           `json:"revision,omitempty"`
	ImageTag   string           `json:"imageTag,omitempty"`
	Result     RunResult        `json:"result"`
	Stages     []StageBreakdown `json:"stages"`
}

func NewRunEventPayload(run *PipelineRun, deployerVersion string) RunEventPayload {
	stages := make([]StageBreakdown, 0, len(run.StageResults))
	for _, sr := range run.StageResults {
		stages = append(stages, StageBreakdown{
			Stage:      sr.Stage,
			Outcome:    sr.Outcome,
			DurationMS: sr.Duration.Milliseconds(),
			Detail:     sr.Detail,
		})
	}

	return RunEventPayload{
		EventID:    uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		Kind:       RunEventKindPipeline,
		Source: SourceMetadata{
			RunID:           run.RunID,
			DeployerVersion: deployerVersion,
		},
		Branch:   run.Branch,
		Revision: run.Revision,
		ImageTag: run.ImageTag,
		Result:   run.FinalResult,
		Stages:   stages,
	}
}

// StatusLine renders the single human-readable message sent to notification
// sinks.
func StatusLine(run *PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "deploy %s: %s", run.RunID, run.FinalResult)
	if run.ImageTag != "" {
		fmt.Fprintf(&b, " %s", run.ImageTag)
	}
	if run.Branch != "" {
		fmt.Fprintf(&b, " (branch %s)", run.Branch)
	}

	var parts []string
	for _, sr := range run.StageResults {
		switch sr.Outcome {
		case StageOutcomeSkipped:
			parts = append(parts, fmt.Sprintf("%s skipped", sr.Stage))
		case StageOutcomeTimedOut:
			parts = append(parts, fmt.Sprintf("%s timed out after %s", sr.Stage, sr.Duration.Round(time.Millisecond)))
		case StageOutcomeFailed:
			detail := sr.Detail
			if detail == "" {
				detail = "failed"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", sr.Stage, detail))
		default:
			parts = append(parts, fmt.Sprintf("%s %s", sr.Stage, sr.Duration.Round(time.Millisecond)))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, ", "))
	}
	return b.String()
}
