package model

import (
	"strings"
	"testing"
	"time"
)

func TestStatusLine(t *testing.T) {
	run := &PipelineRun{
		RunID:       "run-1",
		Branch:      "main",
		ImageTag:    "app:main-abc1234",
		FinalResult: RunResultFailure,
	}
	run.RecordStage(StagePrepare, StageOutcomeSucceeded, 120*time.Millisecond, "")
	run.RecordStage(StageBuild, StageOutcomeFailed, 3*time.Second, "exit status 1")
	run.RecordStage(StagePublish, StageOutcomeSkipped, 0, "push disabled")

	line := StatusLine(run)

	for _, want := range []string{
		"deploy run-1: FAILURE",
		"app:main-abc1234",
		"(branch main)",
		"build: exit status 1",
		"publish skipped",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected status line to contain %q, got %q", want, line)
		}
	}
}

func TestNewRunEventPayload(t *testing.T) {
	run := &PipelineRun{
		RunID:       "run-1",
		Branch:      "main",
		Revision:    "abc1234",
		ImageTag:    "app:main-abc1234",
		FinalResult: RunResultSuccess,
	}
	run.RecordStage(StagePrepare, StageOutcomeSucceeded, 50*time.Millisecond, "")

	payload := NewRunEventPayload(run, "1.2.3")

	if payload.EventID == "" {
		t.Error("Expected a generated event ID")
	}
	if payload.Kind != RunEventKindPipeline {
		t.Errorf("Expected kind %q, got %q", RunEventKindPipeline, payload.Kind)
	}
	if payload.Source.RunID != "run-1" || payload.Source.DeployerVersion != "1.2.3" {
		t.Errorf("Unexpected source metadata %+v", payload.Source)
	}
	if payload.Result != RunResultSuccess {
		t.Errorf("Expected %q, got %q", RunResultSuccess, payload.Result)
	}
	if len(payload.Stages) != 1 || payload.Stages[0].DurationMS != 50 {
		t.Errorf("Unexpected stage breakdown %+v", payload.Stages)
	}
}
