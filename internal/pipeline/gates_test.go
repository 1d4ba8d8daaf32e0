package pipeline

import (
	"context"
	"testing"
)

func TestEvaluateGates(t *testing.T) {
	tests := []struct {
		name         string
		cfg          GateConfig
		in           GateInputs
		expectPush   bool
		expectDeploy bool
	}{
		{
			name:         "everything enabled",
			cfg:          GateConfig{PushEnabled: true, DeployEnabled: true},
			in:           GateInputs{Branch: "main", DeployCredentialAvailable: true, HasDeployTarget: true},
			expectPush:   true,
			expectDeploy: true,
		},
		{
			name:         "push disabled",
			cfg:          GateConfig{PushEnabled: false, DeployEnabled: true},
			in:           GateInputs{Branch: "main", DeployCredentialAvailable: true, HasDeployTarget: true},
			expectPush:   false,
			expectDeploy: true,
		},
		{
			name:         "branch filter mismatch gates both",
			cfg:          GateConfig{PushEnabled: true, DeployEnabled: true, BranchFilter: "main"},
			in:           GateInputs{Branch: "feature/x", DeployCredentialAvailable: true, HasDeployTarget: true},
			expectPush:   false,
			expectDeploy: false,
		},
		{
			name:         "branch filter glob match",
			cfg:          GateConfig{PushEnabled: true, DeployEnabled: true, BranchFilter: "release-*"},
			in:           GateInputs{Branch: "release-2024", DeployCredentialAvailable: true, HasDeployTarget: true},
			expectPush:   true,
			expectDeploy: true,
		},
		{
			name:         "deploy credential unavailable skips deploy only",
			cfg:          GateConfig{PushEnabled: true, DeployEnabled: true},
			in:           GateInputs{Branch: "main", DeployCredentialAvailable: false, HasDeployTarget: true},
			expectPush:   true,
			expectDeploy: false,
		},
		{
			name:         "no deploy target skips deploy",
			cfg:          GateConfig{PushEnabled: true, DeployEnabled: true},
			in:           GateInputs{Branch: "main", DeployCredentialAvailable: true, HasDeployTarget: false},
			expectPush:   true,
			expectDeploy: false,
		},
		{
			name:         "empty filter matches every branch",
			cfg:          GateConfig{PushEnabled: true, DeployEnabled: true},
			in:           GateInputs{Branch: "", DeployCredentialAvailable: true, HasDeployTarget: true},
			expectPush:   true,
			expectDeploy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gates := EvaluateGates(context.Background(), tt.cfg, tt.in)
			if gates.Push != tt.expectPush {
				t.Errorf("Expected push gate %v, got %v (%s)", tt.expectPush, gates.Push, gates.PushReason)
			}
			if gates.Deploy != tt.expectDeploy {
				t.Errorf("Expected deploy gate %v, got %v (%s)", tt.expectDeploy, gates.Deploy, gates.DeployReason)
			}
		})
	}
}

func TestEvaluateGates_SkipReasonsRecorded(t *testing.T) {
	gates := EvaluateGates(context.Background(), GateConfig{}, GateInputs{Branch: "main"})
	if gates.PushReason == "" {
		t.Error("Expected a push skip reason")
	}
	if gates.DeployReason == "" {
		t.Error("Expected a deploy skip reason")
	}
}
