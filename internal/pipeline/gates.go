package pipeline

import (
	"context"

	"github.com/ryanuber/go-glob"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// GateConfig is the run-level configuration the gates are derived from.
type GateConfig struct {
	PushEnabled   bool
	DeployEnabled bool
	// BranchFilter is a glob pattern; optional stages only run when the
	// branch matches. Empty matches every branch.
	BranchFilter string
}

// Gates are the per-run booleans deciding which optional stages execute.
// They are evaluated exactly once at run start and consumed uniformly by the
// controller, so no stage re-derives its own gating logic. A false gate
// skips its stage; it never fails it.
type Gates struct {
	Push   bool
	Deploy bool

	// Skip reasons, recorded in stage results for audit.
	PushReason   string
	DeployReason string
}

// GateInputs are the facts, beyond configuration, that gating depends on.
type GateInputs struct {
	Branch string
	// DeployCredentialAvailable reports whether the deployment-capable
	// credential resolved at startup. Unavailable is an ordinary state, not
	// an error.
	DeployCredentialAvailable bool
	// HasDeployTarget reports whether a deployment target with a manifest
	// template is configured.
	HasDeployTarget bool
}

// EvaluateGates resolves the stage gates from configuration and inputs.
func EvaluateGates(ctx context.Context, cfg GateConfig, in GateInputs) Gates {
	logger := log.FromContext(ctx).WithName("gates")

	gates := Gates{Push: true, Deploy: true}

	branchMatches := cfg.BranchFilter == "" || glob.Glob(cfg.BranchFilter, in.Branch)

	switch {
	case !cfg.PushEnabled:
		gates.Push = false
		gates.PushReason = "push disabled"
	case !branchMatches:
		gates.Push = false
		gates.PushReason = "branch " + in.Branch + " does not match filter " + cfg.BranchFilter
	}

	switch {
	case !cfg.DeployEnabled:
		gates.Deploy = false
		gates.DeployReason = "deploy disabled"
	case !branchMatches:
		gates.Deploy = false
		gates.DeployReason = "branch " + in.Branch + " does not match filter " + cfg.BranchFilter
	case !in.HasDeployTarget:
		gates.Deploy = false
		gates.DeployReason = "no deployment target configured"
	case !in.DeployCredentialAvailable:
		gates.Deploy = false
		gates.DeployReason = "deploy credential unavailable"
	}

	logger.Info("stage gates resolved",
		"push", gates.Push,
		"deploy", gates.Deploy,
		"pushReason", gates.PushReason,
		"deployReason", gates.DeployReason,
	)
	return gates
}
