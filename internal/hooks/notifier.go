package hooks

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/model"
)

// Notifier delivers the terminal run status to an external sink.
type Notifier interface {
	Notify(ctx context.Context, run *model.PipelineRun, message string) error
}

// NotifyAll fans the message out to every sink. Delivery is best-effort:
// failures are logged and swallowed, never surfaced to the caller, so a dead
// sink can never change a run's result.
func NotifyAll(ctx context.Context, notifiers []Notifier, run *model.PipelineRun, message string) {
	logger := log.FromContext(ctx).WithName("notify")

	for _, notifier := range notifiers {
		if err := notifier.Notify(ctx, run, message); err != nil {
			logger.Error(err, "notification delivery failed")
		}
	}
}
