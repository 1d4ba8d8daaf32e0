package webhook

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/model"
)

// Publisher posts the run status line to a webhook sink as {"text": <msg>}.
type Publisher struct {
	client   *resty.Client
	endpoint string
}

// NewPublisher creates a webhook publisher with bounded retries.
func NewPublisher(endpoint string) *Publisher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Publisher{
		client:   client,
		endpoint: endpoint,
	}
}

type payload struct {
	Text string `json:"text"`
}

// Notify sends the status message to the webhook.
func (p *Publisher) Notify(ctx context.Context, run *model.PipelineRun, message string) error {
	logger := log.FromContext(ctx)

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload{Text: message}).
		Post(p.endpoint)

	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("notification sink returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.Info("notification delivered",
		"endpoint", p.endpoint,
		"runID", run.RunID,
		"statusCode", resp.StatusCode(),
	)
	return nil
}
