package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/apptrail-sh/deployer/internal/model"
)

// Publisher sends terminal run events to Google Cloud Pub/Sub.
type Publisher struct {
	client          *pubsub.Client
	publisher       *pubsub.Publisher
	topicPath       string
	deployerVersion string
}

// ParseTopicPath parses a full Pub/Sub topic path and returns projectID and topicID.
// Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// NewPublisher creates a Pub/Sub run-event publisher.
//
// Authentication is handled via Application Default Credentials (ADC):
// Workload Identity, a service account key in GOOGLE_APPLICATION_CREDENTIALS,
// or gcloud default credentials.
func NewPublisher(ctx context.Context, topicPath, deployerVersion string) (*Publisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Publisher{
		client:          client,
		publisher:       client.Publisher(topicID),
		topicPath:       topicPath,
		deployerVersion: deployerVersion,
	}, nil
}

// Notify publishes the run's terminal event.
func (p *Publisher) Notify(ctx context.Context, run *model.PipelineRun, _ string) error {
	logger := log.FromContext(ctx)

	event := model.NewRunEventPayload(run, p.deployerVersion)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	attributes := map[string]string{
		"run_id":     run.RunID,
		"result":     string(run.FinalResult),
		"event_type": string(event.Kind),
	}
	if run.Branch != "" {
		attributes["branch"] = run.Branch
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish run event to pubsub: %w", err)
	}

	logger.Info("run event published to Pub/Sub",
		"topic", p.topicPath,
		"eventID", event.EventID,
		"messageID", msgID,
	)
	return nil
}

// Stop stops the publisher and closes the client.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		_ = p.client.Close()
	}
}
