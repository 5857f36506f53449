package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noetl/noetl-sub007/internal/config"
)

// Outcome is the payload published to the external bus when an execution
// reaches a terminal state. It mirrors the shape of the execution_complete /
// execution_failed event rows, trimmed to what external subscribers need.
type Outcome struct {
	ExecutionID string                 `json:"execution_id"`
	CatalogID   string                 `json:"catalog_id"`
	Path        string                 `json:"path"`
	Status      string                 `json:"status"` // completed, failed
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Publisher fans execution outcomes out to whichever bus NotifyConfig
// selects. A disabled configuration yields a no-op publisher so callers
// never need to branch on whether notification is configured.
type Publisher struct {
	queue       MessageQueue
	destination string
}

// NewPublisher builds a Publisher from configuration, dialing the selected
// queue type. Returns a no-op publisher when notification is disabled.
func NewPublisher(ctx context.Context, cfg config.NotifyConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{}, nil
	}

	mqConfig := Config{
		Type:    QueueType(cfg.Type),
		Brokers: cfg.Brokers,
		URL:     cfg.AMQPURL,
		Timeout: 10 * time.Second,
	}

	var destination string
	switch QueueType(cfg.Type) {
	case QueueTypeSQS:
		destination = cfg.SQSURL
	case QueueTypeKafka:
		destination = cfg.Topic
	case QueueTypeRabbitMQ:
		destination = cfg.Queue
	default:
		return nil, fmt.Errorf("unsupported notify type: %s", cfg.Type)
	}

	mq, err := NewMessageQueue(ctx, mqConfig)
	if err != nil {
		return nil, fmt.Errorf("dial notify queue: %w", err)
	}

	return &Publisher{queue: mq, destination: destination}, nil
}

// Publish sends an Outcome. It is a no-op when the publisher was built from
// a disabled configuration.
func (p *Publisher) Publish(ctx context.Context, outcome Outcome) error {
	if p.queue == nil {
		return nil
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	attrs := map[string]string{
		"execution_id": outcome.ExecutionID,
		"status":       outcome.Status,
	}

	return p.queue.Send(ctx, p.destination, body, attrs)
}

// Close releases the underlying queue connection, if any.
func (p *Publisher) Close() error {
	if p.queue == nil {
		return nil
	}
	return p.queue.Close()
}
