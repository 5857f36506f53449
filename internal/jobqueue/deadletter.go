package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// DeadLetterPublisher is notified when a queue entry exhausts its retries
// and is marked dead, so dashboards and alerting can see the failure
// without polling the queue table.
type DeadLetterPublisher interface {
	PublishDead(ctx context.Context, entry Entry, lastError string) error
}

// NoopDeadLetterPublisher discards dead-letter notifications. Used when no
// SQS queue is configured.
type NoopDeadLetterPublisher struct{}

func (NoopDeadLetterPublisher) PublishDead(context.Context, Entry, string) error { return nil }

// SQSDeadLetterPublisher publishes a dead queue entry as an SQS message for
// external dashboards/alerting to consume.
type SQSDeadLetterPublisher struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSDeadLetterPublisher builds a publisher targeting queueURL.
func NewSQSDeadLetterPublisher(client *sqs.Client, queueURL string) *SQSDeadLetterPublisher {
	return &SQSDeadLetterPublisher{client: client, queueURL: queueURL}
}

type deadLetterMessage struct {
	QueueID     int64  `json:"queue_id"`
	ExecutionID int64  `json:"execution_id"`
	CatalogID   int64  `json:"catalog_id"`
	NodeID      string `json:"node_id"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error"`
}

// PublishDead sends the dead entry's identity and last error to the
// configured SQS queue.
func (p *SQSDeadLetterPublisher) PublishDead(ctx context.Context, entry Entry, lastError string) error {
	body, err := json.Marshal(deadLetterMessage{
		QueueID:     entry.QueueID,
		ExecutionID: entry.ExecutionID,
		CatalogID:   entry.CatalogID,
		NodeID:      entry.NodeID,
		Attempts:    entry.Attempts,
		MaxAttempts: entry.MaxAttempts,
		LastError:   lastError,
	})
	if err != nil {
		return fmt.Errorf("jobqueue: marshal dead-letter message: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("jobqueue: publish dead-letter message: %w", err)
	}
	return nil
}
