package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSClient defines the interface for SQS operations. *sqs.Client satisfies
// it directly; tests substitute a stub.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue implements MessageQueue for AWS SQS
type SQSQueue struct {
	client   SQSClient
	region   string
	queueURL string
}

// NewSQSQueue creates a new AWS SQS queue client
func NewSQSQueue(ctx context.Context, config Config) (*SQSQueue, error) {
	if config.Region == "" {
		return nil, fmt.Errorf("region is required for SQS")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SQSQueue{
		client: sqs.NewFromConfig(awsCfg),
		region: config.Region,
	}, nil
}

// Send sends a message to an SQS queue
func (q *SQSQueue) Send(ctx context.Context, destination string, message []byte, attributes map[string]string) error {
	if destination == "" {
		return fmt.Errorf("destination queue URL is required")
	}

	if len(message) == 0 {
		return fmt.Errorf("message body cannot be empty")
	}

	msgAttributes := make(map[string]types.MessageAttributeValue, len(attributes))
	for key, value := range attributes {
		msgAttributes[key] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(destination),
		MessageBody:       aws.String(string(message)),
		MessageAttributes: msgAttributes,
	}

	_, err := q.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	return nil
}

// Receive receives messages from an SQS queue
func (q *SQSQueue) Receive(ctx context.Context, source string, maxMessages int, waitTime time.Duration) ([]Message, error) {
	if source == "" {
		return nil, fmt.Errorf("source queue URL is required")
	}

	if maxMessages <= 0 {
		return nil, fmt.Errorf("maxMessages must be greater than 0")
	}

	// SQS has a maximum of 10 messages per request
	if maxMessages > 10 {
		maxMessages = 10
	}

	waitSeconds := int32(waitTime.Seconds())
	if waitSeconds > 20 {
		waitSeconds = 20 // SQS maximum
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(source),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       waitSeconds,
		MessageAttributeNames: []string{"All"},
	}

	output, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from SQS: %w", err)
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, sqsMsg := range output.Messages {
		attributes := make(map[string]string)
		for key, attr := range sqsMsg.MessageAttributes {
			if attr.StringValue != nil {
				attributes[key] = *attr.StringValue
			}
		}

		msg := Message{
			ID:         aws.ToString(sqsMsg.MessageId),
			Body:       []byte(aws.ToString(sqsMsg.Body)),
			Attributes: attributes,
			Receipt:    aws.ToString(sqsMsg.ReceiptHandle),
			Timestamp:  time.Now(), // SQS doesn't provide original timestamp easily
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Ack acknowledges a message by deleting it from the queue
func (q *SQSQueue) Ack(ctx context.Context, message Message) error {
	if message.Receipt == "" {
		return fmt.Errorf("message receipt handle is required")
	}

	if q.queueURL == "" {
		return fmt.Errorf("queue URL not set")
	}

	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(message.Receipt),
	}

	_, err := q.client.DeleteMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to delete message from SQS: %w", err)
	}

	return nil
}

// Nack negatively acknowledges a message by making it immediately visible
func (q *SQSQueue) Nack(ctx context.Context, message Message) error {
	if message.Receipt == "" {
		return fmt.Errorf("message receipt handle is required")
	}

	if q.queueURL == "" {
		return fmt.Errorf("queue URL not set")
	}

	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(message.Receipt),
		VisibilityTimeout: 0, // Make immediately visible
	}

	_, err := q.client.ChangeMessageVisibility(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to change message visibility in SQS: %w", err)
	}

	return nil
}

// GetInfo retrieves information about an SQS queue
func (q *SQSQueue) GetInfo(ctx context.Context, name string) (*QueueInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("queue name/URL is required")
	}

	input := &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(name),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameCreatedTimestamp,
		},
	}

	output, err := q.client.GetQueueAttributes(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	info := &QueueInfo{
		Name: name,
	}

	if countStr, ok := output.Attributes["ApproximateNumberOfMessages"]; ok && countStr != "" {
		count, _ := strconv.Atoi(countStr)
		info.ApproximateCount = count
	}

	if timestampStr, ok := output.Attributes["CreatedTimestamp"]; ok && timestampStr != "" {
		timestamp, _ := strconv.ParseInt(timestampStr, 10, 64)
		info.CreatedAt = time.Unix(timestamp, 0)
	}

	return info, nil
}

// Close closes the SQS client connection
func (q *SQSQueue) Close() error {
	// AWS SDK doesn't require explicit connection closing
	return nil
}

// SetQueueURL sets the queue URL for ack/nack operations
func (q *SQSQueue) SetQueueURL(url string) {
	q.queueURL = url
}
