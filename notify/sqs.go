package notify

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client used by SQSSource.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSSource is an EventSource reading from an SQS queue.
type SQSSource struct {
	client      SQSAPI
	queueURL    string
	maxMessages int32
	waitSeconds int32
}

// NewSQSSource returns a source for queueURL using long polling.
func NewSQSSource(client SQSAPI, queueURL string) *SQSSource {
	return &SQSSource{
		client:      client,
		queueURL:    queueURL,
		maxMessages: 10,
		waitSeconds: 20,
	}
}

// WithWaitSeconds sets the long-poll wait. Zero disables long polling.
func (s *SQSSource) WithWaitSeconds(n int32) *SQSSource {
	s.waitSeconds = n
	return s
}

// NewSQSClient loads the default AWS configuration and returns a client.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// Receive returns up to ten messages.
func (s *SQSSource) Receive(ctx context.Context) ([]Message, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(s.queueURL),
		MaxNumberOfMessages: s.maxMessages,
		WaitTimeSeconds:     s.waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			Handle: sdkaws.ToString(m.ReceiptHandle),
			Body:   []byte(sdkaws.ToString(m.Body)),
		})
	}
	return msgs, nil
}

// Ack deletes the message from the queue.
func (s *SQSSource) Ack(ctx context.Context, msg Message) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      sdkaws.String(s.queueURL),
		ReceiptHandle: sdkaws.String(msg.Handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}
