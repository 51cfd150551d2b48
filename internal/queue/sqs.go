// Package queue ships usage events to downstream consumers (billing,
// analytics) over SQS. Export is best-effort: a queue outage never fails
// a translation.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/lmoretti/lingo-gateway/internal/domain"
)

// Exporter publishes terminal usage records.
type Exporter interface {
	Export(ctx context.Context, rec domain.UsageRecord) error
}

type SQSExporter struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSExporter(ctx context.Context, region, queueURL string) (*SQSExporter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSExporter{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSExporterWithConfig(cfg aws.Config, queueURL string) *SQSExporter {
	return &SQSExporter{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (e *SQSExporter) Export(ctx context.Context, rec domain.UsageRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Provider": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.Provider),
			},
			"RequestID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.RequestID),
			},
			"Status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.Status),
			},
		},
	}

	if _, err := e.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send usage event: %w", err)
	}

	return nil
}

// Receive pulls usage events back off the queue, for consumers.
func (e *SQSExporter) Receive(ctx context.Context, maxMessages int) ([]domain.UsageRecord, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(e.queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
	}

	result, err := e.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	records := make([]domain.UsageRecord, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var rec domain.UsageRecord
		if err := json.Unmarshal([]byte(*msg.Body), &rec); err != nil {
			slog.Warn("failed to unmarshal usage event", "error", err)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func (e *SQSExporter) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(e.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := e.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// InMemoryExporter collects usage events in process, for tests and
// single-instance setups without AWS.
type InMemoryExporter struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func NewInMemoryExporter() *InMemoryExporter {
	return &InMemoryExporter{records: make([]domain.UsageRecord, 0)}
}

func (e *InMemoryExporter) Export(ctx context.Context, rec domain.UsageRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

func (e *InMemoryExporter) GetRecords() []domain.UsageRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]domain.UsageRecord, len(e.records))
	copy(result, e.records)
	return result
}
