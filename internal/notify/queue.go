// Package notify publishes lifecycle notifications about replay events to an
// SQS queue consumed by downstream cleanup workers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// QueueAPI is the slice of the SQS API the notifier uses. *sqs.Client
// satisfies it.
type QueueAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeletionMessage is the wire shape consumers expect on the queue. Field
// names are part of the contract.
type DeletionMessage struct {
	Event   string `json:"Event"`
	Program string `json:"Program"`
	Profile string `json:"Profile"`
}

// QueueNotifier sends event-deleted messages to a fixed queue URL.
type QueueNotifier struct {
	client   QueueAPI
	queueURL string
	logger   *slog.Logger
}

// NewQueueNotifier returns a notifier bound to the given queue URL.
func NewQueueNotifier(client QueueAPI, queueURL string, logger *slog.Logger) (*QueueNotifier, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, errors.New("queue URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{client: client, queueURL: strings.TrimSpace(queueURL), logger: logger}, nil
}

// EventDeleted notifies downstream consumers that the named event has been
// deleted so they can reclaim cached segments and derived artifacts.
func (n *QueueNotifier) EventDeleted(ctx context.Context, program, event, profile string) error {
	switch {
	case strings.TrimSpace(program) == "":
		return errors.New("program name is required")
	case strings.TrimSpace(event) == "":
		return errors.New("event name is required")
	case strings.TrimSpace(profile) == "":
		return errors.New("profile name is required")
	}

	body, err := json.Marshal(DeletionMessage{Event: event, Program: program, Profile: profile})
	if err != nil {
		return fmt.Errorf("marshal deletion message: %w", err)
	}

	n.logger.Info("sending event deletion notification", "program", program, "event", event)
	if _, err := n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	}); err != nil {
		return fmt.Errorf("send deletion message for %s/%s: %w", program, event, err)
	}
	return nil
}
