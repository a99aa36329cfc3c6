// Package notify forwards accepted opens to an SQS queue so downstream
// consumers can react without polling the sync API.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
	"github.com/ignite/mail-tracker/internal/service/tracking"
)

// EventOpened is the event_type carried by every message.
const EventOpened = "opened"

const sendTimeout = 5 * time.Second

// Sender is the slice of the SQS client the notifier needs.
type Sender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message is the JSON body published for one accepted open.
type Message struct {
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id"`
	EmailID        string    `json:"email_id"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	DeviceType     string    `json:"device_type,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SQSNotifier publishes accepted opens. Sends run in the background and
// never hold up the pixel response.
type SQSNotifier struct {
	client   Sender
	queueURL string
	onError  func()
	wg       sync.WaitGroup
}

var _ tracking.Notifier = (*SQSNotifier)(nil)

// NewSQSNotifier creates a notifier for queueURL. onError, when non-nil, is
// called once per failed send.
func NewSQSNotifier(client Sender, queueURL string, onError func()) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL, onError: onError}
}

// NotifyOpen queues evt for delivery and returns immediately.
func (n *SQSNotifier) NotifyOpen(_ context.Context, evt domain.OpenEvent) {
	body, err := json.Marshal(Message{
		EventType:      EventOpened,
		EventID:        evt.ID,
		EmailID:        evt.EmailID,
		RecipientEmail: evt.RecipientEmail,
		IPAddress:      evt.IPAddress,
		UserAgent:      evt.UserAgent,
		DeviceType:     evt.DeviceType,
		Timestamp:      evt.Timestamp,
	})
	if err != nil {
		logger.Error("marshal open notification", "email_id", evt.EmailID, "error", err)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		// The request context is gone by the time this runs.
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		_, err := n.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(n.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"event_type": {DataType: aws.String("String"), StringValue: aws.String(EventOpened)},
			},
		})
		if err != nil {
			logger.Error("publish open notification", "email_id", evt.EmailID, "error", err)
			if n.onError != nil {
				n.onError()
			}
		}
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (n *SQSNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
