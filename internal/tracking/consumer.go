package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/logger"
)

// Consumer drains the tracking queue into the delivery engine. A message
// is deleted once applied or once it can never apply; anything else is left
// for SQS to redeliver after its visibility timeout.
type Consumer struct {
	client   SQSAPI
	queueURL string
	events   EventApplier
	wait     int32
	log      *logger.Logger
}

// NewConsumer creates a consumer for queueURL.
func NewConsumer(client SQSAPI, queueURL string, events EventApplier) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		events:   events,
		wait:     20,
		log:      logger.With("component", "tracking-consumer"),
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("[TrackingConsumer] started", "queue", c.queueURL)
	for ctx.Err() == nil {
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Error("[TrackingConsumer] receive failed", "error", err)
			t := time.NewTimer(5 * time.Second)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			t.Stop()
		}
	}
	c.log.Info("[TrackingConsumer] stopped")
}

// PollOnce receives one batch and returns how many messages it applied.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.wait,
	})
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, msg := range out.Messages {
		var evt Event
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil {
			c.log.Warn("[TrackingConsumer] bad message dropped", "message_id", aws.ToString(msg.MessageId), "error", err)
			c.delete(ctx, msg.ReceiptHandle)
			continue
		}
		if evt.ID == "" {
			evt.ID = aws.ToString(msg.MessageId)
		}

		_, err := c.events.ApplyEvent(ctx, evt.OrgID, evt.RecipientID, evt.Input())
		switch {
		case err == nil:
			applied++
			metrics.TrackingEvents.WithLabelValues("sqs", string(evt.Type), "applied").Inc()
		case isPermanent(err):
			metrics.TrackingEvents.WithLabelValues("sqs", string(evt.Type), "dropped").Inc()
			c.log.Warn("[TrackingConsumer] event dropped", "recipient_id", evt.RecipientID, "type", evt.Type, "error", err)
		default:
			metrics.TrackingEvents.WithLabelValues("sqs", string(evt.Type), "error").Inc()
			c.log.Error("[TrackingConsumer] apply failed", "recipient_id", evt.RecipientID, "type", evt.Type, "error", err)
			continue
		}
		c.delete(ctx, msg.ReceiptHandle)
	}
	return applied, nil
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		c.log.Warn("[TrackingConsumer] delete failed", "error", err)
	}
}
