package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
)

// DefaultResultTopic receives one event per stored submission.
const DefaultResultTopic = "judge.results"

// MQEventPublisher publishes judge events to a message queue.
type MQEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQEventPublisher creates a new MQ judge event publisher.
func NewMQEventPublisher(producer mq.Producer, topic string) *MQEventPublisher {
	if topic == "" {
		topic = DefaultResultTopic
	}
	return &MQEventPublisher{producer: producer, topic: topic}
}

// PublishJudgeEvent publishes event keyed by its submission id.
func (p *MQEventPublisher) PublishJudgeEvent(ctx context.Context, event model.JudgeEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal judge event failed: %w", err)
	}
	message := mq.NewMessage(event.SubmissionID, payload)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		message.SetHeader(mq.HeaderTraceID, traceID)
	}
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish judge event failed")
	}
	return nil
}
