package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"

	"github.com/google/uuid"
)

// TaskProducer enqueues judge tasks for asynchronous judging.
type TaskProducer struct {
	producer mq.Producer
	topic    string
}

// NewTaskProducer creates a producer for topic, DefaultTaskTopic when empty.
func NewTaskProducer(producer mq.Producer, topic string) *TaskProducer {
	if topic == "" {
		topic = DefaultTaskTopic
	}
	return &TaskProducer{producer: producer, topic: topic}
}

// Enqueue publishes task and returns the task id used for deduplication.
func (p *TaskProducer) Enqueue(ctx context.Context, task model.JudgeTask) (string, error) {
	if task.UserID == "" {
		return "", appErr.ValidationError("userId", "required")
	}
	if task.ProblemID == "" {
		return "", appErr.ValidationError("problemId", "required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal judge task failed: %w", err)
	}
	id := uuid.NewString()
	msg := mq.NewMessage(id, body)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		msg.SetHeader(mq.HeaderTraceID, traceID)
	}
	if err := p.producer.Publish(ctx, p.topic, msg); err != nil {
		return "", appErr.Wrapf(err, appErr.PublishFailed, "enqueue judge task failed")
	}
	return id, nil
}
