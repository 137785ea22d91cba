// Package consumer judges submissions delivered through the message queue.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	DefaultTaskTopic = "judge.tasks"

	dedupeKeyPrefix = "judge:task:"
)

// Submitter judges one submission.
type Submitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
}

// Config controls subscription and retry behaviour.
type Config struct {
	Topic           string        `yaml:"topic"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryBaseDelay  time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay   time.Duration `yaml:"retryMaxDelay"`
	MessageTTL      time.Duration `yaml:"messageTTL"`
	// DedupeTTL is how long a task id is remembered to drop redeliveries.
	DedupeTTL time.Duration `yaml:"dedupeTTL"`
}

func (c *Config) setDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTaskTopic
	}
	if c.DeadLetterTopic == "" {
		c.DeadLetterTopic = c.Topic + ".dlq"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 24 * time.Hour
	}
}

// TaskConsumer subscribes to the task topic and submits every task.
type TaskConsumer struct {
	consumer  mq.Consumer
	submitter Submitter
	dedupe    cache.Cache
	limiter   mq.FetchLimiter
	cfg       Config
}

// New creates a task consumer. dedupe and limiter may be nil.
func New(consumer mq.Consumer, submitter Submitter, dedupe cache.Cache, limiter mq.FetchLimiter, cfg Config) *TaskConsumer {
	cfg.setDefaults()
	return &TaskConsumer{consumer: consumer, submitter: submitter, dedupe: dedupe, limiter: limiter, cfg: cfg}
}

// Register subscribes the handler. Messages flow once the consumer is started.
func (c *TaskConsumer) Register(ctx context.Context) error {
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   c.cfg.ConsumerGroup,
		Concurrency:     c.cfg.Concurrency,
		MaxRetries:      c.cfg.MaxRetries,
		RetryDelay:      c.cfg.RetryBaseDelay,
		DeadLetterTopic: c.cfg.DeadLetterTopic,
		MessageTTL:      c.cfg.MessageTTL,
		Backoff:         c.backoff,
		Limiter:         c.limiter,
	}
	if err := c.consumer.Subscribe(ctx, c.cfg.Topic, c.Handle, opts); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "subscribe %s failed", c.cfg.Topic)
	}
	logger.Info(ctx, "judge task consumer registered",
		zap.String("topic", c.cfg.Topic),
		zap.Int("concurrency", c.cfg.Concurrency),
	)
	return nil
}

// Handle judges one task message.
// Returning an error asks the queue to redeliver; bad tasks are logged and dropped.
func (c *TaskConsumer) Handle(ctx context.Context, msg *mq.Message) error {
	if traceID, ok := msg.GetHeader(mq.HeaderTraceID); ok && traceID != "" {
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	}
	ctx = context.WithValue(ctx, contextkey.RequestID, msg.ID)

	var task model.JudgeTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		logger.Warn(ctx, "drop undecodable judge task",
			zap.Int("code", int(appErr.MessageDecodeFail)),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil
	}

	claimed := c.claim(ctx, msg.ID)
	if !claimed {
		logger.Info(ctx, "skip duplicate judge task", zap.String("message_id", msg.ID))
		return nil
	}

	result, err := c.submitter.Submit(ctx, service.SubmitRequest{
		UserID:    task.UserID,
		ProblemID: task.ProblemID,
		Language:  task.Language,
		Code:      task.Code,
		Mode:      model.ModeSubmit,
	})
	if err != nil {
		if appErr.Retryable(err) {
			c.unclaim(ctx, msg.ID)
			logger.Warn(ctx, "judge task failed, will retry",
				zap.String("message_id", msg.ID),
				zap.Int("retry", msg.RetryCount),
				zap.Error(err),
			)
			return err
		}
		logger.Warn(ctx, "drop rejected judge task",
			zap.String("message_id", msg.ID),
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		return nil
	}
	logger.Info(ctx, "judge task done",
		zap.String("message_id", msg.ID),
		zap.String("submission_id", result.SubmissionID),
		zap.String("verdict", string(result.Verdict)),
	)
	return nil
}

// claim reports whether this delivery should be processed.
// Without a dedupe cache, or when it is unreachable, every delivery is processed.
func (c *TaskConsumer) claim(ctx context.Context, id string) bool {
	if c.dedupe == nil || id == "" {
		return true
	}
	ok, err := c.dedupe.SetNX(ctx, dedupeKeyPrefix+id, "1", c.cfg.DedupeTTL)
	if err != nil {
		logger.Warn(ctx, "dedupe check failed", zap.String("message_id", id), zap.Error(err))
		return true
	}
	return ok
}

func (c *TaskConsumer) unclaim(ctx context.Context, id string) {
	if c.dedupe == nil || id == "" {
		return
	}
	if err := c.dedupe.Del(ctx, dedupeKeyPrefix+id); err != nil {
		logger.Warn(ctx, "release dedupe key failed", zap.String("message_id", id), zap.Error(err))
	}
}

func (c *TaskConsumer) backoff(attempt int, _ error) time.Duration {
	return ComputeBackoff(attempt-1, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)
}

// ComputeBackoff doubles base per retry, capped at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
