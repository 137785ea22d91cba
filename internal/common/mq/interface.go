// Package mq wraps the message broker used for judge tasks and judge events.
package mq

import (
	"context"
	"time"
)

// HeaderTraceID carries the trace id of the request that produced a message.
const HeaderTraceID = "x-trace-id"

// MessageQueue is a broker connection that can both publish and consume.
type MessageQueue interface {
	Producer
	Consumer
	Ping(ctx context.Context) error
	Close() error
}

type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer dispatches messages of subscribed topics to handlers.
// Subscriptions begin consuming on Start. Stop cancels them and waits for their workers.
type Consumer interface {
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// Message is the broker-independent envelope. ID doubles as the partition key.
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	// Expiration drops the message once it is older than this.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message. A non-nil error schedules a retry until MaxRetries is
// exhausted, then the message goes to the dead-letter topic.
type HandlerFunc func(ctx context.Context, message *Message) error

type SubscribeOptions struct {
	ConsumerGroup string

	// PrefetchCount is the number of messages buffered per worker. Default 1.
	PrefetchCount int
	// Concurrency is the number of handler goroutines. Default 1.
	Concurrency int
	// MaxRetries is the number of redeliveries after the first attempt. Default 3.
	MaxRetries int
	// RetryDelay applies when Backoff is nil. Default 1s.
	RetryDelay time.Duration
	Backoff    func(attempt int, err error) time.Duration

	// DeadLetterTopic receives messages whose retries are exhausted. Empty drops them.
	DeadLetterTopic string
	// MessageTTL drops messages older than this before they are handled.
	MessageTTL time.Duration

	// Limiter, when set, must grant a token before each fetch.
	// The token is returned after the message is handled.
	Limiter FetchLimiter
}

func (o *SubscribeOptions) SetDefaults() {
	if o.PrefetchCount == 0 {
		o.PrefetchCount = 1
	}
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

func NewMessage(id string, body []byte) *Message {
	return &Message{
		ID:        id,
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}
