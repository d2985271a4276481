// Package events provides Redis pub/sub notifications for executions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ronai/codegate/internal/audit"
	"github.com/ronai/codegate/internal/config"
)

// ExecutionChannel carries one event per finished execution.
const ExecutionChannel = "execution_events"

// Event types
const (
	TypeCompleted = "execution_completed"
	TypeRejected  = "execution_rejected"
	TypeFailed    = "execution_failed"
)

// ExecutionEvent announces a finished execution.
type ExecutionEvent struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	Pipeline    string `json:"pipeline"`
	RejectRule  string `json:"reject_rule,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	Timestamp   int64  `json:"time"`
}

// NewExecutionEvent derives an event from an audit record.
func NewExecutionEvent(e *audit.Execution) ExecutionEvent {
	ev := ExecutionEvent{
		Type:        TypeCompleted,
		ExecutionID: e.ID,
		Pipeline:    e.Pipeline,
		DurationMS:  e.DurationMS,
	}
	switch {
	case e.Rejected:
		ev.Type = TypeRejected
		ev.RejectRule = e.RejectRule
	case e.Failed:
		ev.Type = TypeFailed
		ev.Error = e.Error
	}
	return ev
}

// Handler handles incoming execution events.
type Handler func(ctx context.Context, event ExecutionEvent) error

// Subscriber subscribes to the execution channel and dispatches events.
type Subscriber struct {
	redis    *redis.Client
	handlers []Handler
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSubscriber creates a new event subscriber.
func NewSubscriber(redisClient *redis.Client) *Subscriber {
	return &Subscriber{redis: redisClient}
}

// AddHandler adds an event handler.
func (s *Subscriber) AddHandler(h Handler) {
	s.handlers = append(s.handlers, h)
}

// Start listens for events until ctx is done or Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	pubsub := s.redis.Subscribe(s.ctx, ExecutionChannel)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(s.ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Printf("Subscribed to %s channel", ExecutionChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.processMessage(msg); err != nil {
				log.Printf("Error processing message: %v", err)
			}
		}
	}
}

// Stop stops the subscriber.
func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Subscriber) processMessage(msg *redis.Message) error {
	var event ExecutionEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	for _, h := range s.handlers {
		if err := h(s.ctx, event); err != nil {
			log.Printf("Handler error: %v", err)
		}
	}
	return nil
}

// Publisher publishes execution events to Redis.
type Publisher struct {
	redis *redis.Client
}

// NewPublisher creates a new event publisher.
func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{redis: redisClient}
}

// PublishExecution publishes an execution event.
func (p *Publisher) PublishExecution(ctx context.Context, event ExecutionEvent) error {
	event.Timestamp = time.Now().Unix()
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, ExecutionChannel, string(data)).Err()
}

// ConnectRedis creates a Redis client from config.
func ConnectRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
