package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
	"lancast/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ ports.EventPublisher = (*EventBus)(nil)

// Envelope is the wire form of a session event on the bus.
type Envelope struct {
	InstanceID string              `json:"instance_id"`
	Event      domain.SessionEvent `json:"event"`
}

type EventBusConfig struct {
	Channel        string
	QueueSize      int
	PublishTimeout time.Duration
	Breaker        circuitbreaker.Config
}

func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Channel:        "lancast:events",
		QueueSize:      256,
		PublishTimeout: time.Second,
		Breaker: circuitbreaker.Config{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Cooldown:         10 * time.Second,
			MaxProbes:        1,
		},
	}
}

// EventBus mirrors session events to a Redis channel. Publish never blocks the
// caller: events are queued and sent by a single worker, and are dropped when
// the queue is full or Redis is unreachable.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	cfg        EventBusConfig
	logger     *zap.SugaredLogger
	breaker    *circuitbreaker.CircuitBreaker

	queue     chan domain.SessionEvent
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	closed   bool
	onFailed func()
}

func NewEventBus(
	client redis.UniversalClient,
	instanceID string,
	cfg EventBusConfig,
	logger *zap.SugaredLogger,
) *EventBus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultEventBusConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultEventBusConfig().PublishTimeout
	}

	eb := &EventBus{
		client:     client,
		instanceID: instanceID,
		cfg:        cfg,
		logger:     logger.With("component", "event_bus"),
		breaker:    circuitbreaker.New(cfg.Breaker),
		queue:      make(chan domain.SessionEvent, cfg.QueueSize),
		done:       make(chan struct{}),
	}
	eb.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		eb.logger.Warnw("event bus breaker changed state", "from", from, "to", to)
	})

	go eb.run()
	return eb
}

// OnPublishFailed registers a hook called for every dropped event.
func (eb *EventBus) OnPublishFailed(fn func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.onFailed = fn
}

func (eb *EventBus) Publish(ev domain.SessionEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	select {
	case eb.queue <- ev:
	default:
		eb.logger.Warnw("event queue full, dropping event", "type", ev.Type, "session_id", ev.SessionID)
		eb.failedLocked()
	}
}

func (eb *EventBus) run() {
	defer close(eb.done)
	for ev := range eb.queue {
		ctx, cancel := context.WithTimeout(context.Background(), eb.cfg.PublishTimeout)
		err := eb.PublishSync(ctx, ev)
		cancel()
		if err != nil {
			level := eb.logger.Warnw
			if errors.Is(err, circuitbreaker.ErrOpen) {
				level = eb.logger.Debugw
			}
			level("failed to publish event", "type", ev.Type, "error", err)

			eb.mu.Lock()
			eb.failedLocked()
			eb.mu.Unlock()
		}
	}
}

func (eb *EventBus) failedLocked() {
	if eb.onFailed != nil {
		eb.onFailed()
	}
}

// PublishSync sends one event and waits for Redis to accept it.
func (eb *EventBus) PublishSync(ctx context.Context, ev domain.SessionEvent) error {
	data, err := json.Marshal(Envelope{InstanceID: eb.instanceID, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = eb.breaker.Execute(ctx, func(ctx context.Context) error {
		return eb.client.Publish(ctx, eb.cfg.Channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", ev.Type,
		"session_id", ev.SessionID,
		"peer", ev.Peer,
	)
	return nil
}

// Subscribe delivers events published by other instances until ctx ends.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Envelope)) error {
	pubsub := eb.client.Subscribe(ctx, eb.cfg.Channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if env.InstanceID == eb.instanceID {
				continue
			}
			handler(env)
		}
	}
}

// Close stops accepting events and waits for the queue to drain.
func (eb *EventBus) Close() error {
	eb.closeOnce.Do(func() {
		eb.mu.Lock()
		eb.closed = true
		close(eb.queue)
		eb.mu.Unlock()
	})
	<-eb.done
	return nil
}
