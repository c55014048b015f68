package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/RedRL/messaging-system-backend/queue"
	"github.com/RedRL/messaging-system-backend/retry"
	"github.com/RedRL/messaging-system-backend/store"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Registrar provides user, group, and block registration.
type Registrar interface {
	// RegisterUser creates a new user with a generated ID and empty inbox.
	RegisterUser(ctx context.Context) (string, error)
	// CreateGroup creates a group with the given members. The creator is
	// always a member; duplicate member IDs are collapsed.
	CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (string, error)
	// AddUserToGroup adds a registered user to an existing group.
	AddUserToGroup(ctx context.Context, groupID, userID string) error
	// RemoveUserFromGroup removes a user from a group's member set.
	RemoveUserFromGroup(ctx context.Context, groupID, userID string) error
	// BlockUser records that userID refuses delivery from blockedUserID.
	BlockUser(ctx context.Context, userID, blockedUserID string) error
}

// Sender validates and enqueues messages for asynchronous delivery.
type Sender interface {
	// SendMessage validates and enqueues a direct message. Returns the
	// transport-assigned queue ID of the accepted message.
	SendMessage(ctx context.Context, senderID, receiverID, body string) (string, error)
	// SendGroupMessage validates and enqueues a group message.
	SendGroupMessage(ctx context.Context, senderID, groupID, body string) (string, error)
}

// InboxReader retrieves unread messages and flips their read state.
type InboxReader interface {
	// GetNewMessages returns the user's unread messages sorted ascending by
	// timestamp, marking each returned message read for this user.
	GetNewMessages(ctx context.Context, userID string) ([]InboxMessage, error)
}

// Service is the messaging backend: registration, validated sends, queued
// fan-out, and read-tracked inbox retrieval.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
//   - Registrar: User/group/block registration
//   - Sender: Send validation and enqueue
//   - InboxReader: Unread retrieval with read-state transition
type Service interface {
	ServiceHealth
	Registrar
	Sender
	InboxReader

	// Connect establishes connections to the store and queue backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Consumer returns the fan-out consumer driving queued deliveries.
	// Run it in a background goroutine for asynchronous delivery.
	Consumer() *Consumer
	// Events returns per-service event instances for subscribing and
	// publishing.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store     store.Store
	queue     queue.Queue
	logger    *slog.Logger
	opts      *options
	state     int32 // stateDisconnected, stateConnecting, or stateConnected
	otel      *otelInstrumentation
	retryCfg  retry.Config
	fanoutSem *semaphore.Weighted // Limits concurrent inbox appends during fan-out
	eventBus  *event.Bus
	events    *ServiceEvents
}

// NewService creates a new messaging service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}
	if o.queue == nil {
		return nil, ErrQueueRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	retryCfg := o.retryConfig
	retryCfg.IsRetryable = isTransientStoreErr

	return &service{
		store:     o.store,
		queue:     o.queue,
		logger:    o.logger,
		opts:      o,
		otel:      otelInstr,
		retryCfg:  retryCfg,
		fanoutSem: semaphore.NewWeighted(int64(o.maxConcurrentFanout)),
	}, nil
}

// Events returns per-service event instances.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// checkConnected verifies the service is ready for operations.
func (s *service) checkConnected() error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections to the store and queue backends.
func (s *service) Connect(ctx context.Context) error {
	// Three-state transition keeps operations from seeing partial
	// initialization: stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.queue.Connect(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("connect queue: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.queue.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("messaging service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus with its own per-service events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "messaging"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close closes connections to the store and queue backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight fan-out appends to complete. New work is already
	// rejected because checkConnected fails, so acquiring the full semaphore
	// weight means everything in flight has drained.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.fanoutSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentFanout)); err != nil {
		s.logger.Warn("timeout waiting for in-flight fan-out, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.fanoutSem.Release(int64(s.opts.maxConcurrentFanout))
	}

	// Close event bus only if using a real transport. The noop bus holds no
	// resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}
