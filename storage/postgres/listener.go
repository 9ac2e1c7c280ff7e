package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/docsync/logging"
)

// ChangeNotification is the payload of a revision insert notification.
type ChangeNotification struct {
	DocumentID string `json:"doc_id"`
	Revision   string `json:"rev"`
	Status     int    `json:"status"`
}

// ChangeHandler handles one notification.
type ChangeHandler func(n ChangeNotification) error

// SubscriptionManager routes notifications to the handlers of their channel.
type SubscriptionManager struct {
	subscriptions map[string][]ChangeHandler
	mu            stdSync.RWMutex
}

// NewSubscriptionManager creates a new subscription manager
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{subscriptions: make(map[string][]ChangeHandler)}
}

// Subscribe adds a handler for a channel.
func (sm *SubscriptionManager) Subscribe(channel string, handler ChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subscriptions[channel] = append(sm.subscriptions[channel], handler)
}

// Unsubscribe removes the handlers of a channel.
func (sm *SubscriptionManager) Unsubscribe(channel string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.subscriptions, channel)
}

// Channels returns the subscribed channels.
func (sm *SubscriptionManager) Channels() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	channels := make([]string, 0, len(sm.subscriptions))
	for channel := range sm.subscriptions {
		channels = append(channels, channel)
	}
	return channels
}

// HandleNotification parses payload and calls every handler of channel. A
// handler error does not stop the others; the first one is returned.
func (sm *SubscriptionManager) HandleNotification(channel, payload string) error {
	sm.mu.RLock()
	handlers := append([]ChangeHandler(nil), sm.subscriptions[channel]...)
	sm.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	var n ChangeNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("failed to parse notification payload: %w", err)
	}
	if n.DocumentID == "" {
		return fmt.Errorf("notification on %s has no document ID", channel)
	}
	var first error
	for _, handler := range handlers {
		if err := handler(n); err != nil && first == nil {
			first = fmt.Errorf("handler error for channel %s: %w", channel, err)
		}
	}
	return first
}

// ListenerOption configures a NotificationListener.
type ListenerOption func(*NotificationListener)

// WithReconnectInterval sets the minimum reconnect backoff. The maximum is
// twelve times that.
func WithReconnectInterval(d time.Duration) ListenerOption {
	return func(nl *NotificationListener) {
		if d > 0 {
			nl.reconnectInterval = d
		}
	}
}

// WithNotificationTimeout sets how long the listener waits for a
// notification before pinging the server.
func WithNotificationTimeout(d time.Duration) ListenerOption {
	return func(nl *NotificationListener) {
		if d > 0 {
			nl.notificationTimeout = d
		}
	}
}

// NotificationListener manages a PostgreSQL LISTEN connection.
type NotificationListener struct {
	logger   *logging.Logger
	listener *pq.Listener
	closed   int32 // atomic
	started  int32 // atomic

	subscriptions *SubscriptionManager
	onResync      func()

	reconnectInterval   time.Duration
	notificationTimeout time.Duration

	done chan struct{}
}

// NewNotificationListener creates a listener for connectionString. It
// connects in the background.
func NewNotificationListener(connectionString string, logger *logging.Logger, opts ...ListenerOption) (*NotificationListener, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	nl := &NotificationListener{
		logger:              logger.WithComponent(logging.ComponentStore),
		subscriptions:       NewSubscriptionManager(),
		reconnectInterval:   5 * time.Second,
		notificationTimeout: 30 * time.Second,
		done:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(nl)
	}
	nl.listener = pq.NewListener(connectionString, nl.reconnectInterval, 12*nl.reconnectInterval, nl.eventCallback)
	return nl, nil
}

// OnResync registers fn to run after a reconnect. Notifications sent while
// the connection was down are lost, so fn should rescan.
func (nl *NotificationListener) OnResync(fn func()) { nl.onResync = fn }

func (nl *NotificationListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		nl.logger.Debug("connected to PostgreSQL for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		nl.logger.Warn("disconnected from PostgreSQL", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		nl.logger.Info("reconnected to PostgreSQL")
	case pq.ListenerEventConnectionAttemptFailed:
		nl.logger.Warn("connection attempt failed", slog.Any("error", err))
	}
}

// Start runs the listen loop until ctx is done or Close is called.
func (nl *NotificationListener) Start(ctx context.Context) error {
	if atomic.LoadInt32(&nl.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}
	if !atomic.CompareAndSwapInt32(&nl.started, 0, 1) {
		return nil
	}
	go nl.listenLoop(ctx)
	return nil
}

func (nl *NotificationListener) listenLoop(ctx context.Context) {
	defer nl.logger.Debug("notification listener stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-nl.done:
			return
		case n := <-nl.listener.Notify:
			if n == nil {
				// pq sends nil after re-establishing the connection.
				if nl.onResync != nil {
					nl.onResync()
				}
				continue
			}
			if err := nl.subscriptions.HandleNotification(n.Channel, n.Extra); err != nil {
				nl.logger.Warn("error handling notification",
					slog.String("channel", n.Channel), slog.Any("error", err))
			}
		case <-time.After(nl.notificationTimeout):
			go func() {
				if err := nl.listener.Ping(); err != nil {
					nl.logger.Debug("ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

// Subscribe registers handler for channel and issues LISTEN.
func (nl *NotificationListener) Subscribe(channel string, handler ChangeHandler) error {
	if atomic.LoadInt32(&nl.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}
	nl.subscriptions.Subscribe(channel, handler)
	if err := nl.listener.Listen(channel); err != nil && err != pq.ErrChannelAlreadyOpen {
		nl.subscriptions.Unsubscribe(channel)
		return fmt.Errorf("failed to listen to channel %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe drops the handlers of channel and issues UNLISTEN.
func (nl *NotificationListener) Unsubscribe(channel string) error {
	nl.subscriptions.Unsubscribe(channel)
	if err := nl.listener.Unlisten(channel); err != nil && err != pq.ErrChannelNotOpen {
		return fmt.Errorf("failed to unlisten from channel %s: %w", channel, err)
	}
	return nil
}

// IsConnected reports whether the listener can reach the server.
func (nl *NotificationListener) IsConnected() bool {
	if atomic.LoadInt32(&nl.closed) == 1 {
		return false
	}
	return nl.listener.Ping() == nil
}

// Close stops the listen loop and closes the connection.
func (nl *NotificationListener) Close() error {
	if !atomic.CompareAndSwapInt32(&nl.closed, 0, 1) {
		return nil
	}
	close(nl.done)
	return nl.listener.Close()
}
