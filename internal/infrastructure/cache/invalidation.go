package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Channel is the NOTIFY channel the database triggers publish changes on
const Channel = "rowguard_invalidate"

// Invalidator drops cached policies
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID string) int
	InvalidateCollection(ctx context.Context, collection string) int
	InvalidateAll(ctx context.Context)
}

// InvalidationListener keeps the policy caches of several server instances
// consistent. It uses PostgreSQL LISTEN/NOTIFY: triggers on the rule,
// permission, macro and group tables publish a payload naming what changed.
//
// Payloads: "collection:<name>", "user:<id>" or "all". Anything else drops
// the whole cache.
type InvalidationListener struct {
	mu           sync.Mutex
	invalidator  Invalidator
	connStr      string
	pingInterval time.Duration
	logger       *zap.Logger
	listener     *pq.Listener
	stopCh       chan struct{}
	done         chan struct{}
	stopped      bool
}

// NewInvalidationListener creates a listener. connStr is the PostgreSQL
// connection string used for the dedicated LISTEN connection.
func NewInvalidationListener(connStr string, invalidator Invalidator, logger *zap.Logger) *InvalidationListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvalidationListener{
		invalidator:  invalidator,
		connStr:      connStr,
		pingInterval: 90 * time.Second,
		logger:       logger,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start opens the LISTEN connection and starts handling notifications.
func (l *InvalidationListener) Start(ctx context.Context) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventReconnected:
			// Notifications may have been lost while disconnected
			l.logger.Warn("invalidation listener reconnected, dropping policy cache")
			l.invalidator.InvalidateAll(context.Background())
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			l.logger.Warn("invalidation listener connection problem", zap.Error(err))
		}
	}

	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}

	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()

	go l.handleNotifications(ctx, listener.Notify, listener.Ping)

	l.logger.Info("listening for rule changes", zap.String("channel", Channel))
	return nil
}

// Stop stops handling notifications and closes the connection.
func (l *InvalidationListener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	close(l.stopCh)
	listener := l.listener
	l.mu.Unlock()

	if listener == nil {
		return nil
	}
	<-l.done
	return listener.Close()
}

// Apply invalidates the cache entries a payload names and reports how many
// were removed; -1 means the whole cache was dropped.
func (l *InvalidationListener) Apply(ctx context.Context, payload string) int {
	kind, value, _ := strings.Cut(payload, ":")
	switch {
	case kind == "collection" && value != "":
		return l.invalidator.InvalidateCollection(ctx, value)
	case kind == "user" && value != "":
		return l.invalidator.InvalidateUser(ctx, value)
	default:
		if payload != "all" {
			l.logger.Warn("unrecognized invalidation payload, dropping policy cache", zap.String("payload", payload))
		}
		l.invalidator.InvalidateAll(ctx)
		return -1
	}
}

// handleNotifications processes incoming NOTIFY events until Stop is called
// or ctx is done.
func (l *InvalidationListener) handleNotifications(ctx context.Context, notify <-chan *pq.Notification, ping func() error) {
	defer close(l.done)

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			if n == nil {
				// Connection re-established; reportProblem already dropped the cache
				continue
			}
			removed := l.Apply(ctx, n.Extra)
			l.logger.Debug("applied invalidation", zap.String("payload", n.Extra), zap.Int("removed", removed))
		case <-ticker.C:
			// Keep the connection alive
			if err := ping(); err != nil {
				l.logger.Warn("invalidation listener ping failed", zap.Error(err))
			}
		}
	}
}
