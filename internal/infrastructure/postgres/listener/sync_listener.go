package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"homeledger/internal/shared/logger"
)

const (
	// ChannelName is notified by the ledger_account_mappings trigger when a
	// mapping becomes linked with sync enabled.
	ChannelName       = "ledger_sync_requested"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// SyncRequest is the payload of a ledger_sync_requested notification.
type SyncRequest struct {
	ConnectionID string `json:"connection_id"`
}

// Handler reacts to one sync request. It runs on the listener goroutine and
// must not block for long.
type Handler func(ctx context.Context, req SyncRequest)

// SyncListener listens for sync requests raised by the database.
type SyncListener struct {
	connStr    string
	handle     Handler
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewSyncListener(connStr string, handle Handler) *SyncListener {
	return &SyncListener{
		connStr:    connStr,
		handle:     handle,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *SyncListener) Start(ctx context.Context) {
	go l.listen(ctx)
	logger.Log.WithFields(logrus.Fields{"channel": ChannelName}).Info("Sync request listener started")
}

// Stop gracefully shuts down the listener
func (l *SyncListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	logger.Log.Info("Sync request listener stopped")
}

func (l *SyncListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			logger.Log.Info("Reconnecting to PostgreSQL for notifications...")
		}
	}
}

func (l *SyncListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, logListenerEvent)
	defer listener.Close()

	if err := listener.Listen(ChannelName); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"channel": ChannelName,
			"error":   err,
		}).Error("Failed to listen on channel")
		return
	}

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost, break to reconnect
				return
			}
			l.dispatch(ctx, notification)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					logger.Log.WithFields(logrus.Fields{"error": err}).Warn("Listener ping failed")
				}
			}()
		}
	}
}

func (l *SyncListener) dispatch(ctx context.Context, notification *pq.Notification) {
	req, err := ParseSyncRequest(notification.Extra)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"channel": notification.Channel,
			"error":   err,
		}).Warn("Ignoring malformed sync request")
		return
	}

	logger.Log.WithFields(logrus.Fields{"connection_id": req.ConnectionID}).Debug("Received sync request")
	l.handle(ctx, req)
}

// ParseSyncRequest decodes a notification payload.
func ParseSyncRequest(payload string) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return SyncRequest{}, fmt.Errorf("failed to parse sync request: %w", err)
	}
	if req.ConnectionID == "" {
		return SyncRequest{}, fmt.Errorf("sync request has no connection_id")
	}
	return req, nil
}

func logListenerEvent(ev pq.ListenerEventType, err error) {
	entry := logger.Log.WithFields(logrus.Fields{"channel": ChannelName})
	switch ev {
	case pq.ListenerEventConnected:
		entry.Info("Connected to PostgreSQL notification channel")
	case pq.ListenerEventDisconnected:
		entry.WithFields(logrus.Fields{"error": err}).Warn("Disconnected from PostgreSQL notification channel")
	case pq.ListenerEventReconnected:
		entry.Info("Reconnected to PostgreSQL notification channel")
	case pq.ListenerEventConnectionAttemptFailed:
		entry.WithFields(logrus.Fields{"error": err}).Warn("Connection attempt failed")
	}
}
