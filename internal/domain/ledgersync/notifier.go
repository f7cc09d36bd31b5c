package ledgersync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"homeledger/internal/shared/logger"
)

// Notifier is told about sync outcomes and forced expiry. Implementations
// must not block the caller for long and report their own failures.
type Notifier interface {
	SyncFinished(ctx context.Context, conn *Connection, result *SyncResult)
	ConnectionExpired(ctx context.Context, conn *Connection)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) SyncFinished(context.Context, *Connection, *SyncResult) {}
func (NopNotifier) ConnectionExpired(context.Context, *Connection)         {}

// MultiNotifier fans a notification out to each member in order.
type MultiNotifier []Notifier

func (m MultiNotifier) SyncFinished(ctx context.Context, conn *Connection, result *SyncResult) {
	for _, n := range m {
		n.SyncFinished(ctx, conn, result)
	}
}

func (m MultiNotifier) ConnectionExpired(ctx context.Context, conn *Connection) {
	for _, n := range m {
		n.ConnectionExpired(ctx, conn)
	}
}

// TopicMessenger sends a push message to a topic.
// Implemented by the Firebase client in the infrastructure layer.
type TopicMessenger interface {
	SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error
}

// PushNotifier sends user-facing push messages. Successful runs that
// imported nothing stay silent.
type PushNotifier struct {
	messenger TopicMessenger
}

func NewPushNotifier(messenger TopicMessenger) *PushNotifier {
	return &PushNotifier{messenger: messenger}
}

// UserTopic is the push topic a user's devices subscribe to.
func UserTopic(userID int64) string {
	return fmt.Sprintf("ledger-user-%d", userID)
}

func (n *PushNotifier) SyncFinished(ctx context.Context, conn *Connection, result *SyncResult) {
	var title, body string
	switch result.Status {
	case SyncFailed:
		title = "Ledger sync failed"
		body = fmt.Sprintf("%s: %s", conn.TenantName, result.Message)
	case SyncPartial:
		title = "Ledger sync finished with errors"
		body = fmt.Sprintf("%s: %s", conn.TenantName, result.Message)
	default:
		if result.Log == nil || result.Log.TransactionsImported == 0 {
			return
		}
		title = "New transactions imported"
		body = fmt.Sprintf("%d new transactions from %s", result.Log.TransactionsImported, conn.TenantName)
	}

	n.send(ctx, conn, title, body, map[string]string{
		"type":         "ledger_sync",
		"status":       string(result.Status),
		"connectionId": conn.ID,
	})
}

func (n *PushNotifier) ConnectionExpired(ctx context.Context, conn *Connection) {
	n.send(ctx, conn, "Reconnect your accounting ledger",
		fmt.Sprintf("Access to %s expired. Reconnect to continue syncing.", conn.TenantName),
		map[string]string{"type": "ledger_expired", "connectionId": conn.ID})
}

func (n *PushNotifier) send(ctx context.Context, conn *Connection, title, body string, data map[string]string) {
	if err := n.messenger.SendToTopic(ctx, UserTopic(conn.UserID), title, body, data); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"error":         err,
		}).Warn("Failed to send ledger push notification")
	}
}

// EventPublisher writes a keyed event to the event stream.
// Implemented by the Kafka publisher in the infrastructure layer.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// SyncEvent is the payload published for every finished run and expiry.
type SyncEvent struct {
	Event                string     `json:"event"`
	ConnectionID         string     `json:"connectionId"`
	UserID               string     `json:"userId"`
	TenantID             string     `json:"tenantId"`
	Status               string     `json:"status"`
	Message              string     `json:"message,omitempty"`
	TransactionsImported int        `json:"transactionsImported"`
	TransactionsSkipped  int        `json:"transactionsSkipped"`
	Errors               int        `json:"errors"`
	OccurredAt           time.Time  `json:"occurredAt"`
	NextSyncAt           *time.Time `json:"nextSyncAt,omitempty"`
}

const (
	EventSyncFinished      = "sync.finished"
	EventConnectionExpired = "connection.expired"
)

// EventNotifier publishes sync events keyed by connection ID so events of
// one connection stay ordered.
type EventNotifier struct {
	publisher EventPublisher
	now       func() time.Time
}

func NewEventNotifier(publisher EventPublisher) *EventNotifier {
	return &EventNotifier{publisher: publisher, now: time.Now}
}

func (n *EventNotifier) SyncFinished(ctx context.Context, conn *Connection, result *SyncResult) {
	event := n.event(EventSyncFinished, conn)
	event.Status = string(result.Status)
	event.Message = result.Message
	event.Errors = len(result.Errors)
	if result.Log != nil {
		event.TransactionsImported = result.Log.TransactionsImported
		event.TransactionsSkipped = result.Log.TransactionsSkipped
	}
	n.publish(ctx, conn, event)
}

func (n *EventNotifier) ConnectionExpired(ctx context.Context, conn *Connection) {
	event := n.event(EventConnectionExpired, conn)
	event.Status = string(conn.Status)
	event.Message = conn.StatusMessage
	n.publish(ctx, conn, event)
}

func (n *EventNotifier) event(name string, conn *Connection) SyncEvent {
	return SyncEvent{
		Event:        name,
		ConnectionID: conn.ID,
		UserID:       strconv.FormatInt(conn.UserID, 10),
		TenantID:     conn.TenantID,
		OccurredAt:   n.now().UTC(),
		NextSyncAt:   conn.NextSyncAt,
	}
}

func (n *EventNotifier) publish(ctx context.Context, conn *Connection, event SyncEvent) {
	if err := n.publisher.Publish(ctx, conn.ID, event); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"event":         event.Event,
			"error":         err,
		}).Warn("Failed to publish ledger event")
	}
}
