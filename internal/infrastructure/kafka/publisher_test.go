package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"homeledger/internal/domain/ledgersync"
)

type mockWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.messages = append(m.messages, msgs...)
	return m.err
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublish(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	event := ledgersync.SyncEvent{Event: ledgersync.EventSyncFinished, ConnectionID: "conn-1", TransactionsImported: 3}
	if err := p.Publish(context.Background(), "conn-1", event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "conn-1" {
		t.Errorf("key = %q", msg.Key)
	}
	if got := header(msg, EventTypeHeaderKey); got != ledgersync.EventSyncFinished {
		t.Errorf("event header = %q", got)
	}
	if got := header(msg, PublishedAtHeaderKey); got != "2024-03-01T12:00:00Z" {
		t.Errorf("published_at header = %q", got)
	}

	var decoded ledgersync.SyncEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.ConnectionID != "conn-1" || decoded.TransactionsImported != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPublish_Errors(t *testing.T) {
	t.Run("writer failure", func(t *testing.T) {
		writeErr := errors.New("broker down")
		p := NewPublisher(&mockWriter{err: writeErr})
		if err := p.Publish(context.Background(), "k", map[string]string{}); !errors.Is(err, writeErr) {
			t.Errorf("Publish() error = %v, want wrapped %v", err, writeErr)
		}
	})

	t.Run("unencodable event", func(t *testing.T) {
		w := &mockWriter{}
		p := NewPublisher(w)
		if err := p.Publish(context.Background(), "k", make(chan int)); err == nil {
			t.Error("Publish() error = nil for unencodable event")
		}
		if len(w.messages) != 0 {
			t.Error("message written for unencodable event")
		}
	})
}

func TestClose(t *testing.T) {
	w := &mockWriter{}
	if err := NewPublisher(w).Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}
