package ledgersync

import (
	"context"
	"errors"
	"testing"
)

type fakeMessenger struct {
	topics []string
	data   []map[string]string
	err    error
}

func (f *fakeMessenger) SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error {
	f.topics = append(f.topics, topic)
	f.data = append(f.data, data)
	return f.err
}

type fakePublisher struct {
	keys   []string
	events []SyncEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, key string, event any) error {
	f.keys = append(f.keys, key)
	f.events = append(f.events, event.(SyncEvent))
	return f.err
}

func TestPushNotifier(t *testing.T) {
	conn := &Connection{ID: "conn-1", UserID: 7, TenantName: "Household"}

	tests := []struct {
		name     string
		result   *SyncResult
		wantSent bool
	}{
		{name: "failed", result: &SyncResult{Status: SyncFailed, Message: "expired"}, wantSent: true},
		{name: "partial", result: &SyncResult{Status: SyncPartial, Log: &SyncLog{}}, wantSent: true},
		{name: "completed with imports", result: &SyncResult{Status: SyncCompleted, Log: &SyncLog{TransactionsImported: 3}}, wantSent: true},
		{name: "completed with nothing new", result: &SyncResult{Status: SyncCompleted, Log: &SyncLog{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMessenger{}
			NewPushNotifier(m).SyncFinished(context.Background(), conn, tt.result)
			if sent := len(m.topics) == 1; sent != tt.wantSent {
				t.Fatalf("sent = %v, want %v", sent, tt.wantSent)
			}
			if tt.wantSent {
				if m.topics[0] != "ledger-user-7" {
					t.Errorf("topic = %q", m.topics[0])
				}
				if m.data[0]["status"] != string(tt.result.Status) {
					t.Errorf("data = %v", m.data[0])
				}
			}
		})
	}
}

func TestPushNotifier_ErrorsAreSwallowed(t *testing.T) {
	m := &fakeMessenger{err: errors.New("unavailable")}
	NewPushNotifier(m).ConnectionExpired(context.Background(), &Connection{ID: "c", UserID: 1})
	if len(m.topics) != 1 || m.data[0]["type"] != "ledger_expired" {
		t.Errorf("sent = %v %v", m.topics, m.data)
	}
}

func TestEventNotifier(t *testing.T) {
	p := &fakePublisher{}
	n := NewEventNotifier(p)
	n.now = fixedClock(testNow)
	conn := &Connection{ID: "conn-1", UserID: 7, TenantID: "tenant-1", Status: StatusExpired, StatusMessage: "reconnect"}

	n.SyncFinished(context.Background(), conn, &SyncResult{
		Status: SyncPartial,
		Errors: []string{"a", "b"},
		Log:    &SyncLog{TransactionsImported: 4, TransactionsSkipped: 1},
	})
	n.ConnectionExpired(context.Background(), conn)

	if len(p.events) != 2 {
		t.Fatalf("events = %d, want 2", len(p.events))
	}
	finished := p.events[0]
	if p.keys[0] != "conn-1" || finished.Event != EventSyncFinished || finished.UserID != "7" {
		t.Errorf("finished event = %+v key=%s", finished, p.keys[0])
	}
	if finished.TransactionsImported != 4 || finished.Errors != 2 || !finished.OccurredAt.Equal(testNow) {
		t.Errorf("finished counts = %+v", finished)
	}
	if p.events[1].Event != EventConnectionExpired || p.events[1].Message != "reconnect" {
		t.Errorf("expired event = %+v", p.events[1])
	}
}

func TestMultiNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	multi := MultiNotifier{a, b, NopNotifier{}}

	multi.SyncFinished(context.Background(), &Connection{}, &SyncResult{})
	multi.ConnectionExpired(context.Background(), &Connection{ID: "c"})

	for i, r := range []*recordingNotifier{a, b} {
		if len(r.finished) != 1 || len(r.expired) != 1 {
			t.Errorf("notifier %d: finished=%d expired=%d", i, len(r.finished), len(r.expired))
		}
	}
}
