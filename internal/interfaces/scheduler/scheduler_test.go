package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/shared/principal"
)

type fakeDue struct {
	conns []*ledgersync.Connection
	err   error
	limit int
}

func (f *fakeDue) ListDue(ctx context.Context, now time.Time, limit int) ([]*ledgersync.Connection, error) {
	f.limit = limit
	return f.conns, f.err
}

type syncCall struct {
	userID       int64
	connectionID string
	syncType     ledgersync.SyncType
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []syncCall
	result *ledgersync.SyncResult
	err    error
	done   chan struct{}
}

func (f *fakeRunner) SyncConnection(ctx context.Context, p principal.Principal, connectionID string, syncType ledgersync.SyncType) (*ledgersync.SyncResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, syncCall{userID: p.UserID, connectionID: connectionID, syncType: syncType})
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	if f.result == nil && f.err == nil {
		return &ledgersync.SyncResult{Success: true, Status: ledgersync.SyncCompleted}, nil
	}
	return f.result, f.err
}

func TestScheduler_PollSubmitsDueConnections(t *testing.T) {
	due := &fakeDue{conns: []*ledgersync.Connection{
		{ID: "conn-1", UserID: 1},
		{ID: "conn-2", UserID: 2},
	}}
	runner := &fakeRunner{done: make(chan struct{}, 2)}
	s := NewScheduler(Config{WorkerCount: 2, QueueSize: 10}, due, runner)
	s.workerPool.Start()
	defer s.Shutdown(time.Second)

	if got := s.poll(); got != 2 {
		t.Fatalf("poll() queued %d, want 2", got)
	}
	for range 2 {
		select {
		case <-runner.done:
		case <-time.After(time.Second):
			t.Fatal("sync never ran")
		}
	}

	if due.limit != defaultDueBatch {
		t.Errorf("ListDue limit = %d", due.limit)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, c := range runner.calls {
		if c.syncType != ledgersync.SyncScheduled {
			t.Errorf("sync type = %s, want scheduled", c.syncType)
		}
		if (c.connectionID == "conn-1" && c.userID != 1) || (c.connectionID == "conn-2" && c.userID != 2) {
			t.Errorf("sync ran as wrong user: %+v", c)
		}
	}
}

func TestScheduler_PollListFailure(t *testing.T) {
	s := NewScheduler(Config{}, &fakeDue{err: errors.New("db down")}, &fakeRunner{})
	defer s.Shutdown(time.Second)

	if got := s.poll(); got != 0 {
		t.Errorf("poll() = %d, want 0", got)
	}
}

func TestScheduler_EnqueueSync(t *testing.T) {
	runner := &fakeRunner{done: make(chan struct{}, 1)}
	s := NewScheduler(Config{WorkerCount: 1, QueueSize: 1}, &fakeDue{}, runner)
	s.workerPool.Start()
	defer s.Shutdown(time.Second)

	if err := s.EnqueueSync(&ledgersync.Connection{ID: "conn-9", UserID: 9}, ledgersync.SyncInitial); err != nil {
		t.Fatalf("EnqueueSync() error = %v", err)
	}
	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("initial sync never ran")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls[0].syncType != ledgersync.SyncInitial || runner.calls[0].connectionID != "conn-9" {
		t.Errorf("call = %+v", runner.calls[0])
	}
}

func TestConnectionSyncJob_Execute(t *testing.T) {
	conn := &ledgersync.Connection{ID: "conn-1", UserID: 3}

	tests := []struct {
		name    string
		runner  *fakeRunner
		wantErr bool
	}{
		{name: "completed", runner: &fakeRunner{}},
		{name: "partial", runner: &fakeRunner{result: &ledgersync.SyncResult{Status: ledgersync.SyncPartial, Errors: []string{"account x"}}}, wantErr: true},
		{name: "failed", runner: &fakeRunner{result: &ledgersync.SyncResult{Status: ledgersync.SyncFailed}, err: ledgersync.ErrAuthenticationExpired}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewConnectionSyncJob(conn, ledgersync.SyncManual, tt.runner)
			err := job.Execute(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.runner.err != nil && !errors.Is(err, tt.runner.err) {
				t.Errorf("Execute() error = %v, want wrapped %v", err, tt.runner.err)
			}
		})
	}

	job := NewConnectionSyncJob(conn, ledgersync.SyncManual, &fakeRunner{})
	if job.Key() != "sync:conn-1" || job.UserID() != "3" {
		t.Errorf("Key() = %q, UserID() = %q", job.Key(), job.UserID())
	}
}
