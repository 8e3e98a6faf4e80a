package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"prospectcrm/internal/domain/progression"
)

type runEntry struct {
	jobType string
	status  string
	details []byte
}

type memRunLog struct {
	mu   sync.Mutex
	runs map[string]*runEntry
	seq  int
	done chan struct{}
}

func newMemRunLog() *memRunLog {
	return &memRunLog{runs: map[string]*runEntry{}, done: make(chan struct{}, 16)}
}

func (l *memRunLog) Begin(ctx context.Context, jobType string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := strconv.Itoa(l.seq)
	l.runs[id] = &runEntry{jobType: jobType, status: statusRunning}
	return id, nil
}

func (l *memRunLog) Finish(ctx context.Context, runID, status string, details []byte) error {
	l.mu.Lock()
	l.runs[runID].status = status
	l.runs[runID].details = details
	l.mu.Unlock()
	select {
	case l.done <- struct{}{}:
	default:
	}
	return nil
}

func (l *memRunLog) get(id string) runEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.runs[id]
}

type sweeperFunc func(ctx context.Context) (progression.SweepResult, error)

func (f sweeperFunc) SweepScores(ctx context.Context) (progression.SweepResult, error) { return f(ctx) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepNowRecordsRun(t *testing.T) {
	log := newMemRunLog()
	svc := New(log, sweeperFunc(func(ctx context.Context) (progression.SweepResult, error) {
		return progression.SweepResult{Customers: 4, Updated: 3, Failed: 1}, nil
	}), 0, quietLogger())

	res, err := svc.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if res.Updated != 3 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	run := log.get("1")
	if run.jobType != JobScoreSweep || run.status != statusCompleted {
		t.Fatalf("unexpected run %+v", run)
	}
	var details progression.SweepResult
	if err := json.Unmarshal(run.details, &details); err != nil {
		t.Fatalf("details json: %v", err)
	}
	if details.Customers != 4 {
		t.Fatalf("expected 4 customers in details, got %+v", details)
	}
}

func TestFailedJobIsMarkedFailed(t *testing.T) {
	log := newMemRunLog()
	svc := New(log, nil, 0, quietLogger())
	boom := errors.New("boom")

	_, err := svc.RunNow(context.Background(), "custom", func(ctx context.Context) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if run := log.get("1"); run.status != statusFailed {
		t.Fatalf("expected failed status, got %q", run.status)
	}
}

func TestScheduledSweepRunsInBackground(t *testing.T) {
	log := newMemRunLog()
	calls := make(chan struct{}, 8)
	svc := New(log, sweeperFunc(func(ctx context.Context) (progression.SweepResult, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return progression.SweepResult{}, nil
	}), 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	select {
	case <-log.done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled sweep did not run")
	}
	if len(calls) == 0 {
		t.Fatal("sweeper was not called")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	svc := New(nil, nil, 0, quietLogger())
	noop := func(ctx context.Context) (any, error) { return nil, nil }
	for i := 0; i < cap(svc.queue); i++ {
		if !svc.Enqueue("noop", noop) {
			t.Fatalf("enqueue %d unexpectedly dropped", i)
		}
	}
	if svc.Enqueue("noop", noop) {
		t.Fatal("expected full queue to drop the job")
	}
}
