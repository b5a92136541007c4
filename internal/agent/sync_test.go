package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabrecall/tabrecall/internal/event"
	"github.com/tabrecall/tabrecall/internal/remote"
)

// fakeSender records batches and fails selected calls.
type fakeSender struct {
	mu      sync.Mutex
	token   bool
	batches [][]event.Event
	failOn  map[int]error // 1-based call number -> error
	block   chan struct{} // if set, calls wait here
	started chan struct{} // if set, signalled when a call begins
}

func (f *fakeSender) HasToken() bool { return f.token }

func (f *fakeSender) PostEventBatch(ctx context.Context, events []event.Event) (int, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
	if err, ok := f.failOn[len(f.batches)]; ok {
		return 0, err
	}
	return len(events), nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func fillStore(s *Store, n int) {
	for i := 0; i < n; i++ {
		s.Append(makeEvent(i))
	}
}

func TestSync_DrainsInOrderedBatches(t *testing.T) {
	store := NewStore(DefaultCapacity)
	fillStore(store, 120)
	sender := &fakeSender{token: true}
	engine := NewEngine(store, sender, 50)

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, sender.calls())
	assert.Len(t, sender.batches[0], 50)
	assert.Len(t, sender.batches[1], 50)
	assert.Len(t, sender.batches[2], 20)
	assert.Equal(t, "local-0", sender.batches[0][0].ID)
	assert.Equal(t, "local-119", sender.batches[2][19].ID)

	assert.Equal(t, 120, report.Pending)
	assert.Equal(t, 120, report.Synced)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, 0, store.Len())
}

func TestSync_StopsOnTransientFailure(t *testing.T) {
	store := NewStore(DefaultCapacity)
	fillStore(store, 120)
	sender := &fakeSender{
		token:  true,
		failOn: map[int]error{2: errors.New("connection refused")},
	}
	engine := NewEngine(store, sender, 50)

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	// The third batch is never attempted; only the first is confirmed.
	assert.Equal(t, 2, sender.calls())
	assert.Equal(t, 50, report.Synced)
	assert.Equal(t, 70, report.Remaining)
	assert.Equal(t, 70, store.Len())
	assert.False(t, report.AuthRequired)
	assert.NotEmpty(t, report.Error)

	// The failed events stay at the head of the queue for retry.
	assert.Equal(t, "local-50", store.Pending()[0].ID)
}

func TestSync_UnauthorizedStopsAndFlagsReauth(t *testing.T) {
	store := NewStore(DefaultCapacity)
	fillStore(store, 10)
	sender := &fakeSender{
		token:  true,
		failOn: map[int]error{1: remote.ErrUnauthorized},
	}
	engine := NewEngine(store, sender, 50)

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, report.AuthRequired)
	assert.Equal(t, 0, report.Synced)
	assert.Equal(t, 10, store.Len())
}

func TestSync_RejectedBatchIsDroppedAndSyncContinues(t *testing.T) {
	store := NewStore(DefaultCapacity)
	fillStore(store, 100)
	sender := &fakeSender{
		token:  true,
		failOn: map[int]error{1: remote.ErrRejected},
	}
	engine := NewEngine(store, sender, 50)

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sender.calls())
	assert.Equal(t, 50, report.Dropped)
	assert.Equal(t, 50, report.Synced)
	assert.Equal(t, 0, store.Len())
}

func TestSync_NoCredentialIsNoOp(t *testing.T) {
	store := NewStore(DefaultCapacity)
	fillStore(store, 5)
	sender := &fakeSender{token: false}
	engine := NewEngine(store, sender, 50)

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sender.calls())
	assert.Equal(t, 0, report.Synced)
	assert.Equal(t, 5, report.Remaining)
	assert.Equal(t, 5, store.Len())
}

func TestSync_AtMostOneInFlight(t *testing.T) {
	store := NewStore(DefaultCapacity)
	fillStore(store, 5)
	sender := &fakeSender{token: true, block: make(chan struct{}), started: make(chan struct{}, 1)}
	engine := NewEngine(store, sender, 50)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := engine.Sync(context.Background())
		assert.NoError(t, err)
	}()

	// Wait until the first sync holds the latch inside its upload call.
	<-sender.started
	_, err := engine.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInFlight)

	close(sender.block)
	<-done

	// Latch released; a new sync runs.
	_, err = engine.Sync(context.Background())
	assert.NoError(t, err)
}

func TestRunner_NotifyRespectsThreshold(t *testing.T) {
	store := NewStore(DefaultCapacity)
	sender := &fakeSender{token: true}
	engine := NewEngine(store, sender, 50)
	runner := NewRunner(engine, store, time.Hour, 10)

	fillStore(store, 9)
	runner.Notify()
	select {
	case <-runner.trigger:
		t.Fatal("trigger fired below threshold")
	default:
	}

	store.Append(makeEvent(9))
	runner.Notify()
	select {
	case <-runner.trigger:
	default:
		t.Fatal("trigger did not fire at threshold")
	}

	// Repeated notifies never block even with the trigger pending.
	runner.Notify()
	runner.Notify()
}

func TestRunner_ThresholdTriggerFiresSync(t *testing.T) {
	store := NewStore(DefaultCapacity)
	sender := &fakeSender{token: true}
	engine := NewEngine(store, sender, 50)
	runner := NewRunner(engine, store, time.Hour, 3)

	var reportMu sync.Mutex
	var reports []*SyncReport
	runner.OnReport = func(r *SyncReport) {
		reportMu.Lock()
		reports = append(reports, r)
		reportMu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	fillStore(store, 4)
	runner.Notify()

	require.Eventually(t, func() bool {
		reportMu.Lock()
		defer reportMu.Unlock()
		return len(reports) == 1 && reports[0].Synced == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, store.Len())
}
