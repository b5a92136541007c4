package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tabrecall/tabrecall/internal/event"
	"github.com/tabrecall/tabrecall/internal/logging"
	"github.com/tabrecall/tabrecall/internal/remote"
)

// DefaultBatchSize is how many events one upload carries.
const DefaultBatchSize = 50

var (
	// ErrSyncInFlight means another sync is already running. At most
	// one sync runs per client at a time.
	ErrSyncInFlight = errors.New("sync already in flight")

	// ErrNoCredential means the agent has no auth token. Returned by
	// commands that need a logged-in user, not by Sync itself.
	ErrNoCredential = errors.New("not logged in")
)

// Sender uploads one event batch. *remote.Client satisfies it.
type Sender interface {
	PostEventBatch(ctx context.Context, events []event.Event) (int, error)
	HasToken() bool
}

// SyncReport summarizes one sync attempt.
type SyncReport struct {
	Pending      int       `json:"pending"`       // events queued when the sync started
	Batches      int       `json:"batches"`       // upload calls attempted
	Synced       int       `json:"synced"`        // events confirmed and removed
	Dropped      int       `json:"dropped"`       // events removed because the server rejected them
	Remaining    int       `json:"remaining"`     // events left for the next cycle
	AuthRequired bool      `json:"auth_required"` // token was rejected; user must log in again
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Engine drains the local store to the server in ordered batches.
type Engine struct {
	store    *Store
	client   Sender
	batch    int
	inFlight atomic.Bool
}

// NewEngine creates a sync engine. Non-positive batchSize falls back to
// DefaultBatchSize; batches above remote.MaxBatchSize would be rejected
// server-side, so the size is clamped.
func NewEngine(store *Store, client Sender, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > remote.MaxBatchSize {
		batchSize = remote.MaxBatchSize
	}
	return &Engine{store: store, client: client, batch: batchSize}
}

// Sync uploads pending events in order, batch by batch, and removes
// confirmed events from the store in one acknowledge at the end.
//
// A batch failure ends the attempt early; unsent batches wait for the
// next cycle (the periodic timer is the retry backoff). A 4xx
// rejection drops the offending batch so it cannot block the queue
// forever. A 401 stops the attempt and flags AuthRequired. Without a
// credential the sync is a no-op, not an error.
func (e *Engine) Sync(ctx context.Context) (*SyncReport, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInFlight
	}
	defer e.inFlight.Store(false)

	report := &SyncReport{Pending: e.store.Len()}
	if !e.client.HasToken() {
		report.Remaining = report.Pending
		report.CompletedAt = time.Now().UTC()
		return report, nil
	}

	pending := e.store.Pending()
	report.Pending = len(pending)

	var confirmed []string
	for start := 0; start < len(pending); start += e.batch {
		end := start + e.batch
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		report.Batches++

		_, err := e.client.PostEventBatch(ctx, batch)
		switch {
		case err == nil:
			for _, ev := range batch {
				confirmed = append(confirmed, ev.ID)
			}
			report.Synced += len(batch)
		case errors.Is(err, remote.ErrUnauthorized):
			report.AuthRequired = true
			report.Error = err.Error()
		case errors.Is(err, remote.ErrRejected):
			// The server will never accept this batch. Drop it so it
			// cannot block everything behind it, and keep going.
			logging.Warnf("sync: dropping batch of %d rejected events: %v", len(batch), err)
			for _, ev := range batch {
				confirmed = append(confirmed, ev.ID)
			}
			report.Dropped += len(batch)
			continue
		default:
			report.Error = err.Error()
		}
		if err != nil {
			break
		}
	}

	e.store.Acknowledge(confirmed)
	report.Remaining = e.store.Len()
	report.CompletedAt = time.Now().UTC()
	return report, nil
}

// Runner triggers syncs on a fixed interval and opportunistically when
// the pending queue crosses a size threshold.
type Runner struct {
	engine    *Engine
	store     *Store
	interval  time.Duration
	threshold int
	trigger   chan struct{}

	// OnReport, if set, is called after every completed sync.
	OnReport func(*SyncReport)
}

// NewRunner creates a Runner. interval and threshold of zero fall back
// to 5 minutes and 10 events.
func NewRunner(engine *Engine, store *Store, interval time.Duration, threshold int) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if threshold <= 0 {
		threshold = 10
	}
	return &Runner{
		engine:    engine,
		store:     store,
		interval:  interval,
		threshold: threshold,
		trigger:   make(chan struct{}, 1),
	}
}

// Notify tells the runner the queue grew. If the pending count has
// crossed the threshold a sync fires immediately, independent of the
// timer. Never blocks.
func (r *Runner) Notify() {
	if r.store.Len() < r.threshold {
		return
	}
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled, syncing on every tick and on every
// threshold trigger.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		r.syncOnce(ctx)
	}
}

func (r *Runner) syncOnce(ctx context.Context) {
	report, err := r.engine.Sync(ctx)
	if errors.Is(err, ErrSyncInFlight) {
		return
	}
	if err != nil {
		logging.Errorf("sync: %v", err)
		return
	}
	if report.Error != "" {
		logging.Warnf("sync: %d/%d events synced, stopping early: %s", report.Synced, report.Pending, report.Error)
	} else if report.Synced > 0 || report.Dropped > 0 {
		logging.Infof("sync: %d synced, %d dropped, %d remaining", report.Synced, report.Dropped, report.Remaining)
	}
	if r.OnReport != nil {
		r.OnReport(report)
	}
}
