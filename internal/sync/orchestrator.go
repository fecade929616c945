// Package sync is the scheduling core: it decides when to run a sync
// pass, drains the submission queue against the remote store one item at
// a time, forwards successes to the secondary sheet target, and
// reconciles outcomes back into the queue.
package sync

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chmdznr/fieldsync/internal/connectivity"
	"github.com/chmdznr/fieldsync/internal/queue"
	"github.com/chmdznr/fieldsync/internal/remote"
	"github.com/chmdznr/fieldsync/internal/sheets"
	"github.com/chmdznr/fieldsync/internal/store"
	"github.com/chmdznr/fieldsync/pkg/models"
)

// PassState is the orchestrator's single-flight state. Only the
// orchestrator itself transitions it.
type PassState int32

const (
	Idle PassState = iota
	Draining
)

// ErrPassInProgress is returned when a pass is requested while another
// is draining. Requests are dropped, never queued.
var ErrPassInProgress = errors.New("sync pass already in progress")

// Summary reports the outcome of one completed pass.
type Summary struct {
	Started   time.Time
	Duration  time.Duration
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int // exhausted items excluded from an automatic pass
	Manual    bool
}

// Config holds configuration for the orchestrator.
type Config struct {
	// Interval is the periodic trigger while online.
	Interval time.Duration

	// SettleDelay is how long to wait after an offline->online edge
	// before draining, to avoid thrashing on flaky links.
	SettleDelay time.Duration

	// Progress, if set, is called after each item of a pass (CLI bar).
	Progress func(done, total int)

	// Logger for orchestrator activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:    5 * time.Minute,
		SettleDelay: 10 * time.Second,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Orchestrator drains the offline submission queue.
type Orchestrator struct {
	queue   *queue.Manager
	db      *store.DB
	remote  remote.Store
	sheets  sheets.Target // nil disables the secondary target
	monitor *connectivity.Monitor
	config  *Config

	state atomic.Int32

	settleMu    sync.Mutex
	settleTimer *time.Timer
}

// New creates an orchestrator. The sheet target may be nil; monitor may
// be nil when only manual passes are wanted.
func New(q *queue.Manager, db *store.DB, remoteStore remote.Store, target sheets.Target, monitor *connectivity.Monitor, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Orchestrator{
		queue:   q,
		db:      db,
		remote:  remoteStore,
		sheets:  target,
		monitor: monitor,
		config:  config,
	}
}

// State returns the current pass state.
func (o *Orchestrator) State() PassState {
	return PassState(o.state.Load())
}

// SyncNow runs one user-initiated pass. It retries every pending item,
// including those past the retry ceiling, but is still subject to the
// single-flight rule: ErrPassInProgress if a pass is already draining.
func (o *Orchestrator) SyncNow(ctx context.Context) (*Summary, error) {
	return o.trigger(ctx, true)
}

// trigger enters Draining if idle, runs one pass, and returns to Idle
// unconditionally.
func (o *Orchestrator) trigger(ctx context.Context, manual bool) (*Summary, error) {
	if !o.state.CompareAndSwap(int32(Idle), int32(Draining)) {
		return nil, ErrPassInProgress
	}
	defer o.state.Store(int32(Idle))

	return o.runPass(ctx, manual)
}

// runPass drains a snapshot of the pending queue, strictly sequentially.
// Per-item failures are recorded locally and never abort the pass.
func (o *Orchestrator) runPass(ctx context.Context, manual bool) (*Summary, error) {
	summary := &Summary{Started: time.Now(), Manual: manual}
	defer func() { summary.Duration = time.Since(summary.Started) }()

	pending, err := o.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]models.QueuedSubmission, 0, len(pending))
	for _, item := range pending {
		if !manual && queue.Exhausted(&item) {
			summary.Skipped++
			continue
		}
		items = append(items, item)
	}
	summary.Attempted = len(items)

	for i := range items {
		item := &items[i]
		o.syncItem(ctx, item, summary)
		if o.config.Progress != nil {
			o.config.Progress(i+1, len(items))
		}
		if ctx.Err() != nil {
			break
		}
	}

	o.config.Logger.Printf("Pass complete: %d succeeded, %d failed, %d skipped (%s)",
		summary.Succeeded, summary.Failed, summary.Skipped, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

func (o *Orchestrator) syncItem(ctx context.Context, item *models.QueuedSubmission, summary *Summary) {
	if !item.Payload.VerifyChecksum(item.Checksum) {
		o.recordFailure(ctx, item.ID, "payload checksum mismatch")
		summary.Failed++
		return
	}

	// The submission id is the idempotency key: re-delivery after a
	// lost response cannot create a second remote record.
	result, err := o.remote.InsertSubmission(ctx, item.FormID, item.UserID, item.Payload, item.ID)
	if err != nil {
		msg := err.Error()
		if !remote.IsRetryable(err) {
			msg = "rejected: " + msg
		}
		o.recordFailure(ctx, item.ID, msg)
		summary.Failed++
		return
	}

	// The record is durably on the server now. A secondary-target
	// failure is bookkept against the server record id and must not
	// re-queue the submission.
	if o.sheets != nil {
		if err := o.sheets.PushRecord(ctx, result.RecordID, item.FormID, item.Payload); err != nil {
			o.config.Logger.Printf("Sheet push failed for record %s: %v", result.RecordID, err)
			failure := &models.SheetFailure{
				RecordID: result.RecordID,
				FormID:   item.FormID,
				Payload:  item.Payload,
				Error:    err.Error(),
				FailedAt: time.Now().UTC(),
			}
			if perr := o.db.PutSheetFailure(ctx, failure); perr != nil {
				o.config.Logger.Printf("Failed to record sheet failure for %s: %v", result.RecordID, perr)
			}
		}
	}

	if err := o.queue.RecordSuccessAndRemove(ctx, item.ID); err != nil {
		o.config.Logger.Printf("Failed to remove synced submission %s: %v", item.ID, err)
		summary.Failed++
		return
	}
	if err := o.db.DeleteDraft(ctx, item.FormID); err != nil {
		o.config.Logger.Printf("Failed to clear draft for form %s: %v", item.FormID, err)
	}
	summary.Succeeded++
}

func (o *Orchestrator) recordFailure(ctx context.Context, id, msg string) {
	if err := o.queue.RecordFailure(ctx, id, msg); err != nil {
		o.config.Logger.Printf("Failed to record failure for %s: %v", id, err)
	}
}

// Run operates the orchestrator as a daemon: it subscribes to
// connectivity edges (draining after the settle delay on reconnect) and
// drains on a fixed interval while online. Blocks until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	var unsubscribe func()
	if o.monitor != nil {
		unsubscribe = o.monitor.Subscribe(func(ev connectivity.Event) {
			switch ev.To {
			case connectivity.Online:
				o.scheduleSettled(ctx)
			case connectivity.Offline:
				o.cancelSettled()
			}
		})
		defer unsubscribe()
	}
	defer o.cancelSettled()

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.monitor != nil && !o.monitor.IsOnline() {
				continue
			}
			if _, err := o.trigger(ctx, false); err != nil && !errors.Is(err, ErrPassInProgress) {
				o.config.Logger.Printf("Scheduled pass failed: %v", err)
			}
		}
	}
}

// scheduleSettled arms the settle-delay timer after a reconnect edge.
// A new edge re-arms it; going offline cancels it.
func (o *Orchestrator) scheduleSettled(ctx context.Context) {
	o.settleMu.Lock()
	defer o.settleMu.Unlock()

	if o.settleTimer != nil {
		o.settleTimer.Stop()
	}
	o.settleTimer = time.AfterFunc(o.config.SettleDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if o.monitor != nil && !o.monitor.IsOnline() {
			return
		}
		if _, err := o.trigger(ctx, false); err != nil && !errors.Is(err, ErrPassInProgress) {
			o.config.Logger.Printf("Reconnect pass failed: %v", err)
		}
	})
}

func (o *Orchestrator) cancelSettled() {
	o.settleMu.Lock()
	defer o.settleMu.Unlock()
	if o.settleTimer != nil {
		o.settleTimer.Stop()
		o.settleTimer = nil
	}
}

// RetrySheetFailures re-pushes records whose secondary-target delivery
// failed after a successful primary write. Successes are removed from
// the failure table; failures stay for another manual retry.
func (o *Orchestrator) RetrySheetFailures(ctx context.Context) (retried, failed int, err error) {
	if o.sheets == nil {
		return 0, 0, nil
	}
	failures, err := o.db.ListSheetFailures(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, f := range failures {
		if err := o.sheets.PushRecord(ctx, f.RecordID, f.FormID, f.Payload); err != nil {
			o.config.Logger.Printf("Sheet retry failed for record %s: %v", f.RecordID, err)
			failed++
			continue
		}
		if err := o.db.DeleteSheetFailure(ctx, f.RecordID); err != nil {
			return retried, failed, err
		}
		retried++
	}
	return retried, failed, nil
}
