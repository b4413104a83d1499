// Package coord drains the processed_runs backlog with parallel workers.
//
// Each worker loops over the claim protocol: stale-claim recovery, oldest
// claimable run first, execute the phase, mark complete with totals. A run
// whose phase fails keeps its active claim row so the TTL recovery step
// returns it to the backlog; nothing is retried in place.
package coord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trailblazer-io/trailblazer/internal/config"
	"github.com/trailblazer-io/trailblazer/internal/events"
	"github.com/trailblazer-io/trailblazer/internal/record"
	"github.com/trailblazer-io/trailblazer/internal/store"
)

// DefaultIdleBackoff spaces claim attempts while the backlog is empty.
const DefaultIdleBackoff = 5 * time.Second

// DefaultClaimTTL bounds how long a crashed worker's claim survives.
const DefaultClaimTTL = 30 * time.Minute

// Executor advances one claimed run through a pipeline phase.
type Executor interface {
	// Phase names the claimable phase this executor serves.
	Phase() store.ClaimPhase
	// Execute runs the phase for the claimed run and reports totals for
	// mark-complete. An error leaves the claim row active.
	Execute(ctx context.Context, run record.ProcessedRun) (store.Totals, error)
}

// Options tune pool behavior beyond config.WorkerConfig.
type Options struct {
	// Drain stops the pool once no phase has claimable work instead of
	// polling forever.
	Drain bool
	// IdleBackoff spaces claim attempts while polling (default 5s).
	IdleBackoff time.Duration
	// MaxRuns caps the runs each worker processes, 0 means unlimited.
	MaxRuns int
}

// Pool coordinates workers over the claim protocol.
type Pool struct {
	st        store.Store
	emitter   *events.Emitter
	cfg       config.WorkerConfig
	opts      Options
	executors []Executor
}

// NewPool creates a pool. Executors are tried in the given order on every
// claim attempt, so listing chunk before embed advances fresh runs first.
func NewPool(st store.Store, emitter *events.Emitter, cfg config.WorkerConfig, opts Options, executors ...Executor) *Pool {
	if emitter == nil {
		emitter = events.Nop()
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = DefaultIdleBackoff
	}
	return &Pool{st: st, emitter: emitter, cfg: cfg, opts: opts, executors: executors}
}

// Run blocks until the backlog drains (Drain mode), every worker hits its
// MaxRuns cap, or ctx is cancelled. Cancellation is cooperative: workers
// finish the run in hand before returning.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Count; i++ {
		w := &worker{pool: p, id: workerID(i)}
		g.Go(func() error { return w.run(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// workerID identifies a claim owner as host-pid-ordinal.
func workerID(ordinal int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), ordinal)
}

type worker struct {
	pool *Pool
	id   string
}

func (w *worker) run(ctx context.Context) error {
	processed := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, err := w.claimOnce(ctx)
		if err != nil {
			return err
		}
		if claimed {
			processed++
			if w.pool.opts.MaxRuns > 0 && processed >= w.pool.opts.MaxRuns {
				return nil
			}
			continue
		}

		if w.pool.opts.Drain {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pool.opts.IdleBackoff):
		}
	}
}

// claimOnce tries each executor's phase in order and runs the first claim it
// wins. It reports whether any run was processed.
func (w *worker) claimOnce(ctx context.Context) (bool, error) {
	for _, ex := range w.pool.executors {
		phase := ex.Phase()
		result, err := w.pool.st.ClaimRun(ctx, phase, w.id, w.pool.cfg.ClaimTTL)
		if err != nil {
			return false, err
		}
		if result.Recovered > 0 {
			w.pool.emitter.Emit(events.Event{
				Stage:  string(phase),
				Op:     "runs.claim.recovered",
				Status: events.StatusOK,
				Reason: fmt.Sprintf("recovered=%d", result.Recovered),
			})
		}
		if result.Run == nil {
			continue
		}
		w.execute(ctx, ex, *result.Run)
		return true, nil
	}
	return false, nil
}

// execute runs the claimed phase. Completion marks the run done; failure
// emits FAIL and leaves the claim row active for TTL recovery.
func (w *worker) execute(ctx context.Context, ex Executor, run record.ProcessedRun) {
	stage := string(ex.Phase())
	start := time.Now()
	w.pool.emitter.Emit(events.Event{
		Stage:  stage,
		RID:    run.RunID,
		Op:     "runs.claim",
		Status: events.StatusOK,
		Reason: w.id,
	})

	stopHB := w.startHeartbeat(ctx, stage)
	totals, err := ex.Execute(ctx, run)
	stopHB()

	if err != nil {
		w.pool.emitter.Emit(events.Event{
			Level:  "ERROR",
			Stage:  stage,
			RID:    run.RunID,
			Op:     "runs.mark",
			Status: events.StatusFail,
			Reason: err.Error(),
		})
		return
	}
	if err := w.pool.st.MarkComplete(ctx, run.RunID, ex.Phase(), totals); err != nil {
		w.pool.emitter.Emit(events.Event{
			Level:  "ERROR",
			Stage:  stage,
			RID:    run.RunID,
			Op:     "runs.mark",
			Status: events.StatusFail,
			Reason: err.Error(),
		})
		return
	}
	dur := time.Since(start).Milliseconds()
	w.pool.emitter.Emit(events.Event{
		Stage:      stage,
		RID:        run.RunID,
		Op:         "runs.mark",
		Status:     events.StatusEnd,
		DurationMS: &dur,
		Counts: &events.Counts{
			Docs:   totals.TotalDocs,
			Chunks: totals.TotalChunks,
		},
	})
}

// startHeartbeat emits liveness events while a phase executes. The returned
// stop function is safe to call more than once.
func (w *worker) startHeartbeat(ctx context.Context, stage string) func() {
	interval := w.pool.cfg.HeartbeatInterval
	if interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				w.pool.emitter.Heartbeat(stage)
			}
		}
	}()
	return cancel
}
