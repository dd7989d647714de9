// Package worker runs the pool of goroutines that reserve jobs from a
// broker.Backend, drive them through an Orchestrator, and report the
// outcome back to the backend.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/insightqueue/insightqueue/internal/breaker"
	"github.com/insightqueue/insightqueue/internal/broker"
	"github.com/insightqueue/insightqueue/internal/config"
	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/obs"
	"github.com/insightqueue/insightqueue/internal/queue"
	"go.uber.org/zap"
)

// Orchestrator drives a single reserved job to a terminal state. Run must
// respect ctx cancellation and return promptly once it observes it.
type Orchestrator interface {
	Run(ctx context.Context, job queue.Job, progress func(queue.ProgressEvent)) (queue.Job, error)
}

type Worker struct {
	cfg     *config.Config
	backend broker.Backend
	orch    Orchestrator
	log     *zap.Logger
	cb      *breaker.CircuitBreaker
	baseID  string
}

func New(cfg *config.Config, backend broker.Backend, orch Orchestrator, log *zap.Logger) *Worker {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	host, _ := os.Hostname()
	base := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
	return &Worker{cfg: cfg, backend: backend, orch: orch, log: log, cb: cb, baseID: base}
}

// Run launches cfg.Worker.Count goroutines and blocks until ctx is done and
// every in-flight job has finished (or ShutdownGrace elapses, whichever is
// first).
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Worker.Count; i++ {
		wg.Add(1)
		id := fmt.Sprintf("%s-%d", w.baseID, i)
		go func(workerID string) {
			defer wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			w.runOne(ctx, workerID)
		}(id)
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				switch w.cb.State() {
				case breaker.Closed:
					obs.BrokerCircuitBreakerState.Set(0)
				case breaker.HalfOpen:
					obs.BrokerCircuitBreakerState.Set(1)
				case breaker.Open:
					obs.BrokerCircuitBreakerState.Set(2)
				}
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(w.cfg.Worker.ShutdownGrace):
			w.log.Warn("shutdown grace period elapsed with jobs still in flight")
		}
		return nil
	}
}

func (w *Worker) runOne(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		if !w.cb.Allow() {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		job, lease, ok, err := w.backend.Reserve(ctx, w.cfg.Worker.ReserveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("reserve failed", obs.Err(err))
			w.recordBreaker(false)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if !ok {
			continue // timed out with nothing pending
		}

		obs.JobsReserved.Inc()
		w.processJob(ctx, workerID, job, lease)
		w.recordBreaker(true)
	}
}

// recordBreaker records a Reserve outcome and reports a breaker trip the
// moment the state actually flips to Open, mirroring how a trip is detected
// around the model breaker in the orchestrator.
func (w *Worker) recordBreaker(ok bool) {
	prev := w.cb.State()
	w.cb.Record(ok)
	if curr := w.cb.State(); prev != curr && curr == breaker.Open {
		obs.BrokerCircuitBreakerTrips.Inc()
		w.log.Warn("broker circuit breaker tripped open", obs.String("breaker_state", curr.String()))
	}
}

func (w *Worker) processJob(ctx context.Context, workerID string, job queue.Job, lease queue.Lease) {
	ctx, span := obs.ContextWithJobSpan(ctx, job)
	defer span.End()
	obs.AddSpanAttributes(ctx, obs.KeyValue("worker.id", workerID))

	leaseCtx, cancelLease := context.WithCancel(ctx)
	defer cancelLease()
	go w.extendLeaseUntilDone(leaseCtx, &lease)

	start := time.Now()
	result, err := w.orch.Run(ctx, job, func(ev queue.ProgressEvent) {
		_ = w.backend.PublishProgress(ctx, job.ID, ev)
	})
	elapsed := time.Since(start)
	obs.JobDuration.Observe(elapsed.Seconds())

	if err != nil {
		if corerr.Transient(err) {
			obs.JobsRequeued.Inc()
			obs.RecordError(ctx, err)
			if reqErr := w.backend.FailAndRequeue(ctx, lease, err.Error()); reqErr != nil {
				w.log.Error("fail_and_requeue failed", obs.Err(reqErr))
			}
			w.log.Warn("job requeued after transient failure", obs.String("id", job.ID), obs.Err(err))
			return
		}

		result.State = queue.Failed
		kind, _ := corerr.KindOf(err)
		result.Error = &queue.JobError{Kind: string(kind), Message: err.Error()}
		obs.JobsFailed.Inc()
		obs.RecordError(ctx, err)
	} else {
		result.State = queue.Succeeded
		obs.JobsSucceeded.Inc()
		obs.SetSpanSuccess(ctx)
	}

	if completeErr := w.backend.Complete(ctx, lease, result); completeErr != nil {
		w.log.Error("complete failed", obs.Err(completeErr))
	}
	w.log.Info("job finished", obs.String("id", job.ID), obs.String("state", string(result.State)), obs.String("worker_id", workerID), obs.Duration("elapsed", elapsed))
}

func (w *Worker) extendLeaseUntilDone(ctx context.Context, lease *queue.Lease) {
	interval := w.cfg.Worker.LeaseExtensionInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := w.backend.Extend(ctx, *lease, w.cfg.Worker.LeaseDuration)
			if err != nil {
				w.log.Warn("lease extend failed; job may be reclaimed", obs.String("job_id", lease.JobID), obs.Err(err))
				continue
			}
			*lease = extended
		}
	}
}
