package reconcile

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
)

// SweepTaskName is the periodic task registered with the job manager.
const SweepTaskName = "payment-sweep"

// Dispatcher queues a reference for background reconciliation.
type Dispatcher interface {
	Dispatch(ctx context.Context, job jobqueue.ReconcilePaymentJobPayload) error
}

// QueueDispatcher enqueues reconcile jobs on the Redis job queue.
type QueueDispatcher struct {
	queue *jobqueue.Queue
}

func NewQueueDispatcher(q *jobqueue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job jobqueue.ReconcilePaymentJobPayload) error {
	queued, err := d.queue.EnqueueJob(ctx, jobqueue.JobTypeReconcilePayment, job.ToMap())
	if err != nil {
		return err
	}
	log.Debugf("[Reconcile] Queued job %s for %s/%s", queued.ID, job.Provider, job.Reference)
	return nil
}

// Register installs the job handler and the periodic sweep on the manager
// and routes webhooks through its queue.
func (r *Reconciler) Register(m *jobqueue.Manager, sweepInterval time.Duration) {
	q := m.GetQueue()
	q.RegisterHandler(jobqueue.JobTypeReconcilePayment, func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.ReconcilePaymentJobPayloadFromMap(job.Payload)
		if err != nil {
			return err
		}
		return r.ProcessJob(ctx, *payload)
	})
	r.SetDispatcher(NewQueueDispatcher(q))
	m.RegisterPeriodic(SweepTaskName, sweepInterval, func(ctx context.Context) error {
		_, err := r.Sweep(ctx)
		return err
	})
}

// SweepResult counts what one sweep pass did.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

// Sweep re-verifies references that no trigger settled within StaleAge, so a
// lost webhook or an abandoned callback still reaches a terminal state.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	rows, err := r.confirmations.ListStale(ctx, r.now().Add(-r.opts.StaleAge), r.opts.SweepBatch)
	if err != nil {
		return res, err
	}
	for _, row := range rows {
		res.Scanned++
		out, err := r.Confirm(ctx, Trigger{Source: SourceSweep, Provider: gateway.Provider(row.Provider), Reference: row.Reference})
		switch {
		case err != nil:
			res.Failed++
			log.Warnf("[Reconcile] Sweep of %s/%s failed: %v", row.Provider, row.Reference, err)
		case out.Confirmed():
			res.Confirmed++
		case out.Rejected():
			res.Rejected++
		default:
			res.Pending++
		}
	}
	if res.Scanned > 0 {
		log.Infof("[Reconcile] Sweep: scanned=%d confirmed=%d rejected=%d pending=%d failed=%d",
			res.Scanned, res.Confirmed, res.Rejected, res.Pending, res.Failed)
	}
	return res, nil
}
