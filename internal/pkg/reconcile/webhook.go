package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics"
)

var (
	// ErrInvalidPayload is a correctly signed body we could not read.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrStillPending makes a queued job retry later.
	ErrStillPending = errors.New("payment still pending")
)

// WebhookResult tells the HTTP layer what happened to a verified delivery.
type WebhookResult struct {
	Provider  gateway.Provider `json:"provider"`
	EventID   string           `json:"eventId"`
	Reference string           `json:"reference,omitempty"`
	Duplicate bool             `json:"duplicate"`
	Queued    bool             `json:"queued"`
}

// HandleWebhook authenticates a delivery, logs it once and hands the
// reference to the reconciler. Nothing is recorded for a bad signature.
func (r *Reconciler) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*WebhookResult, error) {
	p, ok := gateway.ParseProvider(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	adapter, ok := r.registry.Get(p)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	creds, err := r.creds.Credentials(ctx, p)
	if err != nil {
		log.Errorf("[Reconcile] Cannot verify %s webhook, credentials unusable: %v", p, err)
		metrics.WebhooksTotal.WithLabelValues(string(p), "misconfigured").Inc()
		return nil, fmt.Errorf("%w: %s credentials unusable", ErrUnavailable, p)
	}

	pctx, cancel := context.WithTimeout(ctx, r.opts.ProviderTimeout)
	event, err := adapter.ParseWebhook(pctx, creds, payload, headers)
	cancel()
	switch {
	case errors.Is(err, gateway.ErrSignatureInvalid):
		log.Warnf("[Reconcile] Dropped %s webhook with invalid signature", p)
		metrics.WebhooksTotal.WithLabelValues(string(p), "invalid_signature").Inc()
		return nil, gateway.ErrSignatureInvalid
	case gateway.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded):
		log.Warnf("[Reconcile] Could not verify %s webhook: %v", p, err)
		metrics.WebhooksTotal.WithLabelValues(string(p), "unavailable").Inc()
		return nil, fmt.Errorf("%w: verify %s webhook", ErrUnavailable, p)
	case err != nil:
		log.Warnf("[Reconcile] Unreadable %s webhook: %v", p, err)
		metrics.WebhooksTotal.WithLabelValues(string(p), "invalid_payload").Inc()
		return nil, ErrInvalidPayload
	}

	created, stored, err := r.ledger.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        string(p),
		ProviderEventID: event.EventID,
		EventType:       event.EventType,
		Reference:       event.Reference,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(p), "error").Inc()
		return nil, fmt.Errorf("%w: record webhook: %v", ErrUnavailable, err)
	}

	res := &WebhookResult{Provider: p, EventID: stored.ProviderEventID, Reference: stored.Reference}
	if !created && stored.ProcessedAt != nil {
		res.Duplicate = true
		metrics.WebhooksTotal.WithLabelValues(string(p), "duplicate").Inc()
		return res, nil
	}
	if stored.Reference == "" {
		if err := r.ledger.MarkWebhookProcessed(ctx, stored.ID, nil); err != nil {
			log.Warnf("[Reconcile] Could not mark %s event %s processed: %v", p, stored.ProviderEventID, err)
		}
		metrics.WebhooksTotal.WithLabelValues(string(p), "ignored").Inc()
		return res, nil
	}

	job := jobqueue.ReconcilePaymentJobPayload{
		Provider:       string(p),
		Reference:      stored.Reference,
		Source:         string(SourceWebhook),
		WebhookEventID: stored.ID,
	}
	if r.dispatcher != nil {
		err := r.dispatcher.Dispatch(ctx, job)
		if err == nil {
			res.Queued = true
			metrics.WebhooksTotal.WithLabelValues(string(p), "queued").Inc()
			return res, nil
		}
		log.Warnf("[Reconcile] Queue unavailable, processing %s/%s inline: %v", p, stored.Reference, err)
	}

	// Inline fallback. A pending verdict is still a 200: the event is stored
	// and the sweep picks the reference up.
	if err := r.ProcessJob(ctx, job); err != nil && !errors.Is(err, ErrStillPending) {
		metrics.WebhooksTotal.WithLabelValues(string(p), "error").Inc()
		return nil, err
	}
	metrics.WebhooksTotal.WithLabelValues(string(p), "processed").Inc()
	return res, nil
}

// ProcessJob reconciles a queued reference. Retryable failures and pending
// verdicts return an error so the queue retries.
func (r *Reconciler) ProcessJob(ctx context.Context, job jobqueue.ReconcilePaymentJobPayload) error {
	source := Source(job.Source)
	if !source.valid() {
		source = SourceWebhook
	}
	out, err := r.Confirm(ctx, Trigger{Source: source, Provider: gateway.Provider(job.Provider), Reference: job.Reference})

	switch {
	case errors.Is(err, ErrUnknownReference), errors.Is(err, ErrUnknownProvider), errors.Is(err, ErrInvalidTrigger):
		// Not one of our checkouts (for example a renewal); nothing to retry.
		log.Infof("[Reconcile] Ignoring %s/%s: %v", job.Provider, job.Reference, err)
		r.markProcessed(ctx, job.WebhookEventID, err)
		return nil
	case err != nil:
		return err
	case out.Pending:
		return fmt.Errorf("%w: %s/%s", ErrStillPending, job.Provider, job.Reference)
	}
	r.markProcessed(ctx, job.WebhookEventID, nil)
	return nil
}

func (r *Reconciler) markProcessed(ctx context.Context, eventID uint, processingErr error) {
	if eventID == 0 {
		return
	}
	if err := r.ledger.MarkWebhookProcessed(ctx, eventID, processingErr); err != nil {
		log.Warnf("[Reconcile] Could not mark webhook event %d processed: %v", eventID, err)
	}
}
