package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

type memConfirmations struct {
	mu   sync.Mutex
	rows map[uint]*models.PaymentConfirmation
}

func (m *memConfirmations) Get(ctx context.Context, provider, reference string) (*models.PaymentConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Provider == provider && r.Reference == reference {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memConfirmations) BeginVerifying(ctx context.Context, id uint, source string, now, staleBefore time.Time) (*models.PaymentConfirmation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, false, nil
	}
	stale := r.State == models.ConfirmationStateVerifying && r.VerifyingSince != nil && r.VerifyingSince.Before(staleBefore)
	if r.State != models.ConfirmationStateInitiated && !stale {
		return nil, false, nil
	}
	r.State = models.ConfirmationStateVerifying
	r.VerifyingSince = &now
	r.LastSource = source
	r.Attempts++
	cp := *r
	return &cp, true, nil
}

func (m *memConfirmations) owned(id uint, attempt int) (*models.PaymentConfirmation, bool) {
	r, ok := m.rows[id]
	if !ok || r.State != models.ConfirmationStateVerifying || r.Attempts != attempt {
		return nil, false
	}
	return r, true
}

func (m *memConfirmations) Release(ctx context.Context, id uint, attempt int, providerStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.owned(id, attempt); ok {
		r.State = models.ConfirmationStateInitiated
		r.VerifyingSince = nil
		r.ProviderStatus = providerStatus
	}
	return nil
}

func (m *memConfirmations) Reject(ctx context.Context, id uint, attempt int, rej repository.Rejection) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.owned(id, attempt)
	if !ok {
		return false, nil
	}
	r.State = models.ConfirmationStateRejected
	r.VerifyingSince = nil
	r.ProviderStatus = rej.ProviderStatus
	r.RejectReason = rej.Reason
	r.ResolvedAt = &rej.At
	return true, nil
}

func (m *memConfirmations) markConfirmed(id uint, attempt int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.owned(id, attempt)
	if !ok {
		return false
	}
	r.State = models.ConfirmationStateConfirmed
	r.VerifyingSince = nil
	return true
}

func (m *memConfirmations) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentConfirmation
	for _, r := range m.rows {
		if !r.IsTerminal() && r.CreatedAt.Before(createdBefore) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memConfirmations) state(provider, reference string) string {
	c, _ := m.Get(context.Background(), provider, reference)
	if c == nil {
		return ""
	}
	return c.State
}

type memSessions struct {
	rows map[uint]*models.CheckoutSession
}

func (m *memSessions) GetByID(ctx context.Context, id uint) (*models.CheckoutSession, error) {
	if s, ok := m.rows[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

type fakeCreds struct {
	err error
}

func (f *fakeCreds) Credentials(ctx context.Context, p gateway.Provider) (*gateway.Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Credentials{SecretKey: "sk_test", WebhookSecret: "whsec"}, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	store    *memConfirmations
	grants   map[string]int
	events   map[string]*models.BillingWebhookEvent
	nextID   uint
	conflict bool
}

func newFakeLedger(store *memConfirmations) *fakeLedger {
	return &fakeLedger{store: store, grants: map[string]int{}, events: map[string]*models.BillingWebhookEvent{}}
}

func (l *fakeLedger) ConfirmPayment(ctx context.Context, in billing.ConfirmInput) (*billing.ConfirmResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conflict || !l.store.markConfirmed(in.ConfirmationID, in.Attempt) {
		return nil, billing.ErrConfirmationConflict
	}
	key := in.Provider + ":" + in.Reference
	l.grants[key]++
	if l.grants[key] > 1 {
		return &billing.ConfirmResult{Plan: in.Plan}, nil
	}
	return &billing.ConfirmResult{Applied: true, Plan: in.Plan}, nil
}

func (l *fakeLedger) RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := in.Provider + ":" + in.ProviderEventID
	if e, ok := l.events[key]; ok {
		cp := *e
		return false, &cp, nil
	}
	l.nextID++
	e := &models.BillingWebhookEvent{ID: l.nextID, Provider: in.Provider, ProviderEventID: in.ProviderEventID, EventType: in.EventType, Reference: in.Reference, PayloadJSON: in.PayloadJSON}
	l.events[key] = e
	cp := *e
	return true, &cp, nil
}

func (l *fakeLedger) MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			if processingErr != nil {
				e.ProcessingError = processingErr.Error()
			}
		}
	}
	return nil
}

func (l *fakeLedger) grantCount(provider, reference string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.grants[provider+":"+reference]
}

func (l *fakeLedger) event(provider, eventID string) *models.BillingWebhookEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.events[provider+":"+eventID]; ok {
		cp := *e
		return &cp
	}
	return nil
}

type verifyAdapter struct {
	calls  atomic.Int32
	delay  time.Duration
	mu     sync.Mutex
	result func(reference string) (*gateway.ConfirmationResult, error)
}

func (a *verifyAdapter) Name() gateway.Provider { return gateway.Paystack }

func (a *verifyAdapter) Capabilities() gateway.Capabilities { return gateway.Capabilities{} }

func (a *verifyAdapter) CreateSession(ctx context.Context, creds *gateway.Credentials, in gateway.SessionInput) (*gateway.SessionResult, error) {
	return nil, gateway.ErrUnsupported
}

func (a *verifyAdapter) VerifyTransaction(ctx context.Context, creds *gateway.Credentials, reference string) (*gateway.ConfirmationResult, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	fn := a.result
	a.mu.Unlock()
	return fn(reference)
}

func (a *verifyAdapter) setResult(fn func(reference string) (*gateway.ConfirmationResult, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result = fn
}

func (a *verifyAdapter) TestConnection(ctx context.Context, creds *gateway.Credentials) error {
	return nil
}

// ParseWebhook accepts {"id","type","reference"} signed by echoing the
// webhook secret in X-Test-Signature.
func (a *verifyAdapter) ParseWebhook(ctx context.Context, creds *gateway.Credentials, payload []byte, headers http.Header) (*gateway.WebhookEvent, error) {
	if headers.Get("X-Test-Signature") != creds.WebhookSecret {
		return nil, gateway.ErrSignatureInvalid
	}
	var body struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	return &gateway.WebhookEvent{Provider: gateway.Paystack, EventID: body.ID, EventType: body.Type, Reference: body.Reference}, nil
}

func success(amount int64, currency string) func(string) (*gateway.ConfirmationResult, error) {
	return func(ref string) (*gateway.ConfirmationResult, error) {
		return &gateway.ConfirmationResult{
			Provider:         gateway.Paystack,
			Reference:        ref,
			Status:           gateway.StatusSuccess,
			VerifiedAmount:   amount,
			VerifiedCurrency: currency,
			TransactionID:    "tx_" + ref,
			ProviderStatus:   "success",
		}, nil
	}
}

func withStatus(status gateway.ConfirmationStatus, providerStatus string) func(string) (*gateway.ConfirmationResult, error) {
	return func(ref string) (*gateway.ConfirmationResult, error) {
		return &gateway.ConfirmationResult{Provider: gateway.Paystack, Reference: ref, Status: status, ProviderStatus: providerStatus}, nil
	}
}

type fixture struct {
	r        *Reconciler
	store    *memConfirmations
	sessions *memSessions
	ledger   *fakeLedger
	adapter  *verifyAdapter
	creds    *fakeCreds
	now      time.Time
}

func newFixture(t *testing.T, locker Locker) *fixture {
	t.Helper()
	f := &fixture{
		store:    &memConfirmations{rows: map[uint]*models.PaymentConfirmation{}},
		sessions: &memSessions{rows: map[uint]*models.CheckoutSession{}},
		adapter:  &verifyAdapter{},
		creds:    &fakeCreds{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.adapter.setResult(success(500000, "NGN"))
	f.ledger = newFakeLedger(f.store)
	f.r = New(f.store, f.sessions, f.creds, gateway.NewRegistry(f.adapter), f.ledger, locker, Options{
		ProviderTimeout: time.Second,
		LockTTL:         time.Second,
		StaleAge:        2 * time.Minute,
		AbandonAfter:    48 * time.Hour,
	})
	f.r.now = func() time.Time { return f.now }
	return f
}

// addPayment stores a session and its initiated confirmation created age ago.
func (f *fixture) addPayment(reference string, amount int64, currency string, age time.Duration) uint {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	id := uint(len(f.store.rows) + 1)
	uid := uint(7)
	f.sessions.rows[id] = &models.CheckoutSession{
		ID: id, Provider: "paystack", Reference: reference, PlanID: "premium",
		BillingInterval: "monthly", Currency: currency, Amount: amount, Email: "buyer@example.com", UserID: &uid,
	}
	f.store.rows[id] = &models.PaymentConfirmation{
		ID: id, CheckoutSessionID: id, Provider: "paystack", Reference: reference,
		State: models.ConfirmationStateInitiated, CreatedAt: f.now.Add(-age),
	}
	return id
}

func trigger(src Source, ref string) Trigger {
	return Trigger{Source: src, Provider: gateway.Paystack, Reference: ref}
}

func TestConfirm_AppliesOnceAndReturnsStoredResult(t *testing.T) {
	f := newFixture(t, nil)
	f.addPayment("ref_1", 500000, "NGN", time.Minute)
	ctx := context.Background()

	first, err := f.r.Confirm(ctx, trigger(SourceCallback, "ref_1"))
	require.NoError(t, err)
	assert.True(t, first.Confirmed())
	assert.True(t, first.Applied)

	second, err := f.r.Confirm(ctx, trigger(SourceWebhook, "ref_1"))
	require.NoError(t, err)
	assert.True(t, second.Confirmed())
	assert.False(t, second.Applied)

	assert.Equal(t, int32(1), f.adapter.calls.Load())
	assert.Equal(t, 1, f.ledger.grantCount("paystack", "ref_1"))
}

func TestConfirm_ConcurrentTriggersApplyOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.adapter.delay = 10 * time.Millisecond
	f.addPayment("ref_race", 500000, "NGN", time.Minute)

	const n = 10
	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := SourceCallback
			if i%2 == 0 {
				src = SourceWebhook
			}
			out, err := f.r.Confirm(context.Background(), trigger(src, "ref_race"))
			if assert.NoError(t, err) {
				assert.True(t, out.Confirmed())
				if out.Applied {
					applied.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, 1, f.ledger.grantCount("paystack", "ref_race"))
	assert.Equal(t, int32(1), f.adapter.calls.Load())
	assert.Zero(t, f.r.keys.size())
}

func TestConfirm_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		result func(string) (*gateway.ConfirmationResult, error)
		reason string
	}{
		{name: "amount mismatch", result: success(100, "NGN"), reason: "amount mismatch"},
		{name: "currency mismatch", result: success(500000, "USD"), reason: "amount mismatch"},
		{name: "provider failed", result: withStatus(gateway.StatusFailed, "abandoned"), reason: "provider reported abandoned"},
		{name: "provider refused", result: func(string) (*gateway.ConfirmationResult, error) {
			return nil, &gateway.ProviderError{Provider: gateway.Paystack, Op: "verify", Status: 404, Err: gateway.ErrRejected}
		}, reason: "provider rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.adapter.setResult(tt.result)
			f.addPayment("ref_bad", 500000, "NGN", time.Minute)

			out, err := f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_bad"))
			require.NoError(t, err)
			assert.True(t, out.Rejected())
			assert.Contains(t, out.Reason, tt.reason)
			assert.Zero(t, f.ledger.grantCount("paystack", "ref_bad"))

			// Terminal: a later success report changes nothing.
			f.adapter.setResult(success(500000, "NGN"))
			again, err := f.r.Confirm(context.Background(), trigger(SourceWebhook, "ref_bad"))
			require.NoError(t, err)
			assert.True(t, again.Rejected())
			assert.Zero(t, f.ledger.grantCount("paystack", "ref_bad"))
		})
	}
}

func TestConfirm_PendingReleasesForLaterTrigger(t *testing.T) {
	f := newFixture(t, nil)
	f.adapter.setResult(withStatus(gateway.StatusPending, "ongoing"))
	f.addPayment("ref_p", 500000, "NGN", time.Minute)

	out, err := f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_p"))
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Equal(t, models.ConfirmationStateInitiated, f.store.state("paystack", "ref_p"))

	f.adapter.setResult(success(500000, "NGN"))
	out, err = f.r.Confirm(context.Background(), trigger(SourceWebhook, "ref_p"))
	require.NoError(t, err)
	assert.True(t, out.Confirmed())
	assert.True(t, out.Applied)
}

func TestConfirm_ProviderUnavailableIsRetryable(t *testing.T) {
	f := newFixture(t, nil)
	f.adapter.setResult(func(string) (*gateway.ConfirmationResult, error) {
		return nil, &gateway.ProviderError{Provider: gateway.Paystack, Op: "verify", Status: 502, Err: gateway.ErrProviderUnavailable}
	})
	f.addPayment("ref_u", 500000, "NGN", time.Minute)

	_, err := f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_u"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, models.ConfirmationStateInitiated, f.store.state("paystack", "ref_u"))
}

func TestConfirm_UnusableCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.creds.err = errors.New("secret_key_enc: decryption failed")
	f.addPayment("ref_c", 500000, "NGN", time.Minute)

	_, err := f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_c"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotContains(t, err.Error(), "decryption")
	assert.Zero(t, f.adapter.calls.Load())
	assert.Equal(t, models.ConfirmationStateInitiated, f.store.state("paystack", "ref_c"))
}

func TestConfirm_InvalidTriggers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.r.Confirm(ctx, trigger(SourceCallback, "nope"))
	assert.ErrorIs(t, err, ErrUnknownReference)

	_, err = f.r.Confirm(ctx, Trigger{Source: SourceCallback, Provider: "moneybags", Reference: "x"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = f.r.Confirm(ctx, Trigger{Source: "browser", Provider: gateway.Paystack, Reference: "x"})
	assert.ErrorIs(t, err, ErrInvalidTrigger)

	_, err = f.r.Confirm(ctx, trigger(SourceCallback, "  "))
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestConfirm_VerifyingOwnership(t *testing.T) {
	t.Run("fresh claim is left alone", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.addPayment("ref_v", 500000, "NGN", time.Minute)
		since := f.now.Add(-10 * time.Second)
		f.store.rows[id].State = models.ConfirmationStateVerifying
		f.store.rows[id].VerifyingSince = &since

		out, err := f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_v"))
		require.NoError(t, err)
		assert.True(t, out.Pending)
		assert.Zero(t, f.adapter.calls.Load())
	})

	t.Run("stale claim is taken over", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.addPayment("ref_v", 500000, "NGN", time.Hour)
		since := f.now.Add(-10 * time.Minute)
		f.store.rows[id].State = models.ConfirmationStateVerifying
		f.store.rows[id].VerifyingSince = &since
		f.store.rows[id].Attempts = 1

		out, err := f.r.Confirm(context.Background(), trigger(SourceWebhook, "ref_v"))
		require.NoError(t, err)
		assert.True(t, out.Confirmed())
		assert.Equal(t, 2, f.store.rows[id].Attempts)

		// The crashed first owner can no longer confirm or reject.
		assert.False(t, f.store.markConfirmed(id, 1))
		ok, err := f.store.Reject(context.Background(), id, 1, repository.Rejection{Reason: "late"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("lost ownership reports current state", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ledger.conflict = true
		f.addPayment("ref_v", 500000, "NGN", time.Minute)

		out, err := f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_v"))
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.Zero(t, f.ledger.grantCount("paystack", "ref_v"))
	})
}

func TestConfirm_DistributedLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client)

	f := newFixture(t, locker)
	f.r.opts.LockTTL = 100 * time.Millisecond
	f.addPayment("ref_l", 500000, "NGN", time.Minute)

	release, err := locker.Acquire(context.Background(), "confirm:paystack:ref_l", time.Minute, 0)
	require.NoError(t, err)

	out, err := f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_l"))
	require.NoError(t, err)
	assert.True(t, out.Pending)
	assert.Zero(t, f.adapter.calls.Load())

	release()
	out, err = f.r.Confirm(context.Background(), trigger(SourceCallback, "ref_l"))
	require.NoError(t, err)
	assert.True(t, out.Confirmed())
	assert.False(t, mr.Exists("lock:confirm:paystack:ref_l"))
}

func TestSweep(t *testing.T) {
	f := newFixture(t, nil)
	f.addPayment("ref_paid", 500000, "NGN", time.Hour)
	f.addPayment("ref_old", 500000, "NGN", 72*time.Hour)
	f.addPayment("ref_recent", 500000, "NGN", 30*time.Second)
	f.adapter.setResult(func(ref string) (*gateway.ConfirmationResult, error) {
		if ref == "ref_paid" {
			return success(500000, "NGN")(ref)
		}
		return withStatus(gateway.StatusPending, "ongoing")(ref)
	})

	res, err := f.r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Confirmed: 1, Rejected: 1}, res)
	assert.Equal(t, models.ConfirmationStateConfirmed, f.store.state("paystack", "ref_paid"))
	assert.Equal(t, models.ConfirmationStateRejected, f.store.state("paystack", "ref_old"))
	assert.Equal(t, models.ConfirmationStateInitiated, f.store.state("paystack", "ref_recent"))

	res, err = f.r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, k.size())

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
