package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
)

func TestGetManager(t *testing.T) {
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	// Reset the singleton for testing
	globalManager = nil
	managerOnce = sync.Once{}

	manager1 := GetManager()
	manager2 := GetManager()

	assert.NotNil(t, manager1)
	assert.Same(t, manager1, manager2, "GetManager should return the same instance")
	assert.NotNil(t, manager1.GetQueue())
	assert.Same(t, manager1.queue, manager1.GetQueue())
	assert.False(t, manager1.IsRunning())
}

func TestManager_StopWithoutStart(t *testing.T) {
	manager := NewManager(NewQueue(nil, 1))

	assert.False(t, manager.IsRunning())
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestManager_PeriodicTasks(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	manager := NewManager(q)

	var runs atomic.Int32
	manager.RegisterPeriodic("sweep", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	})
	manager.RegisterPeriodic("ignored", 0, func(ctx context.Context) error { return nil })
	assert.Len(t, manager.tasks, 1)

	manager.Start()
	assert.True(t, manager.IsRunning())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	manager.Stop()
	assert.False(t, manager.IsRunning())

	// Restart after stop works with a fresh stop channel.
	manager.Start()
	manager.Stop()
}

func TestManager_RunPeriodicOnce(t *testing.T) {
	manager := NewManager(NewQueue(nil, 1))
	called := false
	manager.RegisterPeriodic("sweep", time.Minute, func(ctx context.Context) error {
		called = true
		return nil
	})

	ok, err := manager.RunPeriodicOnce(context.Background(), "sweep")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, called)

	ok, err = manager.RunPeriodicOnce(context.Background(), "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_Stats(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	manager := NewManager(q)
	manager.RegisterPeriodic("payment-sweep", time.Minute, func(ctx context.Context) error { return nil })
	ctx := context.Background()

	_, err := q.EnqueueJob(ctx, JobTypeReconcilePayment, map[string]interface{}{"reference": "a"})
	require.NoError(t, err)
	_, err = q.EnqueueJob(ctx, JobTypeReconcilePayment, map[string]interface{}{"reference": "b"})
	require.NoError(t, err)

	stats, err := manager.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Running)
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(0), stats.Processing)
	assert.Equal(t, int64(2), stats.ByStatus[JobStatusPending])
	assert.Equal(t, []string{"payment-sweep"}, stats.Periodic)
}

func TestManager_StatsRedisDown(t *testing.T) {
	q, mr := newTestQueue(t, 1)
	manager := NewManager(q)
	mr.Close()

	_, err := manager.Stats(context.Background())
	assert.Error(t, err)
}
