package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// PeriodicFunc is a background task run on a fixed interval while the manager runs.
type PeriodicFunc func(ctx context.Context) error

type periodicTask struct {
	name     string
	interval time.Duration
	fn       PeriodicFunc
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue   *Queue
	tasks   []periodicTask
	tickers []*time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 3
		if cfg, err := config.GetPayments(); err == nil {
			workerCount = cfg.QueueWorkers
		}
		globalManager = NewManager(NewQueue(cache.GetClient(), workerCount))
	})
	return globalManager
}

// NewManager wraps a queue. Most callers want GetManager.
func NewManager(q *Queue) *Manager {
	return &Manager{
		queue:  q,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// RegisterPeriodic adds a background task. Tasks registered after Start run
// from the next Start.
func (m *Manager) RegisterPeriodic(name string, interval time.Duration, fn PeriodicFunc) {
	if interval <= 0 || fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, periodicTask{name: name, interval: interval, fn: fn})
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.tickers = m.tickers[:0]
	for _, task := range m.tasks {
		ticker := time.NewTicker(task.interval)
		m.tickers = append(m.tickers, ticker)
		m.wg.Add(1)
		go m.periodicWorker(task, ticker, m.stopCh)
	}

	log.Infof("[JobQueue Manager] Started successfully (%d periodic tasks)", len(m.tasks))
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	for _, t := range m.tickers {
		t.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) periodicWorker(task periodicTask, ticker *time.Ticker, stopCh chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", task.name, task.interval)

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", task.name)
			return
		case <-ticker.C:
			if err := task.fn(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", task.name, err)
			}
		}
	}
}

// RunPeriodicOnce runs the named task immediately (admin use).
func (m *Manager) RunPeriodicOnce(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	var fn PeriodicFunc
	for _, t := range m.tasks {
		if t.name == name {
			fn = t.fn
			break
		}
	}
	m.mu.Unlock()
	if fn == nil {
		return false, nil
	}
	return true, fn(ctx)
}

// Stats is the admin view of the queue.
type Stats struct {
	Running    bool                `json:"running"`
	Queued     int64               `json:"queued"`
	Processing int64               `json:"processing"`
	ByStatus   map[JobStatus]int64 `json:"byStatus"`
	Periodic   []string            `json:"periodicTasks"`
}

// Stats reads the queue counters from Redis.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	queued, err := m.queue.GetQueueSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue size: %w", err)
	}
	processing, err := m.queue.GetProcessingSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("processing size: %w", err)
	}
	byStatus, err := m.queue.GetJobStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	periodic := make([]string, 0, len(m.tasks))
	for _, t := range m.tasks {
		periodic = append(periodic, t.name)
	}
	return &Stats{
		Running:    m.running,
		Queued:     queued,
		Processing: processing,
		ByStatus:   byStatus,
		Periodic:   periodic,
	}, nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
