package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erictom97/gender-age/detections"
)

const (
	DefaultPoolSize       = 2
	DefaultAcquireTimeout = 5 * time.Second
	HealthCheckPeriod     = 60 * time.Second
	maxRecordedErrors     = 10
)

var (
	ErrPoolClosed  = errors.New("pool is closed")
	ErrPoolTimeout = errors.New("timeout waiting for available model set")
)

// Factory loads one independent model set.
type Factory func() (*detections.Models, error)

// ModelPool hands out model sets to requests one at a time. Sets that fail
// inference are discarded and reloaded by the health check.
type ModelPool struct {
	sets           chan *detections.Models
	size           int
	factory        Factory
	acquireTimeout time.Duration

	mu         sync.Mutex
	closed     bool
	missing    int
	lastErrors []error
	stop       chan struct{}

	metrics *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	discarded       int64
	reloaded        int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolStats is a point-in-time copy of the pool metrics.
type PoolStats struct {
	PoolSize        int      `json:"pool_size"`
	Available       int      `json:"available"`
	InUse           int      `json:"sets_in_use"`
	TotalAcquired   int64    `json:"total_acquired"`
	TotalReleased   int64    `json:"total_released"`
	Discarded       int64    `json:"discarded"`
	Reloaded        int64    `json:"reloaded"`
	AcquireFailures int64    `json:"acquire_failures"`
	WaitTimeMs      int64    `json:"wait_time_ms"`
	LastErrors      []string `json:"last_errors,omitempty"`
}

func NewModelPool(factory Factory, size int, acquireTimeout time.Duration) (*ModelPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	pool := &ModelPool{
		sets:           make(chan *detections.Models, size),
		size:           size,
		factory:        factory,
		acquireTimeout: acquireTimeout,
		stop:           make(chan struct{}),
		metrics:        &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		set, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to load model set %d: %w", i, err)
		}
		pool.sets <- set
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *ModelPool) Size() int {
	return p.size
}

func (p *ModelPool) Acquire(ctx context.Context) (*detections.Models, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case set, ok := <-p.sets:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return set, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrPoolTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a healthy set to the pool.
func (p *ModelPool) Release(set *detections.Models) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		set.Destroy()
		return
	}
	p.sets <- set
}

// Discard destroys a set whose nets can no longer be trusted. The next
// health check loads a replacement.
func (p *ModelPool) Discard(set *detections.Models, cause error) {
	set.Destroy()

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.discarded++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.missing++
	p.recordErrorLocked(fmt.Errorf("discarded model set: %w", cause))
}

func (p *ModelPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.stop)
	close(p.sets)

	for set := range p.sets {
		set.Destroy()
	}
}

func (p *ModelPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Replenish()
		}
	}
}

// Replenish reloads every discarded set. It returns how many were restored.
func (p *ModelPool) Replenish() int {
	p.mu.Lock()
	count := p.missing
	p.mu.Unlock()

	restored := 0
	for i := 0; i < count; i++ {
		set, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			set.Destroy()
			return restored
		}
		p.missing--
		p.sets <- set
		p.mu.Unlock()

		restored++
		p.metrics.mu.Lock()
		p.metrics.reloaded++
		p.metrics.mu.Unlock()
	}
	return restored
}

func (p *ModelPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordErrorLocked(err)
}

func (p *ModelPool) recordErrorLocked(err error) {
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *ModelPool) Metrics() PoolStats {
	p.metrics.mu.RLock()
	stats := PoolStats{
		PoolSize:        p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		Discarded:       p.metrics.discarded,
		Reloaded:        p.metrics.reloaded,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTimeMs:      p.metrics.waitTime.Milliseconds(),
	}
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	stats.Available = len(p.sets)
	for _, err := range p.lastErrors {
		stats.LastErrors = append(stats.LastErrors, err.Error())
	}
	p.mu.Unlock()

	return stats
}
