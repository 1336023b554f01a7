package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes one claimed job. A non-nil error re-schedules the
// job per its retry policy; a nil error acknowledges it.
type Handler func(ctx context.Context, job *Job) error

// PoolConfig configures a worker pool for one topic.
type PoolConfig struct {
	Topic       string
	Concurrency int
	// PollInterval is how long an idle worker waits before re-checking
	// for due jobs. Default 500ms.
	PollInterval time.Duration
	// Limiter optionally bounds throughput across all workers of the
	// pool (used for message.send).
	Limiter *Limiter
}

// Pool runs a fixed number of workers against one topic. Pools are
// independent so no single topic or tenant can starve the others.
type Pool struct {
	queue   *Queue
	config  PoolConfig
	handler Handler

	processed int64
	failed    int64
	retried   int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewPool creates a worker pool. concurrency <= 0 defaults to 1.
func NewPool(q *Queue, config PoolConfig, handler Handler) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	return &Pool{queue: q, config: config, handler: handler}
}

// Start launches the workers and the reclaim loop.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool %s already running", p.config.Topic)
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Pool:%s] Starting %d workers", p.config.Topic, p.config.Concurrency)

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.reclaimLoop()

	return nil
}

// Stop waits for in-flight jobs to finish. Cooperative: running
// handlers see their context cancelled but are not killed.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	log.Printf("[Pool:%s] Stopped. processed=%d failed=%d retried=%d",
		p.config.Topic,
		atomic.LoadInt64(&p.processed),
		atomic.LoadInt64(&p.failed),
		atomic.LoadInt64(&p.retried))
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if p.config.Limiter != nil {
			allowed, wait, err := p.config.Limiter.Allow(p.ctx, 1)
			if err != nil {
				// Limiter outage must not halt dispatch; proceed.
				log.Printf("[Pool:%s] limiter error: %v", p.config.Topic, err)
			} else if !allowed {
				p.sleep(wait)
				continue
			}
		}

		jobs, err := p.queue.ClaimDue(p.ctx, p.config.Topic, 1)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Printf("[Pool:%s] claim error: %v", p.config.Topic, err)
			p.sleep(p.config.PollInterval)
			continue
		}
		if len(jobs) == 0 {
			p.sleep(p.config.PollInterval)
			continue
		}

		for _, job := range jobs {
			p.run(job)
		}
	}
}

func (p *Pool) run(job *Job) {
	err := p.handler(p.ctx, job)
	if err == nil {
		p.queue.Ack(p.ctx, job)
		atomic.AddInt64(&p.processed, 1)
		return
	}

	retried, rerr := p.queue.RetryOrFail(context.WithoutCancel(p.ctx), job)
	if rerr != nil {
		log.Printf("[Pool:%s] job %s retry bookkeeping failed: %v", p.config.Topic, job.ID, rerr)
	}
	if retried {
		atomic.AddInt64(&p.retried, 1)
		log.Printf("[Pool:%s] job %s failed (attempt %d/%d), retrying: %v",
			p.config.Topic, job.ID, job.Attempt, job.MaxAttempts, err)
	} else {
		atomic.AddInt64(&p.failed, 1)
		log.Printf("[Pool:%s] job %s permanently failed after %d attempts: %v",
			p.config.Topic, job.ID, job.MaxAttempts, err)
	}
}

// reclaimLoop returns abandoned claims to the scheduled set.
func (p *Pool) reclaimLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.reclaim(p.ctx, p.config.Topic)
			if err != nil && p.ctx.Err() == nil {
				log.Printf("[Pool:%s] reclaim error: %v", p.config.Topic, err)
			} else if n > 0 {
				log.Printf("[Pool:%s] reclaimed %d abandoned jobs", p.config.Topic, n)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
	case <-timer.C:
	}
}

// Stats returns pool counters for health endpoints.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"processed": atomic.LoadInt64(&p.processed),
		"failed":    atomic.LoadInt64(&p.failed),
		"retried":   atomic.LoadInt64(&p.retried),
	}
}
