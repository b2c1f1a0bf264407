// Package workerpool implements the bounded-concurrency, bounded-queue,
// fire-and-forget executor shared by the notifier and DB pipelines: submit
// is non-blocking and newest-drop on overflow, so a slow sink never stalls
// the producer.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ratefeed/internal/logging"
)

// Task is a unit of fire-and-forget work. It receives a context already
// scoped to the pool's per-task timeout, if one is configured.
type Task func(ctx context.Context)

// Config configures a Pool.
type Config struct {
	Name        string
	Concurrency int           // number of worker goroutines, >= 1
	MaxSize     int           // queue depth, >= 1
	Timeout     time.Duration // per-task timeout; 0 disables the timeout
}

// Pool is a bounded-concurrency executor. The zero value is not usable; use
// New.
type Pool struct {
	cfg Config
	log *logging.Logger

	queue   chan item
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type item struct {
	task   Task
	poison bool
}

// New builds a Pool. Call Start before Submit.
func New(cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	return &Pool{
		cfg:   cfg,
		log:   logging.Named(fmt.Sprintf("workerpool.%s", cfg.Name)),
		queue: make(chan item, cfg.MaxSize),
	}
}

// Start spawns the configured number of worker goroutines and marks the
// pool running.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.log.Info().Int("concurrency", p.cfg.Concurrency).Dur("timeout", p.cfg.Timeout).Msg("pool start")
	for id := 0; id < p.cfg.Concurrency; id++ {
		p.wg.Add(1)
		go p.workerLoop(id)
	}
}

// Submit enqueues task for execution. It never blocks: if the pool isn't
// running the task is discarded with a warning; if the queue is full the
// task is dropped (newest-drop) with a warning.
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	if !running {
		p.log.Warn().Msg("pool is not running, task discarded")
		return
	}

	select {
	case p.queue <- item{task: task}:
	default:
		p.log.Warn().Msg("pool queue is full, task dropped")
	}
}

// Stop marks the pool not-running, enqueues one poison value per worker,
// and waits for every worker to drain and exit. Tasks already queued ahead
// of the poisons are drained to completion (subject to their timeout).
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.queue <- item{poison: true}
	}
	p.wg.Wait()
	p.log.Info().Msg("pool fully stopped")
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	for it := range p.queue {
		if it.poison {
			p.log.Debug().Int("worker", id).Msg("got stop signal")
			return
		}
		p.runTask(id, it.task)
	}
}

func (p *Pool) runTask(id int, task Task) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if p.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Int("worker", id).Interface("panic", r).Msg("task panicked")
			}
		}()
		task(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			p.log.Error().Int("worker", id).Dur("timeout", p.cfg.Timeout).Msg("task timed out")
		}
		// The task goroutine keeps running to completion in the background;
		// the worker moves on to the next queue item immediately.
	}
}
