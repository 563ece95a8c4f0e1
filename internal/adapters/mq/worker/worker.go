// Package worker runs station ticks on a fixed pool of goroutines.
//
// Station i is always owned by worker i % n, so a station is only ever
// touched by one goroutine. TickStations is a barrier: it returns once every
// worker has finished its share of the tick.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/reciperage/internal/domain/station"
	"github.com/okian/reciperage/pkg/logger"
	"github.com/okian/reciperage/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// job is one worker's share of a tick. Each worker writes only the result
// slots of the stations it owns.
type job struct {
	dt       time.Duration
	stations []*station.Station
	indices  []int
	results  []result
	wg       *sync.WaitGroup
}

type result struct {
	tr station.Transition
	ok bool
}

// StationWorker ticks the stations it is handed.
type StationWorker struct {
	name   string
	jobs   chan job
	quit   chan struct{}
	done   chan struct{}
	halt   sync.Once
	logger logger.Logger
}

// NewStationWorker creates a worker; it does nothing until Run.
func NewStationWorker(opts ...Option) *StationWorker {
	w := &StationWorker{
		name:   "worker",
		jobs:   make(chan job),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes jobs until ctx is cancelled or Stop is called.
func (w *StationWorker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case j := <-w.jobs:
			w.process(j)
		}
	}
}

// Stop asks Run to return. The job channel stays open; dispatches that race
// with Stop run on the caller.
func (w *StationWorker) Stop() {
	w.halt.Do(func() { close(w.quit) })
}

// dispatch hands j to the worker, or runs it on the caller once the worker
// is stopping or gone.
func (w *StationWorker) dispatch(j job) {
	select {
	case w.jobs <- j:
	case <-w.quit:
		w.process(j)
	case <-w.done:
		w.process(j)
	}
}

func (w *StationWorker) process(j job) {
	defer j.wg.Done()
	start := time.Now()
	for _, i := range j.indices {
		tr, ok := j.stations[i].Tick(j.dt)
		j.results[i] = result{tr: tr, ok: ok}
	}
	metrics.RecordWorkerTickLatency(float64(time.Since(start).Microseconds()) / 1000)
}

// Pool partitions stations across workers and implements match.StationTicker.
type Pool struct {
	workers []*StationWorker
	started atomic.Bool
	stopped atomic.Bool
	stop    sync.Once
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below 1 uses one worker per CPU.
func NewPool(workerCount int, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	base := NewStationWorker(opts...)
	p := &Pool{
		workers: make([]*StationWorker, workerCount),
		logger:  base.logger.Named("pool"),
	}
	for i := range workerCount {
		p.workers[i] = NewStationWorker(append(opts, WithName("worker-"+strconv.Itoa(i)))...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "station workers started", logger.Int("workers", len(p.workers)))
}

// TickStations advances every station by dt and returns the transitions in station order.
// Before Start or after Shutdown the stations are ticked on the caller's goroutine.
func (p *Pool) TickStations(_ context.Context, dt time.Duration, stations []*station.Station) []station.Transition {
	results := make([]result, len(stations))
	inline := !p.started.Load() || p.stopped.Load()

	if inline {
		for i, s := range stations {
			tr, ok := s.Tick(dt)
			results[i] = result{tr: tr, ok: ok}
		}
		return collect(results)
	}

	n := len(p.workers)
	shares := make([][]int, n)
	for i := range stations {
		shares[i%n] = append(shares[i%n], i)
	}

	var wg sync.WaitGroup
	for wi, idx := range shares {
		if len(idx) == 0 {
			continue
		}
		wg.Add(1)
		p.workers[wi].dispatch(job{dt: dt, stations: stations, indices: idx, results: results, wg: &wg})
	}
	wg.Wait()
	return collect(results)
}

func collect(results []result) []station.Transition {
	var out []station.Transition
	for _, r := range results {
		if r.ok {
			out = append(out, r.tr)
		}
	}
	return out
}

// Shutdown stops every worker and waits for them to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stop.Do(func() {
		p.stopped.Store(true)
		for _, w := range p.workers {
			w.Stop()
		}
	})
	if !p.started.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
