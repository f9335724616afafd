// Package sched drives recurring scrapes from each source's cadence. A
// next-fire heap feeds a bounded worker pool so a slow upstream never delays
// other sources.
package sched

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridfeed/gridfeed/internal/registry"
	"github.com/gridfeed/gridfeed/internal/scrape"
	"github.com/gridfeed/gridfeed/internal/store"
)

// entry is one source's pending slot in the fire queue.
type entry struct {
	code    string
	cadence registry.Cadence
	fireAt  time.Time
	index   int
}

type fireQueue []*entry

func (q fireQueue) Len() int            { return len(q) }
func (q fireQueue) Less(i, j int) bool  { return q[i].fireAt.Before(q[j].fireAt) }
func (q fireQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *fireQueue) Push(x interface{}) { e := x.(*entry); e.index = len(*q); *q = append(*q, e) }
func (q *fireQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Scheduler owns the fire queue and worker pool for continuous operation.
type Scheduler struct {
	orch     *scrape.Orchestrator
	registry *registry.Registry
	workers  int
	now      func() time.Time
}

// New builds a Scheduler over the orchestrator's source set.
func New(orch *scrape.Orchestrator, reg *registry.Registry, workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		orch:     orch,
		registry: reg,
		workers:  workers,
		now:      time.Now,
	}
}

// nextFire returns the first slot strictly after t for the cadence.
//
//	rt5, snapshot  every 5 minutes on the 5-minute boundary
//	hourly         top of each hour
//	daily          01:00
//	multi_daily    00:00, 06:00, 12:00, 18:00
func nextFire(c registry.Cadence, t time.Time) time.Time {
	switch c {
	case registry.CadenceRT5, registry.CadenceSnapshot:
		return t.Truncate(5 * time.Minute).Add(5 * time.Minute)
	case registry.CadenceHourly:
		return t.Truncate(time.Hour).Add(time.Hour)
	case registry.CadenceMultiDaily:
		return t.Truncate(6 * time.Hour).Add(6 * time.Hour)
	default: // daily
		day := time.Date(t.Year(), t.Month(), t.Day(), 1, 0, 0, 0, t.Location())
		if !day.After(t) {
			day = day.AddDate(0, 0, 1)
		}
		return day
	}
}

// task is one dispatch to the worker pool.
type task struct {
	code string
	date time.Time
}

// Run blocks, scraping every source on its cadence until ctx is canceled. A
// warm-up sweep of all sources runs before the steady-state loop so a fresh
// process has data immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	tasks := make(chan task)
	// Workers run jobs on a context that survives shutdown: cancellation
	// stops the dispatch loop below, while in-flight jobs run to completion
	// so the job ledger always reaches a terminal state.
	jobCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tk := range tasks {
				s.dispatch(jobCtx, tk)
			}
		}()
	}
	defer func() {
		close(tasks)
		wg.Wait()
	}()

	log.Info().
		Int("sources", s.registry.Len()).
		Int("workers", s.workers).
		Msg("scheduler starting, running warm-up sweep")

	now := s.now()
	queue := make(fireQueue, 0, s.registry.Len())
	for _, src := range s.registry.All() {
		select {
		case tasks <- task{src.Code, now}:
		case <-ctx.Done():
			return ctx.Err()
		}
		queue = append(queue, &entry{code: src.Code, cadence: src.Cadence, fireAt: nextFire(src.Cadence, now)})
	}
	heap.Init(&queue)

	for {
		next := queue[0]
		wait := next.fireAt.Sub(s.now())
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-timer.C:
		}

		fireAt := next.fireAt
		select {
		case tasks <- task{next.code, fireAt}:
		case <-ctx.Done():
			return ctx.Err()
		}

		next.fireAt = nextFire(next.cadence, fireAt)
		heap.Fix(&queue, 0)
	}
}

// dispatch runs one scrape, tolerating overlap refusals and logging the rest.
func (s *Scheduler) dispatch(ctx context.Context, tk task) {
	job, err := s.orch.ScrapeOne(ctx, tk.code, tk.date, false)
	switch {
	case errors.Is(err, scrape.ErrAlreadyRunning):
		log.Debug().Str("source", tk.code).Msg("previous scrape still running, slot dropped")
	case errors.Is(err, context.Canceled):
	case err != nil:
		log.Error().Err(err).Str("source", tk.code).Msg("scheduled scrape could not run")
	case job.Status == store.StatusFailed:
		log.Warn().Str("source", tk.code).Msg("scheduled scrape failed")
	}
}

// RunOnce sweeps every source a single time for today, honoring the trailing
// window, and returns when the sweep completes.
func (s *Scheduler) RunOnce(ctx context.Context, days int, force bool) error {
	return s.orch.ScrapeRecent(ctx, days, force)
}
