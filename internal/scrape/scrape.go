// Package scrape runs the download → normalize → write pipeline and records
// every attempt in the job ledger.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gridfeed/gridfeed/internal/fetch"
	"github.com/gridfeed/gridfeed/internal/normalize"
	"github.com/gridfeed/gridfeed/internal/registry"
	"github.com/gridfeed/gridfeed/internal/store"
	"github.com/gridfeed/gridfeed/internal/telemetry"
)

// ErrAlreadyRunning means a job for the same (source, date) pair is still in
// flight; the caller should try again later.
var ErrAlreadyRunning = errors.New("scrape already running for source and date")

// Orchestrator coordinates one scrape at a time per (source, date) pair.
type Orchestrator struct {
	registry   *registry.Registry
	downloader *fetch.Downloader
	store      *store.Store
	workers    int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds an Orchestrator. workers bounds range and recent concurrency.
func New(reg *registry.Registry, dl *fetch.Downloader, st *store.Store, workers int) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		registry:   reg,
		downloader: dl,
		store:      st,
		workers:    workers,
		inflight:   make(map[string]struct{}),
	}
}

func inflightKey(code string, date time.Time) string {
	return code + "|" + date.Format("20060102")
}

func (o *Orchestrator) acquire(code string, date time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := inflightKey(code, date)
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(code string, date time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, inflightKey(code, date))
}

// ScrapeOne runs the full pipeline for one source and target date. The
// returned job carries the terminal status; the error is non-nil only for
// infrastructure failures that prevented recording the attempt at all.
func (o *Orchestrator) ScrapeOne(ctx context.Context, code string, date time.Time, force bool) (*store.Job, error) {
	src, err := o.registry.Get(code)
	if err != nil {
		return nil, err
	}

	if !o.acquire(src.Code, date) {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyRunning, src.Code, date.Format("2006-01-02"))
	}
	defer o.release(src.Code, date)

	job, err := o.store.BeginJob(ctx, src.Code, date, force)
	if err != nil {
		return nil, err
	}
	if job.Status == store.StatusSkipped {
		log.Debug().Str("source", src.Code).Time("date", date).Msg("already scraped, skipping")
		telemetry.ScrapeJobs.WithLabelValues(src.Code, job.Status).Inc()
		return job, nil
	}

	start := time.Now()
	o.run(ctx, src, date, job)

	// The ledger closes on a detached context: a shutdown that killed the
	// download mid-flight must still move the row out of running.
	if err := o.store.FinishJob(context.WithoutCancel(ctx), job); err != nil {
		return job, err
	}

	telemetry.ScrapeJobs.WithLabelValues(src.Code, job.Status).Inc()
	telemetry.ScrapeDuration.WithLabelValues(src.Code).Observe(time.Since(start).Seconds())

	evt := log.Info()
	if job.Status == store.StatusFailed {
		evt = log.Warn()
	}
	evt.Str("source", src.Code).
		Time("date", date).
		Str("status", job.Status).
		Int("inserted", job.RowsInserted).
		Int("updated", job.RowsUpdated).
		Int("warnings", job.ParseWarnings).
		Dur("elapsed", time.Since(start)).
		Msg("scrape finished")

	return job, nil
}

// run executes the pipeline body and sets the job's terminal fields.
func (o *Orchestrator) run(ctx context.Context, src *registry.Source, date time.Time, job *store.Job) {
	scrapedAt := time.Now().UTC()

	body, urlUsed, err := o.downloader.FetchOrArchive(ctx, src, date)
	if err != nil {
		var nf *fetch.NotFoundError
		if errors.As(err, &nf) && !src.Cadence.Dated() {
			// A rolling snapshot momentarily absent upstream is not a
			// failure; there is just nothing to ingest.
			job.Status = store.StatusSucceeded
			o.logJob(ctx, job, "info", "snapshot not published, nothing to ingest")
			return
		}
		o.fail(ctx, job, fmt.Errorf("download: %w", err))
		return
	}
	job.URLUsed = &urlUsed

	result, err := normalize.Normalize(src, body, scrapedAt)
	if err != nil {
		o.fail(ctx, job, fmt.Errorf("normalize: %w", err))
		return
	}
	job.ParseWarnings = result.Warnings
	if result.Warnings > 0 {
		telemetry.ParseWarnings.WithLabelValues(src.Code).Add(float64(result.Warnings))
	}

	counts, err := o.write(ctx, result)
	if err != nil {
		o.fail(ctx, job, fmt.Errorf("write: %w", err))
		return
	}

	job.Status = store.StatusSucceeded
	job.RowsInserted = counts.Inserted
	job.RowsUpdated = counts.Updated
	telemetry.RowsWritten.WithLabelValues(src.Code, "inserted").Add(float64(counts.Inserted))
	telemetry.RowsWritten.WithLabelValues(src.Code, "updated").Add(float64(counts.Updated))
	o.logJob(ctx, job, "info",
		fmt.Sprintf("wrote %d new and %d changed rows from %s", counts.Inserted, counts.Updated, urlUsed))
}

// write commits the result in a single transaction; partial writes never land.
func (o *Orchestrator) write(ctx context.Context, result *normalize.Result) (store.Counts, error) {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return store.Counts{}, err
	}

	refs := o.store.Refs(tx)
	counts, err := o.store.WriteResult(ctx, tx, result, refs)
	if err != nil {
		tx.Rollback()
		return store.Counts{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Counts{}, fmt.Errorf("failed to commit: %w", err)
	}
	refs.Commit()
	return counts, nil
}

func (o *Orchestrator) fail(ctx context.Context, job *store.Job, err error) {
	msg := err.Error()
	job.Status = store.StatusFailed
	job.ErrorText = &msg
	o.logJob(ctx, job, "error", msg)
}

func (o *Orchestrator) logJob(ctx context.Context, job *store.Job, level, message string) {
	// Detached for the same reason FinishJob is: failure messages written
	// while the job's own context is already canceled must still land.
	if err := o.store.AppendJobLog(context.WithoutCancel(ctx), job.ID, level, message); err != nil {
		log.Warn().Err(err).Int64("job_id", job.ID).Msg("failed to append job log")
	}
}

// ScrapeRange runs one job per day in [start, end] for a single source,
// sequentially and oldest first. Failed days do not stop the sweep.
func (o *Orchestrator) ScrapeRange(ctx context.Context, code string, start, end time.Time, force bool) ([]*store.Job, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("range end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var jobs []*store.Job
	var failed int
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return jobs, err
		}
		job, err := o.ScrapeOne(ctx, code, day, force)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
		if job.Status == store.StatusFailed {
			failed++
		}
	}

	if failed > 0 {
		return jobs, fmt.Errorf("%d of %d days failed", failed, len(jobs))
	}
	return jobs, nil
}

// ScrapeRecent sweeps every registered source over the trailing window,
// fanning out across the worker pool. Snapshot sources run once for today.
func (o *Orchestrator) ScrapeRecent(ctx context.Context, days int, force bool) error {
	if days < 1 {
		days = 1
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)

	type task struct {
		code string
		date time.Time
	}
	var tasks []task
	for _, src := range o.registry.All() {
		if !src.Cadence.Dated() {
			tasks = append(tasks, task{src.Code, today})
			continue
		}
		for i := 0; i < days; i++ {
			tasks = append(tasks, task{src.Code, today.AddDate(0, 0, -i)})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	var mu sync.Mutex
	var failed int
	for _, tk := range tasks {
		tk := tk
		g.Go(func() error {
			job, err := o.ScrapeOne(ctx, tk.code, tk.date, force)
			if err != nil {
				if errors.Is(err, ErrAlreadyRunning) {
					return nil
				}
				return err
			}
			if job.Status == store.StatusFailed {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(tasks))
	}
	return nil
}
