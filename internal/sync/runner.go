package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/reggiezhang/dayone2-to-evernote/internal/journal"
)

// Summary accumulates the outcomes of a run in entry order
type Summary struct {
	Notebook    string
	Created     int
	Updated     int
	Skipped     int
	Failed      int
	Failures    []Outcome
	Interrupted bool
}

// Add folds one outcome into the summary
func (s *Summary) Add(o Outcome) {
	switch o.Kind {
	case Created:
		s.Created++
	case Updated:
		s.Updated++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Failed++
		s.Failures = append(s.Failures, o)
	}
}

// String renders the line printed at the end of a run
func (s Summary) String() string {
	if s.Created > 0 {
		return fmt.Sprintf("%d note(s) created in [%s], %d note(s) updated.", s.Created, s.Notebook, s.Updated)
	}
	return fmt.Sprintf("0 note(s) created, %d note(s) updated.", s.Updated)
}

// RunnerOptions configures a Runner
type RunnerOptions struct {
	// Workers above 1 syncs that many entries at a time.
	Workers int

	// RetryAttempts is how many more passes are made over failed entries.
	RetryAttempts int
	RetryDelay    time.Duration

	// Progress receives the progress bar. Nil hides it.
	Progress io.Writer
}

// Runner feeds entries through an Engine and tallies the results
type Runner struct {
	engine *Engine
	opts   RunnerOptions
}

// NewRunner creates a runner
func NewRunner(engine *Engine, opts RunnerOptions) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{engine: engine, opts: opts}
}

// Run syncs entries and returns the summary. A cancelled context stops new
// entries from starting; entries already saved stay valid.
func (r *Runner) Run(ctx context.Context, entries []journal.Entry) Summary {
	start := time.Now()
	slog.Info("starting sync", "entries", len(entries), "notebook", r.engine.Notebook(), "workers", r.opts.Workers)

	outcomes := make([]Outcome, len(entries))
	done := make([]bool, len(entries))

	bar := r.newBar(len(entries), "Syncing entries")
	r.pass(ctx, entries, allIndexes(len(entries)), outcomes, done, bar)
	bar.Finish()

	for attempt := 1; attempt <= r.opts.RetryAttempts && ctx.Err() == nil; attempt++ {
		failed := failedIndexes(outcomes, done)
		if len(failed) == 0 {
			break
		}
		if err := sleepContext(ctx, r.opts.RetryDelay); err != nil {
			break
		}
		slog.Info("retrying failed entries", "attempt", attempt, "count", len(failed))
		r.pass(ctx, entries, failed, outcomes, done, r.newBar(len(failed), "Retrying entries"))
	}

	summary := Summary{Notebook: r.engine.Notebook()}
	for i, o := range outcomes {
		if !done[i] {
			summary.Interrupted = true
			continue
		}
		summary.Add(o)
	}

	slog.Info("sync completed",
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"interrupted", summary.Interrupted,
		"duration_s", time.Since(start).Seconds())

	return summary
}

// pass syncs the entries at the given indexes, recording each outcome in place
func (r *Runner) pass(ctx context.Context, entries []journal.Entry, indexes []int, outcomes []Outcome, done []bool, bar *progressbar.ProgressBar) {
	if r.opts.Workers == 1 {
		for _, i := range indexes {
			if ctx.Err() != nil {
				return
			}
			outcomes[i] = r.engine.SyncEntry(ctx, entries[i])
			done[i] = true
			bar.Add(1)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for _, i := range indexes {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			outcomes[i] = r.engine.SyncEntry(ctx, entries[i])
			done[i] = true
			bar.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) newBar(total int, description string) *progressbar.ProgressBar {
	w := r.opts.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
	)
}

func allIndexes(n int) []int {
	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}
	return indexes
}

func failedIndexes(outcomes []Outcome, done []bool) []int {
	var indexes []int
	for i, o := range outcomes {
		if done[i] && o.Kind == Failed {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
