// Package runner orchestrates one batch run: it expands courses into
// course/date tasks, fans them out over a bounded worker pool, and flushes
// accumulated results to storage before they pile up in memory.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"teeclub-fetcher/providers"
	"teeclub-fetcher/store"
)

// Dispatcher routes one course/date fetch to its provider adapter.
type Dispatcher interface {
	Dispatch(ctx context.Context, course providers.Course, searchDate time.Time) (providers.FetchResult, error)
}

// Sink persists normalized results. Implemented by store.Store.
type Sink interface {
	UpsertTeeTimes(results []providers.FetchResult, batchSize int) store.UpsertSummary
}

type Task struct {
	Course providers.Course
	Date   time.Time
}

// Summary is what an operator sees at the end of a run.
type Summary struct {
	Tasks            int
	Succeeded        int
	FailedExpected   int
	FailedUnexpected int
	TotalTeeTimes    int
	UpsertBatches    int
	DatabaseErrors   []store.BatchError
	Duration         time.Duration
}

// HasErrors reports whether the run needs operator attention. Expected
// failures (final 4xx rejections) are routine outcomes and never fail a run.
func (s Summary) HasErrors() bool {
	return s.FailedUnexpected > 0 || len(s.DatabaseErrors) > 0
}

type Runner struct {
	dispatcher Dispatcher
	sink       Sink
	log        *logrus.Entry

	concurrency int
	flushEvery  int
	batchSize   int

	// now is injectable so the visibility-window cutoff is testable.
	now func() time.Time
}

func New(dispatcher Dispatcher, sink Sink, log *logrus.Entry, concurrency, flushEvery, batchSize int) *Runner {
	if concurrency <= 0 {
		concurrency = 5
	}
	if flushEvery <= 0 {
		flushEvery = 20
	}
	return &Runner{
		dispatcher:  dispatcher,
		sink:        sink,
		log:         log,
		concurrency: concurrency,
		flushEvery:  flushEvery,
		batchSize:   batchSize,
		now:         time.Now,
	}
}

// BuildTasks expands each course into one task per visible day. The tee sheet
// for the last visible day only opens at booking_visibility_start_time local
// time; before that the day is skipped entirely rather than fetched empty.
func (r *Runner) BuildTasks(courses []providers.Course) []Task {
	var tasks []Task
	for _, course := range courses {
		var loc *time.Location
		var err error
		loc, err = time.LoadLocation(course.Timezone)
		if err != nil {
			r.log.WithField("course", course.Name).Warnf("unknown timezone %q, using UTC", course.Timezone)
			loc = time.UTC
		}

		var localNow time.Time = r.now().In(loc)
		var today time.Time = time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)

		for i := 0; i <= course.BookingVisibilityDays; i++ {
			if i == course.BookingVisibilityDays && course.BookingVisibilityStartTime != "" {
				var opensAt int = timeStringToMinutes(course.BookingVisibilityStartTime)
				var nowMinutes int = localNow.Hour()*60 + localNow.Minute()
				if nowMinutes < opensAt {
					continue
				}
			}
			tasks = append(tasks, Task{Course: course, Date: today.AddDate(0, 0, i)})
		}
	}
	return tasks
}

// Run works through all course/date tasks with a bounded worker pool and
// returns the final summary. Provider-level failures are counted, never
// fatal; only the caller decides whether a run with errors should fail.
func (r *Runner) Run(ctx context.Context, courses []providers.Course) Summary {
	var started time.Time = r.now()
	var tasks []Task = r.BuildTasks(courses)
	r.log.WithFields(logrus.Fields{"courses": len(courses), "tasks": len(tasks)}).Info("starting fetch run")

	var summary Summary = Summary{Tasks: len(tasks)}

	var mu sync.Mutex
	var pending []providers.FetchResult

	// flush persists everything accumulated so far. It runs under mu: the
	// pool is sized for upstream politeness, not for storage throughput, so
	// serializing flushes costs nothing and keeps memory bounded.
	var flush func() = func() {
		if len(pending) == 0 {
			return
		}
		var result store.UpsertSummary = r.sink.UpsertTeeTimes(pending, r.batchSize)
		summary.UpsertBatches += result.TotalBatches
		summary.DatabaseErrors = append(summary.DatabaseErrors, result.Errors...)
		pending = pending[:0]
	}

	var queue chan Task = make(chan Task)
	var wg sync.WaitGroup
	for n := 0; n < r.concurrency; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				r.runTask(ctx, task, &mu, &pending, &summary, flush)
			}
		}()
	}

	for _, task := range tasks {
		queue <- task
	}
	close(queue)
	wg.Wait()

	mu.Lock()
	flush()
	mu.Unlock()

	summary.Duration = r.now().Sub(started)
	r.log.WithFields(logrus.Fields{
		"tasks":             summary.Tasks,
		"succeeded":         summary.Succeeded,
		"failed_expected":   summary.FailedExpected,
		"failed_unexpected": summary.FailedUnexpected,
		"tee_times":         summary.TotalTeeTimes,
		"db_batches":        summary.UpsertBatches,
		"db_errors":         len(summary.DatabaseErrors),
		"duration":          summary.Duration.Round(time.Millisecond).String(),
	}).Info("fetch run finished")

	return summary
}

func (r *Runner) runTask(ctx context.Context, task Task, mu *sync.Mutex, pending *[]providers.FetchResult, summary *Summary, flush func()) {
	var result providers.FetchResult
	var err error
	result, err = r.dispatcher.Dispatch(ctx, task.Course, task.Date)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"course": task.Course.Name,
			"date":   task.Date.Format("2006-01-02"),
		}).WithError(err).Error("dispatch failed")
		mu.Lock()
		summary.FailedUnexpected++
		mu.Unlock()
		return
	}

	mu.Lock()
	defer mu.Unlock()

	if result.Error != nil {
		if result.Error.Expected() {
			summary.FailedExpected++
		} else {
			summary.FailedUnexpected++
		}
	} else {
		summary.Succeeded++
		summary.TotalTeeTimes += len(result.TeeTimes)
	}

	// Errored results are persisted too: the day's row is replaced with an
	// empty list rather than left serving stale availability.
	*pending = append(*pending, result)
	if len(*pending) >= r.flushEvery {
		flush()
	}
}

func timeStringToMinutes(timeStr string) int {
	var hours int
	var mins int
	fmt.Sscanf(timeStr, "%d:%d", &hours, &mins)
	return hours*60 + mins
}
