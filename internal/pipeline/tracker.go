package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/ragdoc/pkg/types"
)

// ErrInvalidTransition is returned for a transition the job state machine
// does not allow
var ErrInvalidTransition = errors.New("invalid job state transition")

// Reporter receives every job update, in order. It is called with the
// tracker's lock held and must not call back into the tracker.
type Reporter func(types.JobUpdate)

// Tracker owns one job's state. It enforces
// pending → processing → completed|failed and never lets progress go
// backwards.
type Tracker struct {
	mu       sync.Mutex
	job      types.Job
	reporter Reporter
	now      func() time.Time
}

// NewTracker creates a tracker for job. reporter may be nil.
func NewTracker(job types.Job, reporter Reporter) *Tracker {
	if job.Status == "" {
		job.Status = types.StatusPending
	}
	return &Tracker{job: job, reporter: reporter, now: time.Now}
}

// Job returns a snapshot of the job
func (t *Tracker) Job() types.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.Snapshot()
}

// Start moves the job to processing
func (t *Tracker) Start(stage types.Stage, progress float64, total int, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(types.StatusProcessing); err != nil {
		return err
	}
	t.emit(types.StatusProcessing, stage, progress, 0, total, message)
	return nil
}

// Progress reports progress inside the current status. Updates on a
// terminal job are dropped.
func (t *Tracker) Progress(stage types.Stage, progress float64, done, total int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status.IsTerminal() {
		return
	}
	t.emit(t.job.Status, stage, progress, done, total, message)
}

// Complete moves the job to completed at progress 1.0
func (t *Tracker) Complete(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(types.StatusCompleted); err != nil {
		return err
	}
	t.emit(types.StatusCompleted, types.StageDone, 1.0, t.job.UnitsTotal, t.job.UnitsTotal, message)
	return nil
}

// Fail moves the job to failed, keeping its progress
func (t *Tracker) Fail(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(types.StatusFailed); err != nil {
		return err
	}
	t.emit(types.StatusFailed, t.job.Stage, t.job.Progress, t.job.UnitsDone, t.job.UnitsTotal, message)
	return nil
}

func (t *Tracker) transition(to types.JobStatus) error {
	if !types.CanTransition(t.job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.job.Status, to)
	}
	return nil
}

func (t *Tracker) emit(status types.JobStatus, stage types.Stage, progress float64, done, total int, message string) {
	if progress < t.job.Progress {
		progress = t.job.Progress
	}
	if progress > 1 {
		progress = 1
	}
	if done < t.job.UnitsDone && stage == t.job.Stage {
		done = t.job.UnitsDone
	}

	update := types.JobUpdate{
		JobID:      t.job.ID,
		Status:     status,
		Progress:   progress,
		Message:    message,
		Stage:      stage,
		UnitsTotal: total,
		UnitsDone:  done,
		At:         t.now().UTC(),
	}
	t.job.Apply(update)
	if t.reporter != nil {
		t.reporter(update)
	}
}
