package goingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TotalSteps is the number of steps of a remote import job.
const TotalSteps = 5

// stepNames are the names of the remote job steps, starting with step 1.
var stepNames = []string{
	"metadata import",
	"pixel-data processing",
	"thumbnail generation",
	"metadata post-processing",
	"object materialization",
}

// StepName returns the name of the remote job step.
func StepName(step int) string {
	if step < 1 || step > len(stepNames) {
		return fmt.Sprintf("step %d", step)
	}
	return stepNames[step-1]
}

// AwaiterOpt is a type that modifies the default Awaiter behaviour.
type AwaiterOpt func(a *Awaiter)

// AwaiterWithPollInterval sets the interval between job polls.
func AwaiterWithPollInterval(interval time.Duration) AwaiterOpt {
	return func(a *Awaiter) {
		a.interval = interval
	}
}

// AwaiterWithStepTimeout sets the time the job may stay at the same step.
func AwaiterWithStepTimeout(timeout time.Duration) AwaiterOpt {
	return func(a *Awaiter) {
		a.stepTimeout = timeout
	}
}

// AwaiterWithBus makes the awaiter publish step progress on the bus.
func AwaiterWithBus(bus *Bus) AwaiterOpt {
	return func(a *Awaiter) {
		a.bus = bus
	}
}

// AwaiterWithLogger makes the awaiter log with the passed logger.
func AwaiterWithLogger(logger *zap.Logger) AwaiterOpt {
	return func(a *Awaiter) {
		a.logger = logger
	}
}

// NewAwaiter returns a new instance of *Awaiter.
func NewAwaiter(opts ...AwaiterOpt) *Awaiter {
	a := &Awaiter{
		interval:    DefaultPollInterval,
		stepTimeout: DefaultStepTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = buildDefaultLogger("awaiter")
	}
	return a
}

// Awaiter waits for a remote import job to finish.
type Awaiter struct {
	interval    time.Duration
	stepTimeout time.Duration
	bus         *Bus
	logger      *zap.Logger
	now         func() time.Time
}

// Await waits until the job reaches a terminal status. The job is polled every interval, or
// watched when the session implements JobWatcher. The wait fails with ErrStepTimeout if the job
// doesn't advance within the step timeout, and with ErrCancelled when ctx is done. A remote error
// response is returned as *RemoteJobError.
func (a *Awaiter) Await(ctx context.Context, unit *ImportUnit, session Session, job JobID) (*ImportResponse, error) {
	c := newCompletion()
	progress := &stepTracker{unit: unit, bus: a.bus, changed: a.now(), now: a.now}
	handle := func(status *JobStatus) {
		if status.Step > 0 {
			progress.advance(status)
		}
		switch {
		case status.Err != nil:
			c.resolve(nil, status.Err)
		case status.Response != nil:
			c.resolve(status.Response, nil)
		}
	}
	poll := true
	if watcher, ok := session.(JobWatcher); ok {
		stop, err := watcher.Watch(ctx, job, handle)
		if err != nil {
			a.logger.Warn("failed to watch the job, falling back to polling", zap.String("job", string(job)), zap.Error(err))
		} else {
			defer stop()
			poll = false
		}
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	if poll {
		a.poll(ctx, session, job, c, handle)
	}
	for {
		if c.resolved() {
			return c.result()
		}
		select {
		case <-c.done:
			return c.result()
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-ticker.C:
			if poll {
				a.poll(ctx, session, job, c, handle)
				if c.resolved() {
					return c.result()
				}
			}
			if step, since := progress.since(); since > a.stepTimeout {
				return nil, fmt.Errorf("%w: job %s stayed at step %d for %s", ErrStepTimeout, job, step, since)
			}
		}
	}
}

// poll polls the job once and passes the status to the handler. A poll failure resolves the
// completion.
func (a *Awaiter) poll(ctx context.Context, session Session, job JobID, c *completion, handle func(*JobStatus)) {
	status, err := session.Poll(ctx, job)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			c.resolve(nil, fmt.Errorf("%w: %v", ErrCancelled, err))
			return
		}
		c.resolve(nil, fmt.Errorf("poll job %s: %w", job, err))
		return
	}
	handle(status)
}

// stepTracker records the job progress and publishes step transitions. The recorded step never
// decreases.
type stepTracker struct {
	mu      sync.Mutex
	unit    *ImportUnit
	bus     *Bus
	step    int
	changed time.Time
	now     func() time.Time
}

// advance registers the status step. Duplicate and out-of-order steps are ignored.
func (t *stepTracker) advance(status *JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if status.Step <= t.step {
		return
	}
	t.step = status.Step
	t.changed = t.now()
	total := status.TotalSteps
	if total == 0 {
		total = TotalSteps
	}
	t.bus.Publish(&StepProgress{Unit: t.unit, StepName: StepName(status.Step), Step: status.Step, TotalSteps: total})
}

// since returns the current step and the time spent at it.
func (t *stepTracker) since() (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step, t.now().Sub(t.changed)
}

// newCompletion returns a new unresolved completion.
func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// completion is the result of a job which can be resolved only once.
type completion struct {
	once sync.Once
	done chan struct{}
	resp *ImportResponse
	err  error
}

// resolve sets the result and reports whether this call resolved the completion. Calls after
// the first one are no-ops.
func (c *completion) resolve(resp *ImportResponse, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}

// resolved reports whether the completion has been resolved.
func (c *completion) resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// result returns the resolved result.
func (c *completion) result() (*ImportResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}
