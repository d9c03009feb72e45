package goingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestAwaiter(bus *Bus, opts ...AwaiterOpt) *Awaiter {
	return NewAwaiter(append([]AwaiterOpt{
		AwaiterWithLogger(newTestLogger()),
		AwaiterWithBus(bus),
		AwaiterWithPollInterval(time.Millisecond),
	}, opts...)...)
}

// watchingSession pushes the statuses from several goroutines at once.
type watchingSession struct {
	*mockSession
	pushed   []*JobStatus
	stopped  bool
	mu       sync.Mutex
	watchErr error
}

func (s *watchingSession) Watch(ctx context.Context, job JobID, fn func(*JobStatus)) (func(), error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, status := range s.pushed {
				fn(status)
			}
		}()
	}
	go wg.Wait()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
	}, nil
}

func TestAwaiterMonotonicSteps(t *testing.T) {
	// ARRANGE
	session := newMockSession("s", 4)
	created := []RemoteObject{{Kind: "Image", ID: "1"}}
	session.statuses = []*JobStatus{
		{Step: 1, TotalSteps: TotalSteps},
		{Step: 3, TotalSteps: TotalSteps},
		{Step: 2, TotalSteps: TotalSteps},
		{Step: 3, TotalSteps: TotalSteps},
		{Step: 4, TotalSteps: TotalSteps},
		{Step: 5, TotalSteps: TotalSteps, Response: &ImportResponse{CreatedObjects: created, PixelsRefs: []string{"p1"}}},
	}
	bus, rec := newRecordingBus()
	a := newTestAwaiter(bus)

	// ACT
	resp, err := a.Await(context.Background(), &ImportUnit{EntryPath: "a"}, session, "job")

	// ASSERT
	if !assert.NoErrorf(t, err, "await failed") {
		return
	}
	assert.Equalf(t, created, resp.CreatedObjects, "created objects mismatch")
	assert.Equalf(t, []string{"p1"}, resp.PixelsRefs, "pixels refs mismatch")
	steps := make([]int, 0)
	for _, e := range rec.ofKind(KindStepProgress) {
		p := e.(*StepProgress)
		steps = append(steps, p.Step)
		assert.Equalf(t, StepName(p.Step), p.StepName, "step name mismatch")
	}
	assert.Equalf(t, []int{1, 3, 4, 5}, steps, "steps must never go back")
}

func TestAwaiterFailures(t *testing.T) {
	t.Run("RemoteError", func(t *testing.T) {
		// ARRANGE
		session := newMockSession("s", 4)
		session.statuses = []*JobStatus{
			{Step: 1},
			{Err: &RemoteJobError{Category: "ome.conditions", Name: "ImportException", Parameters: map[string]string{"file": "a"}, Message: "bad pixels"}},
		}
		a := newTestAwaiter(nil)

		// ACT
		_, err := a.Await(context.Background(), &ImportUnit{EntryPath: "a"}, session, "job")

		// ASSERT
		var jobErr *RemoteJobError
		if assert.Truef(t, errors.As(err, &jobErr), "*RemoteJobError expected, got %v", err) {
			assert.Equalf(t, "ImportException", jobErr.Name, "remote error name mismatch")
			assert.Equalf(t, "a", jobErr.Parameters["file"], "remote error parameters mismatch")
		}
	})

	t.Run("StepTimeout", func(t *testing.T) {
		// ARRANGE
		session := newMockSession("s", 4)
		session.statuses = []*JobStatus{{Step: 2}}
		a := newTestAwaiter(nil, AwaiterWithStepTimeout(20*time.Millisecond))

		// ACT
		_, err := a.Await(context.Background(), &ImportUnit{EntryPath: "a"}, session, "job")

		// ASSERT
		assert.Truef(t, errors.Is(err, ErrStepTimeout), "ErrStepTimeout expected, got %v", err)
	})

	t.Run("PollError", func(t *testing.T) {
		// ARRANGE
		session := newMockSession("s", 4)
		session.pollErr = errors.New("connection reset")
		a := newTestAwaiter(nil)

		// ACT
		_, err := a.Await(context.Background(), &ImportUnit{EntryPath: "a"}, session, "job")

		// ASSERT
		assert.Truef(t, errors.Is(err, session.pollErr), "poll error expected, got %v", err)
	})

	t.Run("Cancelled", func(t *testing.T) {
		// ARRANGE
		session := newMockSession("s", 4)
		session.statuses = []*JobStatus{{Step: 1}}
		a := newTestAwaiter(nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		// ACT
		_, err := a.Await(ctx, &ImportUnit{EntryPath: "a"}, session, "job")

		// ASSERT
		assert.Truef(t, errors.Is(err, ErrCancelled), "ErrCancelled expected, got %v", err)
	})
}

func TestAwaiterWatch(t *testing.T) {
	t.Run("ResolvedOnce", func(t *testing.T) {
		// ARRANGE
		first := &ImportResponse{PixelsRefs: []string{"first"}}
		session := &watchingSession{
			mockSession: newMockSession("s", 4),
			pushed: []*JobStatus{
				{Step: 1},
				{Step: 5, Response: first},
				{Step: 5, Response: first},
			},
		}
		bus, rec := newRecordingBus()
		a := newTestAwaiter(bus)

		// ACT
		resp, err := a.Await(context.Background(), &ImportUnit{EntryPath: "a"}, session, "job")

		// ASSERT
		if assert.NoErrorf(t, err, "await failed") {
			assert.Equalf(t, first, resp, "response mismatch")
		}
		steps := make([]int, 0)
		for _, e := range rec.ofKind(KindStepProgress) {
			steps = append(steps, e.(*StepProgress).Step)
		}
		if assert.NotEmptyf(t, steps, "final step expected to be published") {
			assert.Equalf(t, 5, steps[len(steps)-1], "last published step mismatch")
		}
		assert.LessOrEqualf(t, len(steps), 2, "steps must be published at most once")
		session.mu.Lock()
		assert.Truef(t, session.stopped, "watch expected to be stopped")
		session.mu.Unlock()
		assert.Equalf(t, 0, session.polls, "no polls expected while watching")
	})

	t.Run("FallbackToPolling", func(t *testing.T) {
		// ARRANGE
		session := &watchingSession{mockSession: newMockSession("s", 4), watchErr: errors.New("not supported")}
		a := newTestAwaiter(nil)

		// ACT
		resp, err := a.Await(context.Background(), &ImportUnit{EntryPath: "a"}, session, "job")

		// ASSERT
		assert.NoErrorf(t, err, "await failed")
		assert.NotNilf(t, resp, "response expected")
		assert.Equalf(t, 1, session.polls, "one poll expected")
	})
}

func TestCompletion(t *testing.T) {
	// ARRANGE
	c := newCompletion()
	resp := &ImportResponse{}

	// ACT
	first := c.resolve(resp, nil)
	second := c.resolve(nil, errors.New("late failure"))

	// ASSERT
	assert.Truef(t, first, "first resolve expected to win")
	assert.Falsef(t, second, "second resolve expected to be ignored")
	got, err := c.result()
	assert.NoErrorf(t, err, "the late failure must be ignored")
	assert.Equalf(t, resp, got, "response mismatch")
}
