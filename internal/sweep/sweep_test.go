package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/logging"
)

func TestRunOnce_JoinsErrors(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	s := New([]Job{
		{Name: "a", Interval: time.Hour, Run: func(context.Context, time.Time) (int64, error) {
			ran = append(ran, "a")
			return 0, boom
		}},
		{Name: "b", Interval: time.Hour, Run: func(context.Context, time.Time) (int64, error) {
			ran = append(ran, "b")
			return 3, nil
		}},
	}, WithLogger(logging.Discard()))

	err := s.RunOnce(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "a: boom")
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestRunOnce_RecoversPanics(t *testing.T) {
	s := New([]Job{{Name: "p", Interval: time.Hour, Run: func(context.Context, time.Time) (int64, error) {
		panic("kaboom")
	}}}, WithLogger(logging.Discard()))

	err := s.RunOnce(context.Background())

	assert.ErrorContains(t, err, "job panicked: kaboom")
}

func TestRun_PassesClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got := make(chan time.Time, 1)
	s := New([]Job{{Name: "clock", Interval: time.Hour, RunOnStart: true, Run: func(_ context.Context, now time.Time) (int64, error) {
		select {
		case got <- now:
		default:
		}
		return 0, nil
	}}}, WithLogger(logging.Discard()), WithClock(func() time.Time { return fixed }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	assert.Equal(t, fixed, <-got)
	cancel()
	require.NoError(t, <-done)
}

func TestRun_ErrorsDoNotStopTheLoop(t *testing.T) {
	var calls atomic.Int32
	s := New([]Job{{Name: "flaky", Interval: 5 * time.Millisecond, Run: func(context.Context, time.Time) (int64, error) {
		calls.Add(1)
		return 0, errors.New("db down")
	}}}, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRun_NoOverlap(t *testing.T) {
	var (
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		runs     atomic.Int32
	)
	s := New([]Job{{Name: "slow", Interval: time.Millisecond, Run: func(context.Context, time.Time) (int64, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		runs.Add(1)
		return 1, nil
	}}}, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestRun_InFlightRunSurvivesShutdown(t *testing.T) {
	started := make(chan struct{})
	var (
		once     sync.Once
		finished atomic.Bool
		ctxErr   atomic.Value
	)
	s := New([]Job{{Name: "long", Interval: time.Hour, RunOnStart: true, Run: func(ctx context.Context, _ time.Time) (int64, error) {
		once.Do(func() { close(started) })
		time.Sleep(50 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		finished.Store(true)
		return 0, nil
	}}}, WithLogger(logging.Discard()), WithRunTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	<-started
	cancel()
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
	assert.Nil(t, ctxErr.Load())
}

func TestRun_RejectsZeroInterval(t *testing.T) {
	s := New([]Job{{Name: "bad", Run: func(context.Context, time.Time) (int64, error) { return 0, nil }}},
		WithLogger(logging.Discard()))

	assert.ErrorContains(t, s.Run(context.Background()), `job "bad": interval must be positive`)
}

type fakeCirculation struct {
	mu    sync.Mutex
	calls []string
	days  int
}

func (f *fakeCirculation) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeCirculation) MarkOverdue(context.Context, time.Time) (int64, error) {
	f.record("mark")
	return 2, nil
}

func (f *fakeCirculation) SendOverdueNotices(context.Context, time.Time) (int, error) {
	f.record("notices")
	return 1, nil
}

func (f *fakeCirculation) SendDueReminders(_ context.Context, _ time.Time, days int) (int, error) {
	f.record("reminders")
	f.days = days
	return 4, nil
}

func TestCirculationJobs(t *testing.T) {
	circ := &fakeCirculation{}
	jobs := CirculationJobs(circ, Intervals{Overdue: time.Hour, Notices: 24 * time.Hour, ReminderDays: 3})

	require.Len(t, jobs, 3)
	assert.Equal(t, "mark-overdue", jobs[0].Name)
	assert.True(t, jobs[0].RunOnStart)
	assert.Equal(t, 24*time.Hour, jobs[2].Interval)

	require.NoError(t, New(jobs, WithLogger(logging.Discard())).RunOnce(context.Background()))
	assert.Equal(t, []string{"mark", "notices", "reminders"}, circ.calls)
	assert.Equal(t, 3, circ.days)

	n, err := jobs[2].Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
