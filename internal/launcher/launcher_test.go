package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/scrape"
)

// fakeRunner records assignments and fails each worker a scripted number
// of times before succeeding.
type fakeRunner struct {
	mu       sync.Mutex
	failures map[int]int
	runs     map[int]int
	seen     []scrape.WorkerAssignment
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		failures: make(map[int]int),
		runs:     make(map[int]int),
	}
}

func (r *fakeRunner) Run(_ context.Context, assignment scrape.WorkerAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[assignment.WorkerID]++
	r.seen = append(r.seen, assignment)
	if r.failures[assignment.WorkerID] > 0 {
		r.failures[assignment.WorkerID]--
		return errors.New("worker crashed")
	}
	return nil
}

func mustRange(t *testing.T, start, end string) civil.DateRange {
	t.Helper()
	s, err := civil.ParseDate(start)
	require.NoError(t, err)
	e, err := civil.ParseDate(end)
	require.NoError(t, err)
	r, err := civil.NewRange(s, e)
	require.NoError(t, err)
	return r
}

func testLauncher(runner Runner, workers, restarts int) *Launcher {
	return New(Config{
		Workers:           workers,
		MaxWorkerRestarts: restarts,
		BaseDebugPort:     9222,
		ProfileRoot:       "/tmp/profiles",
		DataDir:           "/tmp/data",
	}, runner, zap.NewNop())
}

func TestAssignmentsPartitionRange(t *testing.T) {
	t.Parallel()

	l := testLauncher(newFakeRunner(), 3, 0)
	r := mustRange(t, "2015-01-01", "2015-01-09")

	assignments := l.Assignments(r)
	require.Len(t, assignments, 3)

	// Contiguous slices covering the whole range, one port and profile
	// per worker.
	require.Equal(t, "2015-01-01", assignments[0].Range.Start.String())
	require.Equal(t, "2015-01-09", assignments[2].Range.End.String())
	for i, a := range assignments {
		require.Equal(t, i, a.WorkerID)
		require.Equal(t, 9222+i, a.DebugPort)
		require.Equal(t, fmt.Sprintf("/tmp/profiles/worker-%d", i), a.ProfileDir)
		require.Equal(t, "/tmp/data", a.DataDir)
		if i > 0 {
			require.Equal(t,
				assignments[i-1].Range.End.AddDays(1),
				a.Range.Start,
			)
		}
	}
}

func TestAssignmentsMoreWorkersThanDays(t *testing.T) {
	t.Parallel()

	l := testLauncher(newFakeRunner(), 5, 0)
	assignments := l.Assignments(mustRange(t, "2015-01-01", "2015-01-02"))

	// Empty slices are dropped; ids stay dense.
	require.Len(t, assignments, 2)
	require.Equal(t, 0, assignments[0].WorkerID)
	require.Equal(t, 1, assignments[1].WorkerID)
}

func TestLaunchRunsAllWorkers(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	l := testLauncher(runner, 3, 0)

	require.NoError(t, l.Launch(context.Background(), mustRange(t, "2015-01-01", "2015-01-09")))
	require.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, runner.runs)
}

func TestLaunchRestartsCrashedWorker(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.failures[1] = 2
	l := testLauncher(runner, 3, 2)

	require.NoError(t, l.Launch(context.Background(), mustRange(t, "2015-01-01", "2015-01-09")))
	require.Equal(t, 1, runner.runs[0])
	require.Equal(t, 3, runner.runs[1])
	require.Equal(t, 1, runner.runs[2])
}

func TestLaunchAggregatesExhaustedWorkers(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.failures[0] = 10
	runner.failures[2] = 10
	l := testLauncher(runner, 3, 1)

	err := l.Launch(context.Background(), mustRange(t, "2015-01-01", "2015-01-09"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "worker 0")
	require.Contains(t, err.Error(), "worker 2")
	// The healthy worker still ran to completion.
	require.Equal(t, 1, runner.runs[1])
}

func TestLaunchStaggersStarts(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	runner := runnerFunc(func(context.Context, scrape.WorkerAssignment) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil
	})
	l := New(Config{
		Workers:       3,
		Stagger:       50 * time.Millisecond,
		BaseDebugPort: 9222,
	}, runner, zap.NewNop())

	begin := time.Now()
	require.NoError(t, l.Launch(context.Background(), mustRange(t, "2015-01-01", "2015-01-09")))
	require.Len(t, starts, 3)

	var latest time.Time
	for _, s := range starts {
		if s.After(latest) {
			latest = s
		}
	}
	require.GreaterOrEqual(t, latest.Sub(begin), 100*time.Millisecond)
}

func TestLaunchCancellation(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	l := New(Config{
		Workers:       2,
		Stagger:       time.Hour,
		BaseDebugPort: 9222,
	}, runner, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Launch(ctx, mustRange(t, "2015-01-01", "2015-01-09"))
	require.ErrorIs(t, err, context.Canceled)
}

type runnerFunc func(context.Context, scrape.WorkerAssignment) error

func (f runnerFunc) Run(ctx context.Context, a scrape.WorkerAssignment) error { return f(ctx, a) }

func TestWorkerArgs(t *testing.T) {
	t.Parallel()

	r := mustRange(t, "2015-01-01", "2015-01-05")
	args := WorkerArgs(scrape.WorkerAssignment{
		WorkerID:   2,
		Range:      r,
		DebugPort:  9224,
		ProfileDir: "/tmp/profiles/worker-2",
	}, "config.yaml")

	require.Equal(t, []string{
		"worker",
		"--worker-id", "2",
		"--start-date", "2015-01-01",
		"--end-date", "2015-01-05",
		"--debug-port", "9224",
		"--profile-dir", "/tmp/profiles/worker-2",
		"--config", "config.yaml",
	}, args)
}
