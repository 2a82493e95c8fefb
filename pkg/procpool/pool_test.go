// ============================================================================
// Process Pool - End-to-End Tests
// ============================================================================
//
// Package: pkg/procpool
// File: pool_test.go
// Purpose: exercise a real pool of worker processes against the public
//          facade: happy path, user error, timeout, cancel before/after
//          start, and worker crash.
//
// TestMain re-execs this very test binary as a worker process when
// PROCPOOL_WORKER=1 is set, the same self-exec trick pkg/procpool's own
// production code relies on — Pool.New resolves os.Executable() and
// passes it straight back to exec.Command, so under `go test` that
// executable IS this test binary.
// ============================================================================

package procpool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/mwiebe/procpool/internal/workerproc"
	"github.com/mwiebe/procpool/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if os.Getenv(workerproc.EnvWorkerMode) == "1" {
		registerTestHandlers(task.DefaultRegistry())
		workerproc.Main(task.DefaultRegistry())
		return
	}
	os.Exit(m.Run())
}

var errBoom = errors.New("boom")

func registerTestHandlers(r *task.Registry) {
	r.Register("echo", func(ctx context.Context, args []byte) ([]byte, error) {
		return args, nil
	})
	r.Register("fail", func(ctx context.Context, args []byte) ([]byte, error) {
		return nil, errBoom
	})
	r.Register("sleep", func(ctx context.Context, args []byte) ([]byte, error) {
		ms, _ := strconv.Atoi(string(args))
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return []byte("awake"), nil
	})
	r.Register("exit", func(ctx context.Context, args []byte) ([]byte, error) {
		os.Exit(1)
		return nil, nil
	})
	r.Register("pid", func(ctx context.Context, args []byte) ([]byte, error) {
		return []byte(strconv.Itoa(os.Getpid())), nil
	})
}

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	pool, err := New(Config{
		Workers:      workers,
		LockFilePath: t.TempDir() + "/channel.lock",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Close(ctx)
	})
	return pool
}

func TestSubmitHappyPath(t *testing.T) {
	pool := newTestPool(t, 2)

	tk, err := pool.Submit("echo", []byte("hello"), 0)
	require.NoError(t, err)

	value, err := tk.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), value)
}

func TestSubmitUserError(t *testing.T) {
	pool := newTestPool(t, 2)

	tk, err := pool.Submit("fail", nil, 0)
	require.NoError(t, err)

	_, err = tk.Get()
	assert.ErrorContains(t, err, "boom")
}

func TestSubmitTimeout(t *testing.T) {
	pool := newTestPool(t, 1)

	tk, err := pool.Submit("sleep", []byte("500"), 50*time.Millisecond)
	require.NoError(t, err)

	_, err = tk.Get()
	assert.ErrorIs(t, err, task.TimeoutError{})
}

func TestCancelBeforeStartResolvesAsCancelled(t *testing.T) {
	pool := newTestPool(t, 1)

	tk, err := pool.Submit("sleep", []byte("1000"), 0)
	require.NoError(t, err)
	tk.Cancel()

	// Whether the scheduler loop wins the race and drops the task before
	// dispatch, or the status loop's cancellation sweep catches it after
	// a start, Get must return and report TaskCancelled — never block and
	// never complete with a UserValue outcome.
	_, err = tk.Get()
	assert.IsType(t, task.TaskCancelled{}, err)
}

func TestCancelAfterStartResolvesAsCancelled(t *testing.T) {
	pool := newTestPool(t, 1)

	tk, err := pool.Submit("sleep", []byte("500"), 0)
	require.NoError(t, err)

	require.Eventually(t, tk.Started, time.Second, 10*time.Millisecond)
	tk.Cancel()

	outcome, err := tk.Wait(context.Background())
	require.NoError(t, err)
	assert.IsType(t, task.TaskCancelled{}, outcome)
}

func TestWorkerCrashMarksTaskProcessExpired(t *testing.T) {
	pool := newTestPool(t, 1)

	tk, err := pool.Submit("exit", nil, 0)
	require.NoError(t, err)

	_, err = tk.Get()
	var expired task.ProcessExpired
	require.ErrorAs(t, err, &expired)
	assert.NotZero(t, expired.Code)
}

func TestConcurrentSubmitsAllResolve(t *testing.T) {
	pool := newTestPool(t, 4)

	const n = 20
	tasks := make([]*task.Task, n)
	for i := 0; i < n; i++ {
		tk, err := pool.Submit("echo", []byte(fmt.Sprintf("task-%d", i)), time.Second)
		require.NoError(t, err)
		tasks[i] = tk
	}

	for i, tk := range tasks {
		value, err := tk.Get()
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("task-%d", i)), value)
	}
}

func TestWorkerRecyclesAfterTaskLimit(t *testing.T) {
	pool, err := New(Config{
		Workers:      1,
		TaskLimit:    3,
		LockFilePath: t.TempDir() + "/channel.lock",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Close(ctx)
	})

	const n = 7
	pids := make([]string, n)
	for i := 0; i < n; i++ {
		tk, err := pool.Submit("pid", nil, 2*time.Second)
		require.NoError(t, err)
		value, err := tk.Get()
		require.NoError(t, err)
		pids[i] = string(value)
	}

	// With a single worker and TaskLimit=3, the worker recycles itself
	// after every third task, so a new pid must appear at least once
	// across 7 sequential tasks.
	distinct := make(map[string]bool)
	for _, pid := range pids {
		distinct[pid] = true
	}
	assert.Greater(t, len(distinct), 1, "expected the worker to recycle at least once, got pids %v", pids)

	// The first three tasks run on the same pre-recycle worker.
	assert.Equal(t, pids[0], pids[1])
	assert.Equal(t, pids[1], pids[2])
}
