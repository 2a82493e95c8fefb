package ipc

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwiebe/procpool/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannelPair(t *testing.T) (pool *Channel, worker *Channel) {
	t.Helper()
	lockPath := filepath.Join(t.TempDir(), "channel.lock")

	pool, pipes, err := NewPoolChannel(lockPath)
	require.NoError(t, err)

	worker, err = NewWorkerChannel(lockPath, pipes.WorkerTaskRead, pipes.WorkerResultWrite)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		worker.Close()
	})
	return pool, worker
}

func TestSendNewTaskRoundTrips(t *testing.T) {
	pool, worker := newChannelPair(t)

	err := pool.SendNewTask(NewTaskMsg{TaskID: 42, Payload: task.Payload{Func: "echo", Args: []byte("hi")}})
	require.NoError(t, err)

	msg, err := worker.Recv()
	require.NoError(t, err)

	newTask, ok := msg.(NewTaskMsg)
	require.True(t, ok)
	assert.EqualValues(t, 42, newTask.TaskID)
	assert.Equal(t, "echo", newTask.Payload.Func)
	assert.Equal(t, []byte("hi"), newTask.Payload.Args)
}

func TestSendAckAndResultsRoundTrip(t *testing.T) {
	pool, worker := newChannelPair(t)

	require.NoError(t, worker.SendAck(AckMsg{WorkerPID: 123, TaskID: 1}))
	msg, err := pool.Recv()
	require.NoError(t, err)
	ack, ok := msg.(AckMsg)
	require.True(t, ok)
	assert.Equal(t, 123, ack.WorkerPID)

	require.NoError(t, worker.SendResults(ResultsMsg{TaskID: 1, Outcome: WireOutcome{Value: []byte("done")}}))
	msg, err = pool.Recv()
	require.NoError(t, err)
	results, ok := msg.(ResultsMsg)
	require.True(t, ok)
	assert.Equal(t, []byte("done"), results.Outcome.Value)
}

func TestPollReportsReadiness(t *testing.T) {
	pool, worker := newChannelPair(t)

	zero := time.Duration(0)
	ready, err := worker.Poll(&zero)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, pool.SendNewTask(NewTaskMsg{TaskID: 1}))

	ready, err = worker.Poll(&zero)
	require.NoError(t, err)
	assert.True(t, ready)

	// Poll must not consume the message.
	msg, err := worker.Recv()
	require.NoError(t, err)
	assert.IsType(t, NewTaskMsg{}, msg)
}

func TestLockUnlockRoundTrips(t *testing.T) {
	pool, _ := newChannelPair(t)

	require.NoError(t, pool.Lock())
	require.NoError(t, pool.Unlock())
}

func TestCloseSendSignalsEOF(t *testing.T) {
	pool, worker := newChannelPair(t)

	require.NoError(t, pool.CloseSend())

	_, err := worker.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewWorkerChannelFailsOnMissingLockFile(t *testing.T) {
	_, err := NewWorkerChannel(filepath.Join(t.TempDir(), "missing.lock"), os.Stdin, os.Stdout)
	assert.Error(t, err)
}
