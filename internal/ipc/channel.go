// Package ipc implements the duplex, lockable channel between the
// coordinator and its worker processes: two OS pipes plus a flock-backed
// cross-process mutex. Multiple worker
// processes inherit the read end of the same "tasks" pipe, so the "one
// recipient wins" dispatch semantics fall directly out of the kernel's
// normal competing-readers behavior on a pipe rather than anything this
// package has to simulate.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// maxFrameSize bounds a single message so a corrupt length prefix can
// never cause an unbounded allocation.
const maxFrameSize = 64 << 20

// Channel is one endpoint of the duplex transport. A pool-side Channel
// sends NewTask and receives Acknowledgement/Results; a worker-side
// Channel does the reverse. Both share the same lock file path.
type Channel struct {
	send     *os.File
	recv     *os.File
	lock     *os.File
	lockPath string
}

// Pipes bundles the two raw pipe ends a worker process must inherit via
// exec.Cmd.ExtraFiles, kept separate from the pool's own Channel so the
// pool never accidentally reads its own dispatch pipe.
type Pipes struct {
	WorkerTaskRead    *os.File
	WorkerResultWrite *os.File
}

// NewPoolChannel creates the two pipes and the lock file backing a fresh
// pool<->workers channel. It returns the pool's own Channel plus the file
// descriptors every worker process must inherit.
func NewPoolChannel(lockPath string) (*Channel, *Pipes, error) {
	taskR, taskW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: create task pipe: %w", err)
	}
	resultR, resultW, err := os.Pipe()
	if err != nil {
		taskR.Close()
		taskW.Close()
		return nil, nil, fmt.Errorf("ipc: create result pipe: %w", err)
	}
	lockFile, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		taskR.Close()
		taskW.Close()
		resultR.Close()
		resultW.Close()
		return nil, nil, fmt.Errorf("ipc: open lock file: %w", err)
	}

	pool := &Channel{send: taskW, recv: resultR, lock: lockFile, lockPath: lockPath}
	pipes := &Pipes{WorkerTaskRead: taskR, WorkerResultWrite: resultW}
	return pool, pipes, nil
}

// NewWorkerChannel builds the worker-side Channel from the inherited file
// descriptors and the shared lock path. taskR and resultW are typically
// os.NewFile values built from fixed fd numbers in a re-exec'd worker
// process.
func NewWorkerChannel(lockPath string, taskR, resultW *os.File) (*Channel, error) {
	lockFile, err := os.OpenFile(lockPath, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open lock file: %w", err)
	}
	return &Channel{send: resultW, recv: taskR, lock: lockFile, lockPath: lockPath}, nil
}

// Lock acquires the cross-process mutex. It serializes the worker-side
// claim protocol (poll/recv/send-ack) and the pool-side stop-worker path
// against in-flight sends.
func (c *Channel) Lock() error {
	return c.flock(unix.LOCK_EX)
}

// Unlock releases the cross-process mutex.
func (c *Channel) Unlock() error {
	return c.flock(unix.LOCK_UN)
}

func (c *Channel) flock(how int) error {
	raw, err := c.lock.SyscallConn()
	if err != nil {
		return err
	}
	var flockErr error
	err = raw.Control(func(fd uintptr) {
		flockErr = unix.Flock(int(fd), how)
	})
	if err != nil {
		return err
	}
	return flockErr
}

// Poll returns true if a message is readable within timeout. timeout nil
// means block indefinitely; 0 means non-blocking. It never consumes the
// pending message, so a later Recv still sees it.
func (c *Channel) Poll(timeout *time.Duration) (bool, error) {
	raw, err := c.recv.SyscallConn()
	if err != nil {
		return false, err
	}

	ms := -1
	if timeout != nil {
		ms = int(timeout.Milliseconds())
	}

	var n int
	var pollErr error
	err = raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, pollErr = unix.Poll(fds, ms)
	})
	if err != nil {
		return false, err
	}
	if pollErr != nil {
		if pollErr == unix.EINTR {
			return false, nil
		}
		return false, pollErr
	}
	return n > 0, nil
}

// SendNewTask dispatches a task; whichever worker process wins the read
// race on the shared pipe claims it.
func (c *Channel) SendNewTask(msg NewTaskMsg) error {
	return c.sendEnvelope(envelope{Kind: kindNewTask, NewTask: msg})
}

// SendAck asserts this worker's ownership of a claimed task.
func (c *Channel) SendAck(msg AckMsg) error {
	return c.sendEnvelope(envelope{Kind: kindAck, Ack: msg})
}

// SendResults reports the outcome of a finished task.
func (c *Channel) SendResults(msg ResultsMsg) error {
	return c.sendEnvelope(envelope{Kind: kindResults, Results: msg})
}

func (c *Channel) sendEnvelope(e envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return fmt.Errorf("ipc: encode message: %w", err)
	}
	frame := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(frame, uint32(buf.Len()))
	copy(frame[4:], buf.Bytes())
	if _, err := c.send.Write(frame); err != nil {
		return fmt.Errorf("ipc: write message: %w", err)
	}
	return nil
}

// Recv blocks until a full message is available and decodes it into one of
// NewTaskMsg, AckMsg, or ResultsMsg (returned as `any`). io.EOF is
// returned when the sender has closed its end.
func (c *Channel) Recv() (any, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.recv, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("ipc: frame too large: %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.recv, payload); err != nil {
		return nil, err
	}

	var e envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return nil, fmt.Errorf("ipc: decode message: %w", err)
	}

	switch e.Kind {
	case kindNewTask:
		return e.NewTask, nil
	case kindAck:
		return e.Ack, nil
	case kindResults:
		return e.Results, nil
	default:
		return nil, fmt.Errorf("ipc: unknown message kind %d", e.Kind)
	}
}

// CloseSend closes this endpoint's send file, which signals end-of-stream
// to whichever process reads the corresponding pipe.
func (c *Channel) CloseSend() error {
	return c.send.Close()
}

// Close releases every file this Channel holds.
func (c *Channel) Close() error {
	err1 := c.send.Close()
	err2 := c.recv.Close()
	err3 := c.lock.Close()
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return err3
}

// LockPath returns the path to the shared lock file, for passing to a
// spawned worker process through its environment.
func (c *Channel) LockPath() string { return c.lockPath }
