package workerproc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mwiebe/procpool/internal/ipc"
	"github.com/mwiebe/procpool/pkg/task"
)

// Main is the worker process entry point, run when the re-exec'd binary
// sees PROCPOOL_WORKER=1 in its environment. It runs the initializer
// hook, consumes up to TaskLimit tasks from the shared channel, then
// runs the deinitializer hook and exits.
func Main(registry *task.Registry) {
	log := slog.Default().With("component", "worker_process", "pid", os.Getpid())

	// A worker process does not act on SIGINT itself; the pool sends
	// SIGTERM through StopWorker when it wants a worker to exit.
	signal.Ignore(syscall.SIGINT)

	lockPath := os.Getenv(EnvLockFile)
	taskR := os.NewFile(workerTaskReadFD, "procpool-task-r")
	resultW := os.NewFile(workerResultWriteFD, "procpool-result-w")

	channel, err := ipc.NewWorkerChannel(lockPath, taskR, resultW)
	if err != nil {
		log.Error("failed to open channel", "error", err)
		os.Exit(1)
	}

	// A task limit of 0 or below means unlimited: the worker never
	// recycles itself on its own, only on crash or an external stop.
	taskLimit, err := strconv.Atoi(os.Getenv(EnvTaskLimit))
	if err != nil {
		taskLimit = 0
	}

	if name := os.Getenv(EnvInitializer); name != "" {
		args := decodeArgs(os.Getenv(EnvInitArgs))
		if hook, ok := registry.Initializer(name); ok {
			if err := hook(args); err != nil {
				log.Error("initializer failed", "name", name, "error", err)
				os.Exit(1)
			}
		}
	}

	for consumed := 0; taskLimit <= 0 || consumed < taskLimit; consumed++ {
		newTask, err := fetchTask(channel)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("channel closed, exiting")
				os.Exit(0)
			}
			var errno syscall.Errno
			if errors.As(err, &errno) {
				log.Error("channel error", "errno", errno)
				os.Exit(int(errno))
			}
			log.Error("fetch task failed", "error", err)
			os.Exit(1)
		}

		runTask(channel, registry, newTask, log)
	}

	runDeinitializer(registry, log)
	os.Exit(0)
}

func decodeArgs(encoded string) []byte {
	if encoded == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	return b
}

func runDeinitializer(registry *task.Registry, log *slog.Logger) {
	name := os.Getenv(EnvDeinitializer)
	if name == "" {
		return
	}
	hook, ok := registry.Deinitializer(name)
	if !ok {
		return
	}
	args := decodeArgs(os.Getenv(EnvDeinitArgs))
	if err := hook(args); err != nil {
		log.Error("deinitializer failed", "name", name, "error", err)
	}
}

func runTask(channel *ipc.Channel, registry *task.Registry, newTask ipc.NewTaskMsg, log *slog.Logger) {
	value, err := registry.Invoke(context.Background(), newTask.Payload)

	outcome := ipc.WireOutcome{Value: value}
	if err != nil {
		outcome.Failed = true
		outcome.ErrMsg = err.Error()
	}

	if sendErr := channel.SendResults(ipc.ResultsMsg{TaskID: newTask.TaskID, Outcome: outcome}); sendErr != nil {
		log.Error("failed to send results", "task_id", newTask.TaskID, "error", sendErr)
	}
}

// fetchTask blocks until this worker claims a dispatched task: an
// indefinite poll outside the lock (so an idle worker costs nothing), and
// a non-blocking re-check once the lock is held (the "did I actually win
// the race" recheck) before consuming the message.
func fetchTask(ch *ipc.Channel) (ipc.NewTaskMsg, error) {
	for {
		ready, err := ch.Poll(nil)
		if err != nil {
			return ipc.NewTaskMsg{}, err
		}
		if !ready {
			continue
		}

		msg, claimed, err := tryClaim(ch)
		if err != nil {
			return ipc.NewTaskMsg{}, err
		}
		if claimed {
			return msg, nil
		}
		// Another worker's reader won the race; poll again.
	}
}

// tryClaim attempts to win and record ownership of whatever task is
// sitting on the channel. It returns claimed=false, with no error, when a
// peer worker already drained the message before this process took the
// lock.
func tryClaim(ch *ipc.Channel) (ipc.NewTaskMsg, bool, error) {
	if err := ch.Lock(); err != nil {
		return ipc.NewTaskMsg{}, false, err
	}
	defer ch.Unlock()

	zero := time.Duration(0)
	ready, err := ch.Poll(&zero)
	if err != nil {
		return ipc.NewTaskMsg{}, false, err
	}
	if !ready {
		return ipc.NewTaskMsg{}, false, nil
	}

	msgAny, err := ch.Recv()
	if err != nil {
		return ipc.NewTaskMsg{}, false, err
	}
	newTask, ok := msgAny.(ipc.NewTaskMsg)
	if !ok {
		return ipc.NewTaskMsg{}, false, fmt.Errorf("workerproc: unexpected message %T", msgAny)
	}

	if err := ch.SendAck(ipc.AckMsg{WorkerPID: os.Getpid(), TaskID: newTask.TaskID}); err != nil {
		return ipc.NewTaskMsg{}, false, err
	}
	return newTask, true, nil
}
