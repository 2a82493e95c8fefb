// Command procpool is the single binary this module builds: re-exec'd
// with PROCPOOL_WORKER=1 it becomes a worker process (internal/workerproc
// Main), and normally it is the cobra-driven CLI (internal/cli).
package main

import (
	"fmt"
	"os"

	"github.com/mwiebe/procpool/internal/cli"
	"github.com/mwiebe/procpool/internal/workerproc"
	"github.com/mwiebe/procpool/pkg/task"
)

func main() {
	if os.Getenv(workerproc.EnvWorkerMode) == "1" {
		workerproc.Main(task.DefaultRegistry())
		return
	}

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
