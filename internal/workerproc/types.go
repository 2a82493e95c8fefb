package workerproc

// Params carries worker lifecycle configuration: initializer/deinitializer
// hooks (by registry name, since a Go payload cannot ship a closure
// across a process boundary) and the per-worker task limit after which a
// worker recycles itself.
type Params struct {
	Initializer   string
	InitArgs      []byte
	Deinitializer string
	DeinitArgs    []byte
	TaskLimit     int
}

// Expiration describes a worker process the Manager found dead with a
// non-zero exit code on a status tick — an abnormal termination.
type Expiration struct {
	PID      int
	ExitCode int
}
