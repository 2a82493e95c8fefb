package ipc

import "github.com/mwiebe/procpool/pkg/task"

// Message kinds, forming a small tagged union. There is no "no message"
// kind: a Poll that times out simply reports false, and nothing is framed
// onto the wire for it.
const (
	kindNewTask byte = iota + 1
	kindAck
	kindResults
)

// NewTaskMsg is sent coordinator -> workers; exactly one recipient wins the
// race to read it off the shared pipe.
type NewTaskMsg struct {
	TaskID  int64
	Payload task.Payload
}

// AckMsg is sent worker -> coordinator, asserting ownership of TaskID.
type AckMsg struct {
	WorkerPID int
	TaskID    int64
}

// WireOutcome carries a task's UserValue/UserError result across the
// channel. Timeout/Cancelled/ProcessExpired outcomes are synthesized by
// the coordinator itself and never travel over the wire.
type WireOutcome struct {
	Failed bool
	Value  []byte
	ErrMsg string
}

// ResultsMsg is sent worker -> coordinator with the outcome of a finished
// task.
type ResultsMsg struct {
	TaskID  int64
	Outcome WireOutcome
}

// envelope is the on-wire frame: exactly one of the three payload fields is
// populated per Kind.
type envelope struct {
	Kind    byte
	NewTask NewTaskMsg
	Ack     AckMsg
	Results ResultsMsg
}
