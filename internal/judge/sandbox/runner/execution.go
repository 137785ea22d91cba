// Package runner executes one program against one input inside the sandbox.
package runner

// Kind classifies the outcome of one execution.
type Kind string

const (
	KindOK                Kind = "OK"
	KindCompileError      Kind = "CompileError"
	KindRuntimeError      Kind = "RuntimeError"
	KindTimeLimitExceeded Kind = "TimeLimitExceeded"
)

// Execution is the tagged outcome of running code against one input.
// Stdout is set for KindOK, Detail carries compiler or runtime stderr.
type Execution struct {
	Kind     Kind
	Stdout   string
	Detail   string
	ExitCode int
	TimeMs   int64
	MemoryKB int64
}

// Failed reports whether the execution ended in a classified failure.
func (e Execution) Failed() bool {
	return e.Kind != KindOK
}
