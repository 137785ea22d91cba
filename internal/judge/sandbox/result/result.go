// Package result defines raw sandbox execution results.
package result

// RunResult captures raw sandbox execution data for one process.
// TimedOut is set only when the backend killed the process at the wall limit.
// OutputTruncated means the program wrote more stdout than was captured, so
// Stdout holds only a prefix.
type RunResult struct {
	ExitCode        int
	TimedOut        bool
	TimeMs          int64
	WallTimeMs      int64
	MemoryKB        int64
	OutputKB        int64
	OutputTruncated bool
	Stdout          string
	Stderr          string
	OomKilled       bool
}

// Succeeded reports a clean exit within the wall limit.
func (r RunResult) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0
}
