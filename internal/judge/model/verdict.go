// Package model holds the judge domain types shared by storage, transport and service layers.
package model

// Verdict is the final classification of a judged submission.
type Verdict string

const (
	VerdictAccepted          Verdict = "Accepted"
	VerdictWrongAnswer       Verdict = "Wrong Answer"
	VerdictTimeLimitExceeded Verdict = "Time Limit Exceeded"
	VerdictRuntimeError      Verdict = "Runtime Error"
	VerdictCompilationError  Verdict = "Compilation Error"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAccepted, VerdictWrongAnswer, VerdictTimeLimitExceeded, VerdictRuntimeError, VerdictCompilationError:
		return true
	}
	return false
}

// Mode selects which test-case set a submission is judged against.
type Mode string

const (
	// ModeRun judges against the sample cases and stores nothing.
	ModeRun Mode = "run"
	// ModeSubmit judges against the full cases and persists the result.
	ModeSubmit Mode = "submit"
)
