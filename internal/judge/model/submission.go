package model

import "time"

// Submission is a persisted judge result.
type Submission struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	ProblemID           string    `json:"problemId"`
	Language            string    `json:"language"`
	Code                string    `json:"code"`
	Verdict             Verdict   `json:"verdict"`
	ResultOutput        string    `json:"resultOutput"`
	FailedTestCaseIndex *int      `json:"failedTestCaseIndex,omitempty"`
	Feedback            string    `json:"feedback,omitempty"`
	SubmittedAt         time.Time `json:"submittedAt"`
}

// JudgeEvent is published after a submission is stored.
type JudgeEvent struct {
	SubmissionID        string  `json:"submission_id"`
	UserID              string  `json:"user_id"`
	ProblemID           string  `json:"problem_id"`
	Language            string  `json:"language"`
	Verdict             Verdict `json:"verdict"`
	FailedTestCaseIndex *int    `json:"failed_test_case_index,omitempty"`
	SubmittedAt         int64   `json:"submitted_at"`
}

// JudgeTask is the queue payload for asynchronous submissions.
type JudgeTask struct {
	UserID    string `json:"user_id"`
	ProblemID string `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// NewJudgeEvent builds the event for a stored submission.
func NewJudgeEvent(s Submission) JudgeEvent {
	return JudgeEvent{
		SubmissionID:        s.ID,
		UserID:              s.UserID,
		ProblemID:           s.ProblemID,
		Language:            s.Language,
		Verdict:             s.Verdict,
		FailedTestCaseIndex: s.FailedTestCaseIndex,
		SubmittedAt:         s.SubmittedAt.Unix(),
	}
}
