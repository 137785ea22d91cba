// Package repository persists judged submissions and announces them.
package repository

import (
	"context"
	"database/sql"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	historyLimit = 200

	sqliteSchema = `CREATE TABLE IF NOT EXISTS submissions (
	id                     TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL,
	problem_id             TEXT NOT NULL,
	language               TEXT NOT NULL,
	code                   TEXT NOT NULL,
	verdict                TEXT NOT NULL,
	result_output          TEXT NOT NULL,
	failed_test_case_index INTEGER,
	feedback               TEXT NOT NULL,
	submitted_at           INTEGER NOT NULL
)`
	sqliteIndex = `CREATE INDEX IF NOT EXISTS idx_submissions_user_problem ON submissions (user_id, problem_id, submitted_at)`

	mysqlSchema = `CREATE TABLE IF NOT EXISTS submissions (
	id                     VARCHAR(64) NOT NULL PRIMARY KEY,
	user_id                VARCHAR(64) NOT NULL,
	problem_id             VARCHAR(64) NOT NULL,
	language               VARCHAR(32) NOT NULL,
	code                   MEDIUMTEXT NOT NULL,
	verdict                VARCHAR(32) NOT NULL,
	result_output          TEXT NOT NULL,
	failed_test_case_index INT NULL,
	feedback               TEXT NOT NULL,
	submitted_at           BIGINT NOT NULL,
	INDEX idx_submissions_user_problem (user_id, problem_id, submitted_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	submissionColumns = `id, user_id, problem_id, language, code, verdict, result_output,
	failed_test_case_index, feedback, submitted_at`
)

// SubmissionRepository stores submissions in a SQL database.
type SubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a new repository.
func NewSubmissionRepository(database db.Database) *SubmissionRepository {
	return &SubmissionRepository{db: database}
}

// EnsureSchema creates the submissions table when it is missing.
func (r *SubmissionRepository) EnsureSchema(ctx context.Context) error {
	var err error
	switch r.db.Driver() {
	case db.DriverMySQL:
		_, err = r.db.Exec(ctx, mysqlSchema)
	default:
		if _, err = r.db.Exec(ctx, sqliteSchema); err == nil {
			_, err = r.db.Exec(ctx, sqliteIndex)
		}
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "create submissions table failed")
	}
	return nil
}

// Create inserts a submission.
func (r *SubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	var failedIndex sql.NullInt64
	if sub.FailedTestCaseIndex != nil {
		failedIndex = sql.NullInt64{Int64: int64(*sub.FailedTestCaseIndex), Valid: true}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO submissions (`+submissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.ProblemID, sub.Language, sub.Code, string(sub.Verdict), sub.ResultOutput,
		failedIndex, sub.Feedback, sub.SubmittedAt.UnixMilli(),
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.Wrapf(err, appErr.RecordAlreadyExists, "submission %s already exists", sub.ID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission failed")
	}
	return nil
}

// Get returns one submission by id.
func (r *SubmissionRepository) Get(ctx context.Context, id string) (model.Submission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "query submission failed")
	}
	return sub, nil
}

// ListByUser returns the newest submissions of a user. An empty problemID lists all problems.
func (r *SubmissionRepository) ListByUser(ctx context.Context, userID, problemID string) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE user_id = ?`
	args := []interface{}{userID}
	if problemID != "" {
		query += ` AND problem_id = ?`
		args = append(args, problemID)
	}
	query += ` ORDER BY submitted_at DESC, id DESC LIMIT ?`
	args = append(args, historyLimit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	defer rows.Close()

	subs := make([]model.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission failed")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions failed")
	}
	return subs, nil
}

func scanSubmission(row db.Row) (model.Submission, error) {
	var (
		sub         model.Submission
		verdict     string
		failedIndex sql.NullInt64
		submittedAt int64
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.ProblemID, &sub.Language, &sub.Code, &verdict,
		&sub.ResultOutput, &failedIndex, &sub.Feedback, &submittedAt)
	if err != nil {
		return model.Submission{}, err
	}
	sub.Verdict = model.Verdict(verdict)
	if failedIndex.Valid {
		idx := int(failedIndex.Int64)
		sub.FailedTestCaseIndex = &idx
	}
	sub.SubmittedAt = time.UnixMilli(submittedAt).UTC()
	return sub, nil
}
