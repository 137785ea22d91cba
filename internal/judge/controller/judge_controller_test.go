package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/workspace"
	appErr "codejudge/pkg/errors"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	submits  []service.SubmitRequest
	runs     []service.RunRequest
	historyQ [2]string
	err      error
}

func (f *fakeService) Run(_ context.Context, req service.RunRequest) (service.RunResult, error) {
	f.runs = append(f.runs, req)
	if f.err != nil {
		return service.RunResult{}, f.err
	}
	return service.RunResult{Output: "hi"}, nil
}

func (f *fakeService) Submit(_ context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
	f.submits = append(f.submits, req)
	if f.err != nil {
		return service.SubmitResult{}, f.err
	}
	one := 1
	return service.SubmitResult{
		JudgeOutcome: service.JudgeOutcome{Verdict: model.VerdictWrongAnswer, FailedTestCaseIndex: &one},
		SubmissionID: "s1",
		Mode:         model.ModeSubmit,
		Feedback:     "check edge cases",
	}, nil
}

func (f *fakeService) History(_ context.Context, userID, problemID string) ([]model.Submission, error) {
	f.historyQ = [2]string{userID, problemID}
	return []model.Submission{{ID: "s2", UserID: userID}, {ID: "s1", UserID: userID}}, nil
}

func (f *fakeService) Submission(_ context.Context, userID, id string) (model.Submission, error) {
	if id != "s1" {
		return model.Submission{}, appErr.New(appErr.SubmissionNotFound)
	}
	return model.Submission{ID: id, UserID: userID}, nil
}

func (f *fakeService) Stats() service.Stats {
	return service.Stats{Stats: workspace.Stats{ActiveJobs: 3, TotalBytes: 1024}, RunningTasks: 1}
}

type fakeQueue struct {
	tasks []model.JudgeTask
}

func (q *fakeQueue) Enqueue(_ context.Context, task model.JudgeTask) (string, error) {
	q.tasks = append(q.tasks, task)
	return "task-1", nil
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	TraceID string           `json:"trace_id"`
}

func newTestRouter(svc JudgeService, queue TaskQueue, checks map[string]HealthCheck, auth *middleware.Authenticator) *gin.Engine {
	return NewRouter(NewJudgeController(svc, queue, checks), RouterConfig{
		Trace: middleware.TraceContextConfig{AllowUserIDHeader: true},
		Auth:  auth,
	})
}

func call(t *testing.T, r http.Handler, method, path, body string, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func TestRunEndpoint(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil, nil, nil)

	status, env := call(t, r, http.MethodPost, "/api/v1/judge/run", `{"code":"print(input())","language":"python","input":"hi"}`, nil)
	if status != http.StatusOK || env.Code != appErr.Success || env.TraceID == "" {
		t.Fatalf("unexpected response %d %+v", status, env)
	}
	var result service.RunResult
	if err := json.Unmarshal(env.Data, &result); err != nil || result.Output != "hi" {
		t.Fatalf("unexpected data %s", env.Data)
	}
	if svc.runs[0].Input != "hi" || svc.runs[0].Language != "python" {
		t.Fatalf("request not bound: %+v", svc.runs[0])
	}

	if status, env := call(t, r, http.MethodPost, "/api/v1/judge/run", `{"code":`, nil); status != http.StatusBadRequest || env.Code != appErr.InvalidParams {
		t.Fatalf("expected bad request, got %d %+v", status, env)
	}

	svc.err = appErr.New(appErr.CustomInputTooLarge)
	if status, env := call(t, r, http.MethodPost, "/api/v1/judge/run", `{"code":"x","language":"python"}`, nil); env.Code != appErr.CustomInputTooLarge || status != appErr.CustomInputTooLarge.HTTPStatus() {
		t.Fatalf("expected input too large, got %d %+v", status, env)
	}
}

func TestSubmitEndpoint(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil, nil, nil)
	body := `{"problemId":"sum","language":"python","code":"x","mode":"submit","userId":"spoofed"}`

	if status, env := call(t, r, http.MethodPost, "/api/v1/judge/submissions", body, nil); status != http.StatusUnauthorized || env.Code != appErr.Unauthorized {
		t.Fatalf("anonymous submit must be rejected, got %d %+v", status, env)
	}
	if len(svc.submits) != 0 {
		t.Fatal("service must not be called")
	}

	status, env := call(t, r, http.MethodPost, "/api/v1/judge/submissions", body, map[string]string{"X-User-Id": "u1"})
	if status != http.StatusOK {
		t.Fatalf("submit failed: %d %+v", status, env)
	}
	if svc.submits[0].UserID != "u1" || svc.submits[0].ProblemID != "sum" {
		t.Fatalf("unexpected request %+v", svc.submits[0])
	}
	var result map[string]interface{}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatal(err)
	}
	if result["verdict"] != "Wrong Answer" || result["failedTestCaseIndex"] != float64(1) || result["submissionId"] != "s1" || result["feedback"] != "check edge cases" {
		t.Fatalf("unexpected result %v", result)
	}

	// Run mode needs no caller.
	if status, _ := call(t, r, http.MethodPost, "/api/v1/judge/submissions", `{"problemId":"sum","language":"python","code":"x","mode":"run"}`, nil); status != http.StatusOK {
		t.Fatalf("anonymous run mode rejected: %d", status)
	}
	if svc.submits[1].UserID != "" {
		t.Fatal("anonymous run mode must carry no user")
	}
}

func TestSubmitWithBearerToken(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{JWTSecret: "k"})
	svc := &fakeService{}
	r := newTestRouter(svc, nil, nil, auth)
	token, err := auth.IssueToken("u9", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	body := `{"problemId":"sum","language":"python","code":"x"}`
	if status, env := call(t, r, http.MethodPost, "/api/v1/judge/submissions", body, map[string]string{"Authorization": "Bearer " + token}); status != http.StatusOK {
		t.Fatalf("token submit failed: %d %+v", status, env)
	}
	if svc.submits[0].UserID != "u9" {
		t.Fatalf("expected user from token, got %q", svc.submits[0].UserID)
	}
	if status, env := call(t, r, http.MethodPost, "/api/v1/judge/submissions", body, map[string]string{"Authorization": "Bearer bogus"}); status != http.StatusUnauthorized || env.Code != appErr.TokenInvalid {
		t.Fatalf("expected invalid token, got %d %+v", status, env)
	}
}

func TestEnqueueEndpoint(t *testing.T) {
	body := `{"problemId":"sum","language":"cpp","code":"int main(){}"}`
	user := map[string]string{"X-User-Id": "u1"}

	r := newTestRouter(&fakeService{}, nil, nil, nil)
	if status, env := call(t, r, http.MethodPost, "/api/v1/judge/submissions/async", body, user); status != http.StatusServiceUnavailable || env.Code != appErr.ServiceUnavailable {
		t.Fatalf("expected disabled queue, got %d %+v", status, env)
	}

	queue := &fakeQueue{}
	r = newTestRouter(&fakeService{}, queue, nil, nil)
	status, env := call(t, r, http.MethodPost, "/api/v1/judge/submissions/async", body, user)
	if status != http.StatusAccepted || string(env.Data) != `{"taskId":"task-1"}` {
		t.Fatalf("unexpected enqueue response %d %+v", status, env)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].UserID != "u1" || queue.tasks[0].Language != "cpp" {
		t.Fatalf("unexpected tasks %+v", queue.tasks)
	}
	if status, _ := call(t, r, http.MethodPost, "/api/v1/judge/submissions/async", body, nil); status != http.StatusUnauthorized {
		t.Fatalf("anonymous enqueue must be rejected, got %d", status)
	}
}

func TestHistoryAndSubmissionEndpoints(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil, nil, nil)
	user := map[string]string{"X-User-Id": "u1"}

	status, env := call(t, r, http.MethodGet, "/api/v1/judge/submissions?problemId=sum", "", user)
	if status != http.StatusOK || svc.historyQ != [2]string{"u1", "sum"} {
		t.Fatalf("history: %d %v", status, svc.historyQ)
	}
	var subs []model.Submission
	if err := json.Unmarshal(env.Data, &subs); err != nil || len(subs) != 2 || subs[0].ID != "s2" {
		t.Fatalf("unexpected history %s", env.Data)
	}
	if status, _ := call(t, r, http.MethodGet, "/api/v1/judge/submissions", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("anonymous history must be rejected, got %d", status)
	}

	if status, _ := call(t, r, http.MethodGet, "/api/v1/judge/submissions/s1", "", user); status != http.StatusOK {
		t.Fatalf("get submission: %d", status)
	}
	if status, env := call(t, r, http.MethodGet, "/api/v1/judge/submissions/nope", "", user); env.Code != appErr.SubmissionNotFound || status != http.StatusNotFound {
		t.Fatalf("expected not found, got %d %+v", status, env)
	}
}

func TestStatsAndHealth(t *testing.T) {
	checks := map[string]HealthCheck{"database": func(context.Context) error { return nil }}
	r := newTestRouter(&fakeService{}, nil, checks, nil)

	status, env := call(t, r, http.MethodGet, "/api/v1/judge/workspace/stats", "", nil)
	if status != http.StatusOK || string(env.Data) != `{"activeJobs":3,"totalBytes":1024,"runningTasks":1}` {
		t.Fatalf("unexpected stats %d %s", status, env.Data)
	}

	for _, path := range []string{"/healthz", "/api/v1/judge/healthz"} {
		if status, env := call(t, r, http.MethodGet, path, "", nil); status != http.StatusOK || string(env.Data) != `{"database":"ok"}` {
			t.Fatalf("%s: %d %s", path, status, env.Data)
		}
	}

	checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	status, env = call(t, r, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusServiceUnavailable || string(env.Data) != `{"database":"ok","redis":"connection refused"}` {
		t.Fatalf("unexpected unhealthy response %d %s", status, env.Data)
	}
}
