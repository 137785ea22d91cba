package initproc

import (
	"strings"
	"testing"

	"codejudge/internal/judge/sandbox/spec"
)

func TestDecodeRequest(t *testing.T) {
	doc := `{"RunSpec":{"WorkDir":"/work","Cmd":["./main"]},"EnableNs":true,"HiddenPaths":["/var/lib/codejudge/jobs"]}`
	req, err := decodeRequest(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !req.EnableNs || len(req.HiddenPaths) != 1 || req.HiddenPaths[0] != "/var/lib/codejudge/jobs" {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := decodeRequest(strings.NewReader("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestValidateRequest(t *testing.T) {
	base := initRequest{RunSpec: spec.RunSpec{WorkDir: "/work", Cmd: []string{"./main"}}}
	cases := []struct {
		name    string
		mutate  func(*initRequest)
		wantErr bool
	}{
		{"valid", func(*initRequest) {}, false},
		{"hidden workspace", func(r *initRequest) { r.HiddenPaths = []string{"/tmp/codejudge"} }, false},
		{"no command", func(r *initRequest) { r.RunSpec.Cmd = nil }, true},
		{"no workdir", func(r *initRequest) { r.RunSpec.WorkDir = "" }, true},
		{"relative hidden path", func(r *initRequest) { r.HiddenPaths = []string{"jobs"} }, true},
		{"hiding root", func(r *initRequest) { r.HiddenPaths = []string{"/"} }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			if err := validateRequest(req); (err != nil) != tc.wantErr {
				t.Fatalf("validateRequest err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
