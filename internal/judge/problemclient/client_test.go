package problemclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

const sumManifest = `{"id":"sum","title":"A+B","sampleTestCases":[{"input":"1 2","output":"3"}],` +
	`"fullTestCases":[{"input":"1 2","output":"3"},{"input":"5 5","output":"10"}]}`

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    []string
	err     error
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, bucket+"/"+key)
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStorage) StatObject(_ context.Context, _, key string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

type countingSource struct {
	Source
	loads int
}

func (c *countingSource) Load(ctx context.Context, id string) (model.Problem, error) {
	c.loads++
	return c.Source.Load(ctx, id)
}

func compress(t *testing.T, data string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll([]byte(data), nil)
}

func TestObjectSource(t *testing.T) {
	ctx := context.Background()
	store := &memStorage{objects: map[string][]byte{
		"problems/sum/testcases.json":     []byte(sumManifest),
		"problems/zip/testcases.json.zst": compress(t, `{"sampleTestCases":[{"input":"","output":"ok"}]}`),
		"problems/bad/testcases.json":     []byte(`{not json`),
		"problems/other/testcases.json":   []byte(`{"id":"sum","fullTestCases":[{"input":"","output":""}]}`),
		"problems/blank/testcases.json":   []byte(`{"id":"blank"}`),
	}}
	src := NewObjectSource(store, "judge", "")

	p, err := src.Load(ctx, "sum")
	if err != nil {
		t.Fatalf("load sum: %v", err)
	}
	if p.Title != "A+B" || len(p.SampleTestCases) != 1 || len(p.FullTestCases) != 2 || p.FullTestCases[1].Output != "10" {
		t.Fatalf("unexpected problem %+v", p)
	}
	if store.gets[0] != "judge/problems/sum/testcases.json.zst" || store.gets[1] != "judge/problems/sum/testcases.json" {
		t.Fatalf("compressed manifest must be tried first: %v", store.gets)
	}

	p, err = src.Load(ctx, "zip")
	if err != nil || p.ID != "zip" || p.SampleTestCases[0].Output != "ok" {
		t.Fatalf("compressed manifest: %+v %v", p, err)
	}

	tests := []struct {
		id   string
		code appErr.ErrorCode
	}{
		{"missing", appErr.NotFound},
		{"bad", appErr.TestCaseInvalid},
		{"other", appErr.TestCaseInvalid},
		{"blank", appErr.TestCaseInvalid},
	}
	for _, tt := range tests {
		if _, err := src.Load(ctx, tt.id); appErr.GetCode(err) != tt.code {
			t.Fatalf("%s: expected code %d, got %v", tt.id, tt.code, err)
		}
	}

	store.err = errors.New("connection refused")
	if _, err := src.Load(ctx, "sum"); appErr.GetCode(err) != appErr.StorageError {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	yamlFixture := "title: Echo\nsampleTestCases:\n  - input: \"hi\\n\"\n    output: \"hi\\n\"\nfullTestCases:\n  - input: x\n    output: x\n"
	if err := os.WriteFile(filepath.Join(dir, "echo.yaml"), []byte(yamlFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sum.json"), []byte(sumManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("sampleTestCases: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewDirSource(dir)
	ctx := context.Background()

	p, err := src.Load(ctx, "echo")
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if p.ID != "echo" || p.Title != "Echo" || p.SampleTestCases[0].Input != "hi\n" || len(p.FullTestCases) != 1 {
		t.Fatalf("unexpected yaml problem %+v", p)
	}
	if p, err := src.Load(ctx, "sum"); err != nil || len(p.FullTestCases) != 2 {
		t.Fatalf("load json: %+v %v", p, err)
	}
	if _, err := src.Load(ctx, "broken"); appErr.GetCode(err) != appErr.TestCaseInvalid {
		t.Fatalf("expected invalid fixture, got %v", err)
	}
	if _, err := src.Load(ctx, "nope"); appErr.GetCode(err) != appErr.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientCachesProblems(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatal(err)
	}
	store := &memStorage{objects: map[string][]byte{"problems/sum/testcases.json": []byte(sumManifest)}}
	src := &countingSource{Source: NewObjectSource(store, "judge", "problems")}
	client := NewClient(src, rc, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := client.Get(ctx, "sum")
		if err != nil || len(p.FullTestCases) != 2 {
			t.Fatalf("get: %+v %v", p, err)
		}
	}
	if src.loads != 1 {
		t.Fatalf("expected one load, got %d", src.loads)
	}
	if ttl := mr.TTL("judge:problem:sum"); ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	// Missing problems are remembered with the short ttl.
	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, "ghost"); appErr.GetCode(err) != appErr.NotFound {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if src.loads != 2 {
		t.Fatalf("missing problem not cached, %d loads", src.loads)
	}
	if raw, _ := mr.Get("judge:problem:ghost"); raw != cache.NullCacheValue || mr.TTL("judge:problem:ghost") != time.Minute {
		t.Fatalf("unexpected null entry %q", raw)
	}

	// Source failures are returned and not cached.
	store.err = errors.New("down")
	if _, err := client.Get(ctx, "other"); appErr.GetCode(err) != appErr.StorageError {
		t.Fatalf("expected storage error, got %v", err)
	}
	if mr.Exists("judge:problem:other") {
		t.Fatal("failures must not be cached")
	}
}

func TestClientWithoutCache(t *testing.T) {
	store := &memStorage{objects: map[string][]byte{"problems/sum/testcases.json": []byte(sumManifest)}}
	src := &countingSource{Source: NewObjectSource(store, "judge", "")}
	client := NewClient(src, nil, Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, "sum"); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if src.loads != 2 {
		t.Fatalf("expected a load per call without cache, got %d", src.loads)
	}
	for _, id := range []string{"", "../etc", "a/b", "-x"} {
		if _, err := client.Get(ctx, id); appErr.GetCode(err) != appErr.ValidationFailed {
			t.Fatalf("id %q: expected validation error, got %v", id, err)
		}
	}
	if src.loads != 2 {
		t.Fatal("invalid ids must not reach the source")
	}
}

func TestObjectSourcePutRoundTrip(t *testing.T) {
	store := &memStorage{objects: map[string][]byte{}}
	src := NewObjectSource(store, "judge", "problems")
	ctx := context.Background()

	want := model.Problem{
		ID:              "sum",
		Title:           "A+B",
		SampleTestCases: []model.TestCase{{Input: "1 2", Output: "3"}},
		FullTestCases:   []model.TestCase{{Input: "2 2", Output: "4"}},
	}
	if err := src.Put(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := store.objects["problems/sum/testcases.json.zst"]; !ok {
		t.Fatalf("compressed manifest not written: %v", store.objects)
	}
	got, err := src.Load(ctx, "sum")
	if err != nil || got.Title != want.Title || got.FullTestCases[0].Output != "4" {
		t.Fatalf("round trip: %+v %v", got, err)
	}

	if err := src.Put(ctx, model.Problem{ID: "../x"}); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := src.Put(ctx, model.Problem{ID: "empty"}); appErr.GetCode(err) != appErr.TestCaseInvalid {
		t.Fatalf("expected invalid problem, got %v", err)
	}
}
