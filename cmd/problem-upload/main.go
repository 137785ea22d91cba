package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/problemclient"

	"github.com/joho/godotenv"
)

// Uploads problem fixtures from a directory to object storage as compressed manifests.
func main() {
	dir := flag.String("dir", "configs/problems", "Directory with <id>.yaml|.yml|.json fixtures")
	only := flag.String("problem", "", "Upload a single problem id")
	prefix := flag.String("prefix", "problems", "Object key prefix")
	envPath := flag.String("env", ".env", "Optional env file with MINIO_* settings")
	timeout := flag.Duration("timeout", time.Minute, "Overall upload timeout")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		os.Exit(1)
	}
	cfg := storage.MinIOConfig{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    os.Getenv("MINIO_BUCKET"),
		Region:    os.Getenv("MINIO_REGION"),
	}
	if cfg.Bucket == "" {
		fmt.Fprintln(os.Stderr, "MINIO_BUCKET is required")
		os.Exit(1)
	}

	ids := []string{*only}
	if *only == "" {
		var err error
		if ids, err = listFixtures(*dir); err != nil {
			fmt.Fprintf(os.Stderr, "list fixtures failed: %v\n", err)
			os.Exit(1)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintf(os.Stderr, "no fixtures found in %s\n", *dir)
		os.Exit(1)
	}

	store, err := storage.NewMinIOStorage(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect object storage failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := store.EnsureBucket(ctx, cfg.Bucket, cfg.Region); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := upload(ctx, problemclient.NewDirSource(*dir), problemclient.NewObjectSource(store, cfg.Bucket, *prefix), ids); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type manifestSink interface {
	Put(ctx context.Context, p model.Problem) error
}

func upload(ctx context.Context, src problemclient.Source, dst manifestSink, ids []string) error {
	for _, id := range ids {
		p, err := src.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
		if err := dst.Put(ctx, p); err != nil {
			return fmt.Errorf("upload %s: %w", id, err)
		}
		fmt.Printf("uploaded %s (%d sample, %d full)\n", id, len(p.SampleTestCases), len(p.FullTestCases))
	}
	return nil
}

// listFixtures returns the sorted problem ids found in dir.
func listFixtures(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		switch ext {
		case ".yaml", ".yml", ".json":
			seen[strings.TrimSuffix(entry.Name(), ext)] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
