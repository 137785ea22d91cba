package problemclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"

	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	manifestName           = "testcases.json"
	compressedManifestName = "testcases.json.zst"
)

// ObjectSource reads manifests from object storage at <prefix>/<id>/testcases.json[.zst].
type ObjectSource struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
}

// NewObjectSource creates a source over bucket. prefix defaults to "problems".
func NewObjectSource(s storage.ObjectStorage, bucket, prefix string) *ObjectSource {
	if prefix == "" {
		prefix = "problems"
	}
	return &ObjectSource{storage: s, bucket: bucket, prefix: prefix}
}

// Load prefers the compressed manifest.
func (s *ObjectSource) Load(ctx context.Context, problemID string) (model.Problem, error) {
	data, err := s.read(ctx, path.Join(s.prefix, problemID, compressedManifestName))
	compressed := true
	if errors.Is(err, storage.ErrObjectNotFound) {
		data, err = s.read(ctx, path.Join(s.prefix, problemID, manifestName))
		compressed = false
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		return model.Problem{}, notFound(problemID)
	}
	if err != nil {
		return model.Problem{}, appErr.Wrapf(err, appErr.StorageError, "read manifest of problem %s failed", problemID)
	}

	if compressed {
		data, err = decompress(data)
		if err != nil {
			return model.Problem{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decompress manifest of problem %s failed", problemID)
		}
	}
	var p model.Problem
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Problem{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode manifest of problem %s failed", problemID)
	}
	return finish(problemID, p)
}

// Put uploads p as a compressed manifest.
func (s *ObjectSource) Put(ctx context.Context, p model.Problem) error {
	if !problemIDPattern.MatchString(p.ID) {
		return appErr.ValidationError("id", "invalid format")
	}
	if _, err := finish(p.ID, p); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode problem %s failed", p.ID)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "create zstd writer failed")
	}
	compressed := enc.EncodeAll(data, nil)
	_ = enc.Close()

	key := path.Join(s.prefix, p.ID, compressedManifestName)
	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), "application/zstd"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload manifest of problem %s failed", p.ID)
	}
	return nil
}

func (s *ObjectSource) read(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return readLimited(reader)
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readLimited(zr)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxManifestBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxManifestBytes {
		return nil, errors.New("manifest exceeds size limit")
	}
	return data, nil
}
