package problemclient

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"gopkg.in/yaml.v3"
)

var fixtureExtensions = []string{".yaml", ".yml", ".json"}

// DirSource reads <dir>/<id>.yaml, .yml or .json fixtures.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Load(_ context.Context, problemID string) (model.Problem, error) {
	for _, ext := range fixtureExtensions {
		file := filepath.Join(s.dir, problemID+ext)
		data, err := os.ReadFile(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return model.Problem{}, appErr.Wrapf(err, appErr.StorageError, "read fixture %s failed", file)
		}

		var p model.Problem
		if ext == ".json" {
			err = json.Unmarshal(data, &p)
		} else {
			err = yaml.Unmarshal(data, &p)
		}
		if err != nil {
			return model.Problem{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode fixture %s failed", file)
		}
		return finish(problemID, p)
	}
	return model.Problem{}, notFound(problemID)
}
