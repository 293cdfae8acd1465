package persist

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/scene"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SnapshotDir is the project directory holding file snapshots.
const SnapshotDir = "snapshots"

// Files is the part of a project backend the FileStore needs. Missing files
// and directories report fs.ErrNotExist.
type Files interface {
	ReadFile(name string) ([]byte, error)
	SaveFile(name string, data []byte) error
	List(dir string) ([]string, error)
}

// FileStore keeps snapshots as YAML documents inside a project.
type FileStore struct {
	files Files
	log   *zap.Logger
}

func NewFileStore(files Files, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{files: files, log: log}
}

func fileName(name string) string {
	return path.Join(SnapshotDir, name+".yaml")
}

func (s *FileStore) Save(ctx context.Context, name string, snap *scene.Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := snap.WriteYAML(&buf); err != nil {
		return err
	}
	if err := s.files.SaveFile(fileName(name), buf.Bytes()); err != nil {
		return eris.Wrapf(err, "save snapshot %s", name)
	}
	s.log.Debug("snapshot saved", zap.String("name", name), zap.Int("bytes", buf.Len()))
	return nil
}

func (s *FileStore) Load(ctx context.Context, name string) (*scene.Snapshot, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := s.files.ReadFile(fileName(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ecs.ErrNotFound, "snapshot %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "load snapshot %s", name)
	}
	snap, err := scene.ReadYAML(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot %s", name)
	}
	return snap, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := s.files.List(SnapshotDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "list snapshots")
	}
	var names []string
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(path.Base(entry), ".yaml"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
