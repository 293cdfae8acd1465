// Package project loads a bitwise project directory into a running scene and
// rebuilds it when the project's files change.
package project

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Change is one file system event inside a project. Path is relative to the
// project root and uses forward slashes.
type Change struct {
	Path string
	Op   string
}

// Backend gives access to the files of one project. Names are relative,
// slash-separated paths; missing files report fs.ErrNotExist.
type Backend interface {
	ReadFile(name string) ([]byte, error)
	SaveFile(name string, data []byte) error
	// List returns every file below dir, sorted.
	List(dir string) ([]string, error)
	// Watch reports changes until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan Change, error)
}

// DirBackend is a Backend rooted at a directory on disk.
type DirBackend struct {
	root string
	log  *zap.Logger
}

func NewDirBackend(root string, log *zap.Logger) (*DirBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "project root %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, eris.Wrapf(err, "project root %s", root)
	}
	if !info.IsDir() {
		return nil, eris.Wrapf(ecs.ErrConfiguration, "project root %s is not a directory", root)
	}
	return &DirBackend{root: abs, log: log.Named("project")}, nil
}

// Root returns the absolute project directory.
func (b *DirBackend) Root() string {
	return b.root
}

// resolve maps a project path to the file system, rejecting paths that leave
// the root.
func (b *DirBackend) resolve(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", eris.Wrapf(ecs.ErrConfiguration, "path %q escapes the project", name)
	}
	return filepath.Join(b.root, clean), nil
}

func (b *DirBackend) rel(path string) string {
	rel, err := filepath.Rel(b.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (b *DirBackend) ReadFile(name string) ([]byte, error) {
	path, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", name)
	}
	return data, nil
}

// SaveFile writes through a temporary file so readers never see a partial
// document.
func (b *DirBackend) SaveFile(name string, data []byte) error {
	path, err := b.resolve(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "save %s", name)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "save %s", name)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), path)
	}
	if werr != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(werr, "save %s", name)
	}
	return nil
}

func (b *DirBackend) List(dir string) ([]string, error) {
	start, err := b.resolve(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, b.rel(path))
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "list %s", dir)
	}
	return files, nil
}

// Watch watches the root and every directory below it, including
// directories created later. Hidden files and directories are ignored.
func (b *DirBackend) Watch(ctx context.Context) (<-chan Change, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "create watcher")
	}
	if err := b.watchTree(w, b.root); err != nil {
		w.Close()
		return nil, err
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if hidden(b.rel(ev.Name)) {
					continue
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := b.watchTree(w, ev.Name); err != nil {
							b.log.Warn("watch directory failed", zap.String("dir", ev.Name), zap.Error(err))
						}
					}
				}
				select {
				case out <- Change{Path: b.rel(ev.Name), Op: ev.Op.String()}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				b.log.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	return out, nil
}

func (b *DirBackend) watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != b.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return eris.Wrapf(err, "watch %s", b.rel(path))
		}
		return nil
	})
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}
