package project

import (
	"context"
	"strings"
	"time"

	"github.com/plus3/bitwise/persist"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/scene"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the project must stay quiet before a change
// triggers a reload.
const DefaultDebounce = 4 * time.Second

// Reloader owns the current runtime of a project and rebuilds it on demand,
// carrying the frozen scene over into the new build.
type Reloader struct {
	loader   *Loader
	backend  Backend
	debounce time.Duration
	log      *zap.Logger

	current *Runtime
	pending *scene.Snapshot
}

func NewReloader(loader *Loader, debounce time.Duration, log *zap.Logger) *Reloader {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Reloader{
		loader:   loader,
		backend:  loader.backend,
		debounce: debounce,
		log:      log.Named("reload"),
	}
}

// Current returns the running runtime, or nil after a failed reload.
func (r *Reloader) Current() *Runtime {
	return r.current
}

// Load builds the first runtime, or returns the current one.
func (r *Reloader) Load(ctx context.Context) (*Runtime, error) {
	if r.current != nil {
		return r.current, nil
	}
	rt, err := r.loader.Build(ctx)
	if err != nil {
		return nil, err
	}
	r.current = rt
	return rt, nil
}

// Pending returns the scene frozen by a reload whose build failed. It is
// thawed into the next successful build.
func (r *Reloader) Pending() *scene.Snapshot {
	return r.pending
}

// Reload freezes the current scene, tears it down and builds the project
// again. The frozen entities and system states are thawed into the new
// scene. When the build fails the reloader holds no runtime until the next
// successful Reload, which receives the scene frozen here.
func (r *Reloader) Reload(ctx context.Context) (*Runtime, error) {
	snap := r.pending
	if old := r.current; old != nil {
		var err error
		if snap, err = old.Scene.Freeze(); err != nil {
			return nil, eris.Wrap(err, "freeze before reload")
		}
		r.current = nil
		if err := old.Close(); err != nil {
			r.log.Warn("closing previous scene failed", zap.Error(err))
		}
	}

	rt, err := r.loader.Build(ctx)
	if err != nil {
		r.log.Error("reload failed", zap.Error(err))
		r.pending = snap
		return nil, err
	}
	r.current = rt
	r.pending = nil

	if snap != nil {
		// Physics settings come from the rebuilt manifest.
		delete(snap.Systems, physics.Name)
		if err := rt.Scene.Thaw(snap); err != nil {
			r.log.Error("previous scene does not fit the new build", zap.Error(err))
			return rt, eris.Wrap(err, "thaw after reload")
		}
	}
	r.log.Info("project reloaded", zap.Int("entities", rt.Scene.World().Len()))
	return rt, nil
}

// Close closes the current runtime.
func (r *Reloader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

// Watch reports one trigger after the project has been quiet for the
// debounce period following a change. Writes to the snapshot directory are
// ignored. The channel closes when ctx is done.
func (r *Reloader) Watch(ctx context.Context) (<-chan struct{}, error) {
	changes, err := r.backend.Watch(ctx)
	if err != nil {
		return nil, err
	}

	triggers := make(chan struct{}, 1)
	go func() {
		defer close(triggers)
		timer := time.NewTimer(r.debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				if change.Path == persist.SnapshotDir || strings.HasPrefix(change.Path, persist.SnapshotDir+"/") {
					continue
				}
				r.log.Debug("project changed", zap.String("path", change.Path), zap.String("op", change.Op))
				timer.Reset(r.debounce)
			case <-timer.C:
				select {
				case triggers <- struct{}{}:
				default:
				}
			}
		}
	}()
	return triggers, nil
}
