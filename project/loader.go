package project

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/physics/chipmunk"
	"github.com/plus3/bitwise/scene"
	"github.com/plus3/bitwise/script"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// PhysicsOrder is the default order of the physics system. Script
	// systems default to ScriptOrder and so run first.
	PhysicsOrder = 100
	ScriptOrder  = 0
)

// Options are the process-wide defaults a manifest can override.
type Options struct {
	Physics    physics.Config
	Iterations uint
	// NewBackend creates the physics backend of each build. Defaults to the
	// chipmunk backend.
	NewBackend func(iterations uint) physics.Backend
}

// Runtime is one built project: the scene and the script engine its systems
// run in.
type Runtime struct {
	Manifest *Manifest
	Scene    *scene.Scene
	Engine   *script.Engine
}

// Close closes the scene, releasing physics bodies, then the script VM.
func (r *Runtime) Close() error {
	err := r.Scene.Close()
	r.Engine.Close()
	return err
}

// Loader builds runtimes from a project backend.
type Loader struct {
	backend Backend
	opts    Options
	log     *zap.Logger
}

func NewLoader(backend Backend, opts Options, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Physics.Substeps <= 0 {
		opts.Physics.Substeps = physics.DefaultConfig().Substeps
	}
	if opts.NewBackend == nil {
		opts.NewBackend = func(iterations uint) physics.Backend { return chipmunk.New(iterations) }
	}
	return &Loader{backend: backend, opts: opts, log: log}
}

// Manifest reads and parses the project manifest.
func (l *Loader) Manifest() (*Manifest, error) {
	data, err := l.backend.ReadFile(ManifestFile)
	if err != nil {
		return nil, eris.Wrap(err, "read manifest")
	}
	return ParseManifest(data)
}

// Build assembles a started scene from the project: scripts are loaded in
// path order, components registered, the manifest's systems built and the
// initial scene thawed. Nothing is left running when Build fails.
func (l *Loader) Build(ctx context.Context) (*Runtime, error) {
	m, err := l.Manifest()
	if err != nil {
		return nil, err
	}

	engine := script.NewEngine(l.log)
	rt, err := l.build(ctx, m, engine)
	if err != nil {
		engine.Close()
		return nil, err
	}
	l.log.Info("project built",
		zap.String("project", m.Name),
		zap.Int("systems", len(rt.Scene.Scheduler().Systems())),
		zap.Int("entities", rt.Scene.World().Len()))
	return rt, nil
}

func (l *Loader) build(ctx context.Context, m *Manifest, engine *script.Engine) (*Runtime, error) {
	if err := l.loadScripts(ctx, m, engine); err != nil {
		return nil, err
	}

	registry := ecs.NewComponentRegistry()
	physics.Register(registry)
	if err := engine.RegisterComponents(registry); err != nil {
		return nil, err
	}

	plugins := scene.NewPlugins()
	if !m.Physics.Disabled {
		cfg := m.Physics.Config(l.opts.Physics)
		iterations := l.opts.Iterations
		if m.Physics.Iterations > 0 {
			iterations = m.Physics.Iterations
		}
		err := plugins.Register(physics.Name, PhysicsOrder, func(s *scene.Scene) (ecs.System, error) {
			return physics.New(l.opts.NewBackend(iterations), cfg, s.Log()), nil
		})
		if err != nil {
			return nil, err
		}
	}
	if err := engine.RegisterPlugins(plugins, ScriptOrder); err != nil {
		return nil, err
	}

	refs := m.Systems
	if len(refs) == 0 {
		for _, s := range engine.Systems() {
			refs = append(refs, scene.SystemRef{Name: s.Name()})
		}
		if !m.Physics.Disabled {
			refs = append(refs, scene.SystemRef{Name: physics.Name})
		}
	}

	s := scene.New(registry, l.log)
	rt := &Runtime{Manifest: m, Scene: s, Engine: engine}
	fail := func(err error) (*Runtime, error) {
		if cerr := s.Close(); cerr != nil {
			l.log.Warn("close failed build", zap.Error(cerr))
		}
		return nil, err
	}

	if err := plugins.Build(s, refs); err != nil {
		return fail(err)
	}
	if err := s.Start(); err != nil {
		return fail(err)
	}
	if m.Scene != "" {
		data, err := l.backend.ReadFile(m.Scene)
		if err != nil {
			return fail(eris.Wrapf(err, "initial scene"))
		}
		snap, err := scene.ReadYAML(bytes.NewReader(data))
		if err != nil {
			return fail(eris.Wrapf(err, "initial scene %s", m.Scene))
		}
		if err := s.Thaw(snap); err != nil {
			return fail(eris.Wrapf(err, "initial scene %s", m.Scene))
		}
	}
	return rt, nil
}

func (l *Loader) loadScripts(ctx context.Context, m *Manifest, engine *script.Engine) error {
	files, err := l.backend.List(m.Scripts)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, name := range files {
		if path.Ext(name) != ".lua" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := l.backend.ReadFile(name)
		if err != nil {
			return err
		}
		if err := engine.Load(strings.TrimPrefix(name, "./"), src); err != nil {
			return err
		}
	}
	return nil
}
