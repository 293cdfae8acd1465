package project_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/physics/physicstest"
	"github.com/plus3/bitwise/project"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const manifest = `name: demo
scene: scenes/main.yaml
physics:
  gravity: [0, -10, 0]
  substeps: 2
`

const components = `component("Spin", {rate = "f32", angle = "f32"})`

const spinner = `
local spinner = system("spinner")
spinner.ticks = 0

function spinner:update(world, dt)
    self.ticks = self.ticks + 1
    for _, id in ipairs(world:query("Spin"):evaluate()) do
        local s = world:get(id, "Spin")
        world:set(id, "Spin", {angle = s.angle + s.rate * dt})
    end
end

function spinner:freeze()
    return {ticks = self.ticks}
end

function spinner:thaw(state)
    self.ticks = state.ticks
end
`

const mainScene = `version: 1
entities:
  - path: ball
    components:
      Transform: {y: 10, rw: 1, sx: 1, sy: 1, sz: 1}
      Collider: {kind: 1, radius: 0.5}
      RigidBody: {mass: 1}
  - path: ball/marker
    components:
      Spin: {rate: 2}
`

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

// newProject lays out a demo project and returns a loader whose physics
// backends are recorded in backends.
func newProject(t *testing.T) (string, *project.Loader, *[]*physicstest.Backend) {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"project.yaml":              manifest,
		"scripts/10_components.lua": components,
		"scripts/20_spinner.lua":    spinner,
		"scripts/notes.txt":         "ignored",
		"scenes/main.yaml":          mainScene,
	})

	backend, err := project.NewDirBackend(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	var backends []*physicstest.Backend
	loader := project.NewLoader(backend, project.Options{
		NewBackend: func(uint) physics.Backend {
			b := physicstest.New()
			backends = append(backends, b)
			return b
		},
	}, zaptest.NewLogger(t))
	return root, loader, &backends
}
