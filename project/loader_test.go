package project_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func spinAngle(t *testing.T, rt *project.Runtime) float32 {
	t.Helper()
	marker, ok := rt.Scene.Lookup("ball/marker")
	require.True(t, ok)
	spin, err := rt.Scene.World().Lookup("Spin")
	require.NoError(t, err)
	rec, err := rt.Scene.World().Get(marker, spin)
	require.NoError(t, err)
	return rec["angle"].(float32)
}

func ballY(t *testing.T, rt *project.Runtime) float32 {
	t.Helper()
	ball, ok := rt.Scene.Lookup("ball")
	require.True(t, ok)
	transforms, err := ecs.NewStore[physics.Transform](rt.Scene.World())
	require.NoError(t, err)
	tr, err := transforms.Get(ball)
	require.NoError(t, err)
	return tr.Y
}

func spinnerTicks(t *testing.T, rt *project.Runtime) int64 {
	t.Helper()
	s, ok := rt.Engine.System("spinner")
	require.True(t, ok)
	state, err := s.Freeze()
	require.NoError(t, err)
	return state["ticks"].(int64)
}

func TestLoaderBuild(t *testing.T) {
	_, loader, backends := newProject(t)

	rt, err := loader.Build(context.Background())
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, "demo", rt.Manifest.Name)
	var names []string
	for _, s := range rt.Scene.Scheduler().Systems() {
		names = append(names, ecs.SystemName(s))
	}
	assert.Equal(t, []string{"spinner", physics.Name}, names, "scripts run before physics")

	require.Len(t, *backends, 1)
	assert.Equal(t, physics.Vec3{Y: -10}, (*backends)[0].Gravity())

	require.NoError(t, rt.Scene.Update(0.5))
	assert.Equal(t, float32(1), spinAngle(t, rt))
	assert.Less(t, ballY(t, rt), float32(10))
	assert.Equal(t, 1, (*backends)[0].Live())
}

func TestLoaderBuildErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing manifest": {"project.yaml": ""},
		"bad script":       {"scripts/30_bad.lua": "system("},
		"unknown system":   {"project.yaml": "name: demo\nsystems: [{name: nope}]\n"},
		"bad scene":        {"scenes/main.yaml": "version: 1\nentities: [{path: a, components: {Nope: {}}}]\n"},
		"missing scene":    {"project.yaml": "name: demo\nscene: scenes/gone.yaml\n"},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			root, loader, backends := newProject(t)
			writeFiles(t, root, files)
			if name == "missing manifest" {
				require.NoError(t, os.Remove(filepath.Join(root, "project.yaml")))
			}

			_, err := loader.Build(context.Background())
			require.Error(t, err)
			for _, b := range *backends {
				assert.True(t, b.Closed, "physics backend of a failed build is closed")
			}
		})
	}
}

func TestReloader(t *testing.T) {
	ctx := context.Background()
	root, loader, backends := newProject(t)
	r := project.NewReloader(loader, 0, zaptest.NewLogger(t))
	defer r.Close()

	rt, err := r.Load(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, rt.Scene.Update(0.25))
	}
	y := ballY(t, rt)
	angle := spinAngle(t, rt)

	t.Run("reload keeps the scene", func(t *testing.T) {
		writeFiles(t, root, map[string]string{
			"project.yaml": "name: demo\nscene: scenes/main.yaml\nphysics: {gravity: [0, -1, 0]}\n",
		})
		rt, err := r.Reload(ctx)
		require.NoError(t, err)
		assert.Same(t, rt, r.Current())

		assert.Equal(t, y, ballY(t, rt))
		assert.Equal(t, angle, spinAngle(t, rt))
		assert.Equal(t, int64(3), spinnerTicks(t, rt))

		require.Len(t, *backends, 2)
		assert.True(t, (*backends)[0].Closed)
		assert.Equal(t, 0, (*backends)[0].Live())
		assert.Equal(t, physics.Vec3{Y: -1}, (*backends)[1].Gravity(), "physics settings come from the new manifest")
	})

	t.Run("failed build keeps the frozen scene for the next build", func(t *testing.T) {
		writeFiles(t, root, map[string]string{"scripts/30_bad.lua": "error('broken')"})
		_, err := r.Reload(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ecs.ErrConfiguration)
		assert.Nil(t, r.Current())
		require.NotNil(t, r.Pending())

		_, err = r.Reload(ctx)
		require.Error(t, err, "still broken")
		require.NotNil(t, r.Pending())

		require.NoError(t, os.Remove(filepath.Join(root, "scripts", "30_bad.lua")))
		rt, err := r.Reload(ctx)
		require.NoError(t, err)
		assert.Nil(t, r.Pending())
		assert.Equal(t, y, ballY(t, rt))
		assert.Equal(t, angle, spinAngle(t, rt))
		assert.Equal(t, int64(3), spinnerTicks(t, rt))
	})

	t.Run("incompatible scene keeps the new build", func(t *testing.T) {
		writeFiles(t, root, map[string]string{
			"project.yaml":              "name: demo\n",
			"scripts/10_components.lua": `component("Spin", {angle = "f32"})`,
		})
		rt, err := r.Reload(ctx)
		require.Error(t, err)
		require.NotNil(t, rt)
		assert.Same(t, rt, r.Current())
		assert.ErrorIs(t, err, ecs.ErrConfiguration)
	})
}

func TestReloaderWatch(t *testing.T) {
	root, loader, _ := newProject(t)
	r := project.NewReloader(loader, 200*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	triggers, err := r.Watch(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		writeFiles(t, root, map[string]string{"scripts/20_spinner.lua": spinner})
	}
	select {
	case <-triggers:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload triggered")
	}
	select {
	case <-triggers:
		t.Fatal("burst of writes triggered more than once")
	case <-time.After(600 * time.Millisecond):
	}

	backend, err := project.NewDirBackend(root, nil)
	require.NoError(t, err)
	require.NoError(t, backend.SaveFile("snapshots/autosave.yaml", []byte("version: 1\n")))
	select {
	case <-triggers:
		t.Fatal("snapshot writes must not trigger a reload")
	case <-time.After(600 * time.Millisecond):
	}

	cancel()
	for range triggers {
	}
}
