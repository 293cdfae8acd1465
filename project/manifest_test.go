package project_test

import (
	"testing"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/project"
	"github.com/plus3/bitwise/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	m, err := project.ParseManifest([]byte(`
name: shooter
scene: scenes/main.yaml
systems:
  - name: boundary
  - name: physics
    order: 5
physics:
  gravity: [0, -9.8, 0]
  iterations: 20
`))
	require.NoError(t, err)

	order := 5
	assert.Equal(t, "shooter", m.Name)
	assert.Equal(t, "scripts", m.Scripts)
	assert.Equal(t, []scene.SystemRef{{Name: "boundary"}, {Name: "physics", Order: &order}}, m.Systems)
	assert.Equal(t, uint(20), m.Physics.Iterations)

	cfg := m.Physics.Config(physics.DefaultConfig())
	assert.Equal(t, physics.Config{Gravity: physics.Vec3{Y: -9.8}, Substeps: 10}, cfg)

	t.Run("invalid", func(t *testing.T) {
		cases := map[string]string{
			"empty":            ``,
			"no name":          `scripts: lua`,
			"unknown key":      "name: x\nscripts: lua\nextra: 1\n",
			"gravity length":   "name: x\nphysics: {gravity: [1, 2]}\n",
			"negative steps":   "name: x\nphysics: {substeps: -1}\n",
			"duplicate system": "name: x\nsystems: [{name: a}, {name: a}]\n",
			"disabled physics": "name: x\nsystems: [{name: physics}]\nphysics: {disabled: true}\n",
			"not yaml":         "name: [",
		}
		for name, doc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := project.ParseManifest([]byte(doc))
				assert.ErrorIs(t, err, ecs.ErrConfiguration)
			})
		}
	})
}
