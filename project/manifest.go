package project

import (
	"bytes"
	"errors"
	"io"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/scene"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the project description at the project root.
const ManifestFile = "project.yaml"

// Manifest describes how a project is assembled into a scene.
//
//	name: shooter
//	scripts: scripts
//	scene: scenes/main.yaml
//	systems:
//	  - name: boundary
//	  - name: physics
//	    order: 100
//	physics:
//	  gravity: [0, -9.8, 0]
//	  substeps: 8
type Manifest struct {
	Name    string            `yaml:"name"`
	Scripts string            `yaml:"scripts,omitempty"`
	Scene   string            `yaml:"scene,omitempty"`
	Systems []scene.SystemRef `yaml:"systems,omitempty"`
	Physics PhysicsSettings   `yaml:"physics,omitempty"`
}

// PhysicsSettings configures the built-in physics system.
type PhysicsSettings struct {
	Disabled   bool      `yaml:"disabled,omitempty"`
	Gravity    []float64 `yaml:"gravity,flow,omitempty"`
	Substeps   int       `yaml:"substeps,omitempty"`
	Iterations uint      `yaml:"iterations,omitempty"`
}

// Config converts the settings, falling back to fallback for unset values.
func (p PhysicsSettings) Config(fallback physics.Config) physics.Config {
	cfg := fallback
	if len(p.Gravity) == 3 {
		cfg.Gravity = physics.Vec3{X: p.Gravity[0], Y: p.Gravity[1], Z: p.Gravity[2]}
	}
	if p.Substeps > 0 {
		cfg.Substeps = p.Substeps
	}
	return cfg
}

// ParseManifest decodes a manifest strictly: unknown keys are errors.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrapf(ecs.ErrConfiguration, "decode manifest: %v", err)
	}
	if m.Scripts == "" {
		m.Scripts = "scripts"
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return eris.Wrap(ecs.ErrConfiguration, "manifest needs a name")
	}
	if n := len(m.Physics.Gravity); n != 0 && n != 3 {
		return eris.Wrapf(ecs.ErrConfiguration, "physics gravity needs 3 components, got %d", n)
	}
	if m.Physics.Substeps < 0 {
		return eris.Wrapf(ecs.ErrConfiguration, "physics substeps must not be negative, got %d", m.Physics.Substeps)
	}
	seen := make(map[string]bool, len(m.Systems))
	for _, ref := range m.Systems {
		if ref.Name == "" {
			return eris.Wrap(ecs.ErrConfiguration, "system without a name")
		}
		if seen[ref.Name] {
			return eris.Wrapf(ecs.ErrConfiguration, "system %q listed twice", ref.Name)
		}
		if ref.Name == physics.Name && m.Physics.Disabled {
			return eris.Wrap(ecs.ErrConfiguration, "physics is listed but disabled")
		}
		seen[ref.Name] = true
	}
	return nil
}
