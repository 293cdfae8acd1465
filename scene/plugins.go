package scene

import (
	"sort"

	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
)

// Factory builds a system for a scene. Factories must not start the system;
// the scene does that.
type Factory func(s *Scene) (ecs.System, error)

// Plugin is a named system kind.
type Plugin struct {
	Name  string
	Order int
	New   Factory
}

// SystemRef selects a plugin for a scene, optionally overriding its order.
type SystemRef struct {
	Name  string `yaml:"name"`
	Order *int   `yaml:"order,omitempty"`
}

// Plugins maps system names to factories. Built-in and user-authored systems
// register the same way; the scene never special-cases either.
type Plugins struct {
	plugins map[string]Plugin
}

// NewPlugins creates an empty plugin registry.
func NewPlugins() *Plugins {
	return &Plugins{plugins: make(map[string]Plugin)}
}

// Register adds a system kind. Names must be unique.
func (p *Plugins) Register(name string, order int, factory Factory) error {
	if name == "" || factory == nil {
		return eris.Wrap(ecs.ErrConfiguration, "plugin needs a name and a factory")
	}
	if _, ok := p.plugins[name]; ok {
		return eris.Wrapf(ecs.ErrConfiguration, "system %q registered twice", name)
	}
	p.plugins[name] = Plugin{Name: name, Order: order, New: factory}
	return nil
}

// Lookup returns a registered plugin.
func (p *Plugins) Lookup(name string) (Plugin, bool) {
	plugin, ok := p.plugins[name]
	return plugin, ok
}

// Names returns the registered system names in sorted order.
func (p *Plugins) Names() []string {
	names := make([]string, 0, len(p.plugins))
	for name := range p.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the referenced systems and adds them to s. Nothing is
// added if any reference is unknown.
func (p *Plugins) Build(s *Scene, refs []SystemRef) error {
	for _, ref := range refs {
		if _, ok := p.plugins[ref.Name]; !ok {
			return eris.Wrapf(ecs.ErrConfiguration, "unknown system %q", ref.Name)
		}
	}

	for _, ref := range refs {
		plugin := p.plugins[ref.Name]
		system, err := plugin.New(s)
		if err != nil {
			return eris.Wrapf(err, "build system %s", ref.Name)
		}
		order := plugin.Order
		if ref.Order != nil {
			order = *ref.Order
		}
		if err := s.AddSystem(system, order); err != nil {
			return err
		}
	}
	return nil
}
