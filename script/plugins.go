package script

import (
	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/scene"
)

// RegisterPlugins makes every Lua system available to scene manifests.
// Systems without an explicit order get defaultOrder. The engine's systems
// are single instances, so they can be built into one scene only.
func (e *Engine) RegisterPlugins(p *scene.Plugins, defaultOrder int) error {
	for _, s := range e.systems {
		order, ok := s.Order()
		if !ok {
			order = defaultOrder
		}
		system := s
		err := p.Register(s.name, order, func(*scene.Scene) (ecs.System, error) {
			return system, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
