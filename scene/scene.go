// Package scene composes a World and a Scheduler into one simulable unit
// with an entity hierarchy and freeze/thaw persistence.
package scene

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/kamstrup/intmap"
	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type node struct {
	name     string
	parent   ecs.EntityId
	children []ecs.EntityId
}

// Scene exclusively owns its world, its systems and the hierarchy between
// its entities. Systems only receive the world as a non-owning handle.
type Scene struct {
	registry  *ecs.ComponentRegistry
	world     *ecs.World
	scheduler *ecs.Scheduler
	log       *zap.Logger

	nodes  *intmap.Map[ecs.EntityId, *node]
	roots  []ecs.EntityId
	unhook func()
	closed bool
}

// New creates an empty scene over registry. A nil logger disables logging.
func New(registry *ecs.ComponentRegistry, log *zap.Logger) *Scene {
	if log == nil {
		log = zap.NewNop()
	}
	world := ecs.NewWorld(registry, log)
	s := &Scene{
		registry:  registry,
		world:     world,
		scheduler: ecs.NewScheduler(world),
		log:       log,
		nodes:     intmap.New[ecs.EntityId, *node](64),
	}
	s.unhook = world.OnDestroy(s.forget)
	return s
}

// World returns the scene's world.
func (s *Scene) World() *ecs.World {
	return s.world
}

// Registry returns the component registry.
func (s *Scene) Registry() *ecs.ComponentRegistry {
	return s.registry
}

// Scheduler returns the scene's scheduler.
func (s *Scene) Scheduler() *ecs.Scheduler {
	return s.scheduler
}

// Log returns the scene's logger.
func (s *Scene) Log() *zap.Logger {
	return s.log
}

// AddSystem schedules a system at the given order.
func (s *Scene) AddSystem(system ecs.System, order int) error {
	return s.scheduler.Register(system, order)
}

// Start starts every system. It runs once; later calls are no-ops.
func (s *Scene) Start() error {
	return s.scheduler.Start()
}

// Update runs one scheduler tick.
func (s *Scene) Update(dt float64) error {
	if s.closed {
		return eris.New("scene is closed")
	}
	return s.scheduler.Tick(dt)
}

// Close releases the external resources held by systems. The scene cannot be
// updated afterwards.
func (s *Scene) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.scheduler.Close()
	s.unhook()
	return err
}

// Create adds a named entity under parent (ecs.InvalidEntity for a root).
// An empty name is replaced with "entity-<index>".
func (s *Scene) Create(name string, parent ecs.EntityId) (ecs.EntityId, error) {
	if name != "" {
		if err := validateName(name); err != nil {
			return ecs.InvalidEntity, err
		}
	}
	if parent != ecs.InvalidEntity && !s.nodes.Has(parent) {
		return ecs.InvalidEntity, eris.Wrapf(ecs.ErrNotFound, "parent entity %s", parent)
	}
	if name != "" && s.childNamed(parent, name) != ecs.InvalidEntity {
		return ecs.InvalidEntity, eris.Wrapf(ecs.ErrConfiguration, "%q already has a child named %q", s.Path(parent), name)
	}

	id := s.world.Create()
	if name == "" {
		name = s.autoName(parent, id)
	}
	s.attach(id, name, parent)
	return id, nil
}

func (s *Scene) autoName(parent, id ecs.EntityId) string {
	name := fmt.Sprintf("entity-%d", id.Index())
	for n := 2; s.childNamed(parent, name) != ecs.InvalidEntity; n++ {
		name = fmt.Sprintf("entity-%d-%d", id.Index(), n)
	}
	return name
}

func (s *Scene) attach(id ecs.EntityId, name string, parent ecs.EntityId) {
	n := &node{name: name, parent: parent}
	s.nodes.Put(id, n)
	s.link(id, n)
}

func (s *Scene) link(id ecs.EntityId, n *node) {
	if n.parent == ecs.InvalidEntity {
		s.roots = insertSorted(s.roots, id)
		return
	}
	p, _ := s.nodes.Get(n.parent)
	p.children = insertSorted(p.children, id)
}

func (s *Scene) detach(id ecs.EntityId, n *node) {
	if n.parent == ecs.InvalidEntity {
		s.roots = removeId(s.roots, id)
		return
	}
	if p, ok := s.nodes.Get(n.parent); ok {
		p.children = removeId(p.children, id)
	}
}

// forget runs for every destroyed entity, whichever path destroyed it.
func (s *Scene) forget(id ecs.EntityId) {
	n, ok := s.nodes.Get(id)
	if !ok {
		return
	}
	for _, child := range slices.Clone(n.children) {
		if s.world.IsAlive(child) {
			_ = s.world.Destroy(child)
		}
	}
	s.detach(id, n)
	s.nodes.Del(id)
}

// Destroy destroys an entity and, before it, all of its descendants.
func (s *Scene) Destroy(id ecs.EntityId) error {
	return s.world.Destroy(id)
}

// SetParent moves id under parent (ecs.InvalidEntity for a root).
func (s *Scene) SetParent(id, parent ecs.EntityId) error {
	n, ok := s.nodes.Get(id)
	if !ok {
		return eris.Wrapf(ecs.ErrNotFound, "entity %s", id)
	}
	if parent != ecs.InvalidEntity && !s.nodes.Has(parent) {
		return eris.Wrapf(ecs.ErrNotFound, "parent entity %s", parent)
	}
	for p := parent; p != ecs.InvalidEntity; p = s.Parent(p) {
		if p == id {
			return eris.Wrapf(ecs.ErrConfiguration, "cannot move %q under itself", s.Path(id))
		}
	}
	if n.parent == parent {
		return nil
	}
	if s.childNamed(parent, n.name) != ecs.InvalidEntity {
		return eris.Wrapf(ecs.ErrConfiguration, "%q already has a child named %q", s.Path(parent), n.name)
	}

	s.detach(id, n)
	n.parent = parent
	s.link(id, n)
	return nil
}

// Parent returns the parent of id, or ecs.InvalidEntity for roots and unknown
// entities.
func (s *Scene) Parent(id ecs.EntityId) ecs.EntityId {
	if n, ok := s.nodes.Get(id); ok {
		return n.parent
	}
	return ecs.InvalidEntity
}

// Children returns the children of id in ascending id order.
func (s *Scene) Children(id ecs.EntityId) []ecs.EntityId {
	if n, ok := s.nodes.Get(id); ok {
		return slices.Clone(n.children)
	}
	return nil
}

// Roots returns the root entities in ascending id order.
func (s *Scene) Roots() []ecs.EntityId {
	return slices.Clone(s.roots)
}

// Name returns the name of id within its parent.
func (s *Scene) Name(id ecs.EntityId) string {
	if n, ok := s.nodes.Get(id); ok {
		return n.name
	}
	return ""
}

// Path returns the slash separated names from the root down to id.
func (s *Scene) Path(id ecs.EntityId) string {
	var parts []string
	for cur := id; cur != ecs.InvalidEntity; {
		n, ok := s.nodes.Get(cur)
		if !ok {
			break
		}
		parts = append(parts, n.name)
		cur = n.parent
	}
	slices.Reverse(parts)
	return strings.Join(parts, "/")
}

// Lookup resolves an entity by path.
func (s *Scene) Lookup(path string) (ecs.EntityId, bool) {
	cur := ecs.InvalidEntity
	for _, name := range strings.Split(path, "/") {
		cur = s.childNamed(cur, name)
		if cur == ecs.InvalidEntity {
			return ecs.InvalidEntity, false
		}
	}
	return cur, true
}

func (s *Scene) childNamed(parent ecs.EntityId, name string) ecs.EntityId {
	siblings := s.roots
	if parent != ecs.InvalidEntity {
		p, ok := s.nodes.Get(parent)
		if !ok {
			return ecs.InvalidEntity
		}
		siblings = p.children
	}
	for _, id := range siblings {
		if n, _ := s.nodes.Get(id); n.name == name {
			return id
		}
	}
	return ecs.InvalidEntity
}

// adopt gives every live entity created outside the scene a root node.
func (s *Scene) adopt() {
	for id := range s.world.Entities() {
		if !s.nodes.Has(id) {
			s.attach(id, s.autoName(ecs.InvalidEntity, id), ecs.InvalidEntity)
		}
	}
}

// walk visits the hierarchy depth-first, parents before children, siblings
// in ascending id order.
func (s *Scene) walk() iter.Seq[ecs.EntityId] {
	return func(yield func(ecs.EntityId) bool) {
		var visit func(ids []ecs.EntityId) bool
		visit = func(ids []ecs.EntityId) bool {
			for _, id := range ids {
				if !yield(id) {
					return false
				}
				n, _ := s.nodes.Get(id)
				if !visit(n.children) {
					return false
				}
			}
			return true
		}
		visit(s.roots)
	}
}

func insertSorted(ids []ecs.EntityId, id ecs.EntityId) []ecs.EntityId {
	i := sort.Search(len(ids), func(i int) bool { return ids[i].Index() >= id.Index() })
	return slices.Insert(ids, i, id)
}

func removeId(ids []ecs.EntityId, id ecs.EntityId) []ecs.EntityId {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}
