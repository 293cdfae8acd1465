package scene

import (
	"errors"
	"slices"
	"sort"

	"github.com/plus3/bitwise/ecs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Freeze captures every live entity with its present components, and the
// state of every system implementing ecs.Freezer, keyed by system name.
// Entities created outside the scene are adopted as roots first.
func (s *Scene) Freeze() (*Snapshot, error) {
	s.adopt()

	snap := &Snapshot{
		Version:  SnapshotVersion,
		Entities: make([]EntitySnapshot, 0, s.world.Len()),
	}

	for id := range s.walk() {
		entity := EntitySnapshot{Path: s.Path(id)}
		for table := range s.world.Components(id) {
			rec, err := table.Get(id)
			if err != nil {
				return nil, eris.Wrapf(err, "freeze %q", entity.Path)
			}
			if entity.Components == nil {
				entity.Components = make(map[string]ecs.Record)
			}
			entity.Components[table.Schema().Name] = rec
		}
		snap.Entities = append(snap.Entities, entity)
	}

	for _, system := range s.scheduler.Systems() {
		freezer, ok := system.(ecs.Freezer)
		if !ok {
			continue
		}
		name := ecs.SystemName(system)
		state, err := freezer.Freeze()
		if err != nil {
			return nil, eris.Wrapf(err, "freeze system %s", name)
		}
		if state == nil {
			continue
		}
		if snap.Systems == nil {
			snap.Systems = make(map[string]ecs.State)
		}
		snap.Systems[name] = state
	}

	return snap, nil
}

// Thaw replaces the scene's entities with those of snap and hands each
// named system its saved state. The snapshot is validated before anything is
// modified, so a malformed snapshot leaves the scene untouched. When loading
// still fails, for example because a system rejects its state, the previous
// entities and system states are restored before the error is returned. The
// scene is started first if it was not already: Start always precedes Thaw.
func (s *Scene) Thaw(snap *Snapshot) error {
	if s.closed {
		return eris.New("scene is closed")
	}
	if snap == nil {
		return eris.Wrap(ecs.ErrConfiguration, "nil snapshot")
	}
	if err := snap.validate(s.registry); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	previous, err := s.Freeze()
	if err != nil {
		return eris.Wrap(err, "freeze before thaw")
	}
	if err := s.load(snap); err != nil {
		if rerr := s.load(previous); rerr != nil {
			s.log.Error("restoring scene after failed thaw", zap.Error(rerr))
			return errors.Join(err, eris.Wrap(rerr, "restore previous scene"))
		}
		return err
	}

	s.log.Debug("scene thawed",
		zap.Int("entities", len(snap.Entities)),
		zap.Int("systems", len(snap.Systems)))
	return nil
}

func (s *Scene) load(snap *Snapshot) error {
	s.clear()

	byPath := make(map[string]ecs.EntityId, len(snap.Entities))
	for _, entity := range snap.Entities {
		parentPath, name := splitPath(entity.Path)
		parent := ecs.InvalidEntity
		if parentPath != "" {
			parent = byPath[parentPath]
		}

		id, err := s.Create(name, parent)
		if err != nil {
			return eris.Wrapf(err, "thaw %q", entity.Path)
		}
		byPath[entity.Path] = id

		for _, component := range sortedKeys(entity.Components) {
			cid, _ := s.registry.Lookup(component)
			if err := s.world.Add(id, cid, entity.Components[component]); err != nil {
				return eris.Wrapf(err, "thaw %q", entity.Path)
			}
		}
	}

	for _, name := range sortedKeys(snap.Systems) {
		system, ok := s.scheduler.Lookup(name)
		if !ok {
			s.log.Warn("snapshot state for unknown system ignored", zap.String("system", name))
			continue
		}
		thawer, ok := system.(ecs.Thawer)
		if !ok {
			s.log.Warn("system cannot thaw, state ignored", zap.String("system", name))
			continue
		}
		if err := thawer.Thaw(snap.Systems[name]); err != nil {
			return eris.Wrapf(err, "thaw system %s", name)
		}
	}
	return nil
}

// clear destroys every live entity.
func (s *Scene) clear() {
	for _, id := range slices.Collect(s.world.Entities()) {
		if s.world.IsAlive(id) {
			_ = s.world.Destroy(id)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
