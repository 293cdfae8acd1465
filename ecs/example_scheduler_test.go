package ecs_test

import (
	"fmt"

	"github.com/plus3/bitwise/ecs"
)

type Hitpoints struct {
	Current, Max int32
}

type HealingSystem struct {
	RegenRate float32
	store     *ecs.Store[Hitpoints]
	wounded   *ecs.Query
}

func (s *HealingSystem) Start(w *ecs.World) error {
	var err error
	if s.store, err = ecs.NewStore[Hitpoints](w); err != nil {
		return err
	}
	s.wounded, err = ecs.NewQuery(w, s.store.Id())
	return err
}

func (s *HealingSystem) Update(frame *ecs.UpdateFrame) error {
	res, err := s.wounded.Evaluate()
	if err != nil {
		return err
	}
	for _, id := range res.Current {
		err := s.store.Update(id, func(hp *Hitpoints) {
			hp.Current = min(hp.Max, hp.Current+int32(s.RegenRate*float32(frame.DeltaTime)))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ExampleScheduler demonstrates driving systems with a fixed delta time.
// Systems define their queries in Start and evaluate them once per tick.
func ExampleScheduler() {
	registry := ecs.NewComponentRegistry()
	ecs.RegisterComponent[Hitpoints](registry)
	world := ecs.NewWorld(registry, nil)

	scheduler := ecs.NewScheduler(world)
	_ = scheduler.Register(&HealingSystem{RegenRate: 10}, 0)

	hitpoints, _ := ecs.NewStore[Hitpoints](world)
	hero := world.Create()
	_ = hitpoints.Add(hero, Hitpoints{Current: 75, Max: 100})

	for i := 0; i < 3; i++ {
		_ = scheduler.Tick(1.0)
		hp, _ := hitpoints.Get(hero)
		fmt.Printf("tick %d: %d/%d\n", i+1, hp.Current, hp.Max)
	}

	// Output:
	// tick 1: 85/100
	// tick 2: 95/100
	// tick 3: 100/100
}
