package ecs

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SchedulerStats provides statistics about scheduler execution.
type SchedulerStats struct {
	SystemCount     int
	TotalExecutions int64
	TotalFailures   int64
	Systems         []SystemStats
}

// SystemStats provides execution statistics for a single system.
type SystemStats struct {
	Name           string
	Order          int
	ExecutionCount int64
	FailureCount   int64
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgDuration    time.Duration
	LastDuration   time.Duration
	TotalDuration  time.Duration
}

type systemStatsInternal struct {
	executionCount int64
	failureCount   int64
	minDuration    time.Duration
	maxDuration    time.Duration
	totalDuration  time.Duration
	lastDuration   time.Duration
}

type scheduledSystem struct {
	system System
	name   string
	order  int
	seq    int
	stats  systemStatsInternal
}

// Scheduler runs systems against one World in a fixed order: ascending order
// value, then registration order.
type Scheduler struct {
	world    *World
	systems  []*scheduledSystem
	commands *Commands
	nextSeq  int
	started  bool
}

// NewScheduler creates a new scheduler for the given world.
func NewScheduler(world *World) *Scheduler {
	return &Scheduler{
		world:    world,
		systems:  make([]*scheduledSystem, 0),
		commands: NewCommands(),
	}
}

// SystemName returns the name a system is scheduled under.
func SystemName(system System) string {
	if named, ok := system.(Named); ok {
		return named.Name()
	}
	systemType := reflect.TypeOf(system)
	if systemType.Kind() == reflect.Ptr {
		systemType = systemType.Elem()
	}
	return systemType.Name()
}

// Register adds a system at the given order. Systems registered after Start
// are started immediately.
func (s *Scheduler) Register(system System, order int) error {
	entry := &scheduledSystem{
		system: system,
		name:   SystemName(system),
		order:  order,
		seq:    s.nextSeq,
		stats: systemStatsInternal{
			minDuration: time.Duration(1<<63 - 1),
		},
	}
	s.nextSeq++

	if s.started {
		if err := s.start(entry); err != nil {
			return err
		}
	}

	s.systems = append(s.systems, entry)
	sort.SliceStable(s.systems, func(i, j int) bool {
		a, b := s.systems[i], s.systems[j]
		if a.order != b.order {
			return a.order < b.order
		}
		return a.seq < b.seq
	})
	return nil
}

func (s *Scheduler) start(entry *scheduledSystem) error {
	starter, ok := entry.system.(Starter)
	if !ok {
		return nil
	}
	if err := starter.Start(s.world); err != nil {
		return eris.Wrapf(err, "start system %s", entry.name)
	}
	return nil
}

// Start invokes Start on every system that implements Starter, in schedule
// order. The first failure aborts.
func (s *Scheduler) Start() error {
	if s.started {
		return nil
	}
	for _, entry := range s.systems {
		if err := s.start(entry); err != nil {
			return err
		}
	}
	s.started = true
	return nil
}

// Started reports whether Start completed.
func (s *Scheduler) Started() bool {
	return s.started
}

// World returns the world the scheduler drives.
func (s *Scheduler) World() *World {
	return s.world
}

// Commands returns the deferred command buffer flushed at the end of each tick.
func (s *Scheduler) Commands() *Commands {
	return s.commands
}

// Systems returns the registered systems in schedule order.
func (s *Scheduler) Systems() []System {
	systems := make([]System, len(s.systems))
	for i, entry := range s.systems {
		systems[i] = entry.system
	}
	return systems
}

// Lookup finds a system by its scheduled name.
func (s *Scheduler) Lookup(name string) (System, bool) {
	for _, entry := range s.systems {
		if entry.name == name {
			return entry.system, true
		}
	}
	return nil, false
}

// Tick advances the world by one frame and updates every system with the
// given delta time. A system that fails or panics is logged and skipped for
// this tick; the remaining systems still run. The returned error joins every
// failure of the tick.
func (s *Scheduler) Tick(dt float64) error {
	if err := s.Start(); err != nil {
		return err
	}

	frame := &UpdateFrame{
		DeltaTime: dt,
		Frame:     s.world.Advance(),
		World:     s.world,
		Commands:  s.commands,
		Log:       s.world.log,
	}

	var errs []error
	for _, entry := range s.systems {
		start := time.Now()
		err := s.update(entry, frame)
		duration := time.Since(start)

		stats := &entry.stats
		stats.executionCount++
		stats.lastDuration = duration
		stats.totalDuration += duration

		if duration < stats.minDuration {
			stats.minDuration = duration
		}
		if duration > stats.maxDuration {
			stats.maxDuration = duration
		}

		if err != nil {
			stats.failureCount++
			s.world.log.Error("system update failed",
				zap.String("system", entry.name),
				zap.Uint64("frame", frame.Frame),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if err := s.commands.Flush(s.world); err != nil {
		s.world.log.Error("deferred commands failed", zap.Uint64("frame", frame.Frame), zap.Error(err))
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Scheduler) update(entry *scheduledSystem, frame *UpdateFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("system %s panicked: %v", entry.name, r)
		}
	}()
	if err := entry.system.Update(frame); err != nil {
		return eris.Wrapf(err, "system %s", entry.name)
	}
	return nil
}

// Run ticks all systems repeatedly at the given interval until the context is
// cancelled. Tick failures are already logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now
			_ = s.Tick(dt)
		}
	}
}

// Close closes every system implementing Closer in reverse schedule order.
func (s *Scheduler) Close() error {
	var errs []error
	for i := len(s.systems) - 1; i >= 0; i-- {
		entry := s.systems[i]
		closer, ok := entry.system.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, eris.Wrapf(err, "close system %s", entry.name))
		}
	}
	return errors.Join(errs...)
}

// GetStats returns statistics about system execution.
func (s *Scheduler) GetStats() *SchedulerStats {
	stats := &SchedulerStats{
		SystemCount: len(s.systems),
		Systems:     make([]SystemStats, len(s.systems)),
	}

	for i, entry := range s.systems {
		internal := entry.stats
		avgDuration := time.Duration(0)
		minDuration := internal.minDuration
		if internal.executionCount > 0 {
			avgDuration = internal.totalDuration / time.Duration(internal.executionCount)
		} else {
			minDuration = 0
		}

		stats.Systems[i] = SystemStats{
			Name:           entry.name,
			Order:          entry.order,
			ExecutionCount: internal.executionCount,
			FailureCount:   internal.failureCount,
			MinDuration:    minDuration,
			MaxDuration:    internal.maxDuration,
			AvgDuration:    avgDuration,
			LastDuration:   internal.lastDuration,
			TotalDuration:  internal.totalDuration,
		}
		stats.TotalExecutions += internal.executionCount
		stats.TotalFailures += internal.failureCount
	}

	return stats
}
