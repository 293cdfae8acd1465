package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/pkg/profile"
	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/internal/config"
	"github.com/plus3/bitwise/internal/logging"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/physics/chipmunk"
	"github.com/plus3/bitwise/physics/physicstest"
	"go.uber.org/zap"
)

// churn replaces a fixed number of physics entities every tick through the
// deferred command buffer, so the physics system sees bodies enter and leave
// its query on every frame.
type churn struct {
	rate int
	ids  []ecs.EntityId
	rng  *rand.Rand

	transform, collider, rigidBody ecs.ComponentId
	spawned, destroyed             int
}

func (c *churn) Name() string {
	return "churn"
}

func (c *churn) Update(frame *ecs.UpdateFrame) error {
	n := min(c.rate, len(c.ids))
	for _, id := range c.ids[:n] {
		frame.Commands.Destroy(id)
	}
	c.ids = c.ids[n:]
	c.destroyed += n

	for range c.rate {
		frame.Commands.Spawn(c.components(), func(id ecs.EntityId) {
			c.ids = append(c.ids, id)
		})
		c.spawned++
	}
	return nil
}

func (c *churn) components() map[ecs.ComponentId]ecs.Record {
	collider := ecs.Record{"kind": physics.ColliderBox, "sx": float32(1), "sy": float32(1), "sz": float32(1)}
	if c.rng.Intn(2) == 0 {
		collider = ecs.Record{"kind": physics.ColliderCircle, "radius": float32(0.5)}
	}
	return map[ecs.ComponentId]ecs.Record{
		c.transform: {
			"x":  float32(c.rng.Float64()*200 - 100),
			"y":  float32(c.rng.Float64() * 100),
			"rw": float32(1),
			"sx": float32(1), "sy": float32(1), "sz": float32(1),
		},
		c.collider: collider,
		c.rigidBody: {
			"mass": float32(1 + c.rng.Intn(5)),
			"vx":   float32(c.rng.Float64()*2 - 1),
		},
	}
}

// liveBodies counts the bodies a backend still holds.
func liveBodies(backend physics.Backend) int {
	switch b := backend.(type) {
	case *physicstest.Backend:
		return b.Live()
	case *chipmunk.Backend:
		return b.Len()
	}
	return -1
}

func main() {
	duration := flag.Duration("duration", 10*time.Second, "The total duration the test should run for.")
	entityCount := flag.Int("entities", 10000, "The initial number of physics entities to create.")
	churnRate := flag.Int("churn", 100, "Entities destroyed and spawned every tick.")
	backendName := flag.String("backend", "chipmunk", "Physics backend: chipmunk or memory.")
	substeps := flag.Int("substeps", physics.DefaultConfig().Substeps, "Physics substeps per tick.")
	gcPauseMetrics := flag.Bool("gc-pause-metrics", false, "Enable detailed GC pause metrics in the report.")
	profileMode := flag.String("profile", "", "Write a cpu or mem profile to the working directory.")
	flag.Parse()

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		log.Fatalf("unknown profile mode %q", *profileMode)
	}

	logger, err := logging.New(config.LoggingConfig{Level: "warn", Format: "console"})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	var backend physics.Backend
	switch *backendName {
	case "chipmunk":
		backend = chipmunk.New(0)
	case "memory":
		backend = physicstest.New()
	default:
		log.Fatalf("unknown backend %q", *backendName)
	}

	log.Println("Starting physics stress test...")

	// 1. Setup Registry, World, and Scheduler
	registry := ecs.NewComponentRegistry()
	components := physics.Register(registry)
	world := ecs.NewWorld(registry, logger)
	scheduler := ecs.NewScheduler(world)

	spawner := &churn{
		rate:      *churnRate,
		rng:       rand.New(rand.NewSource(1)),
		transform: components.Transform,
		collider:  components.Collider,
		rigidBody: components.RigidBody,
	}
	system := physics.New(backend, physics.Config{Gravity: physics.Vec3{Y: -10}, Substeps: *substeps}, logger)
	must(scheduler.Register(spawner, 0))
	must(scheduler.Register(system, 100))
	must(scheduler.Start())

	// 2. Populate the world with initial entities
	log.Printf("Populating world with %d entities...\n", *entityCount)
	for range *entityCount {
		id := world.Create()
		for cid, rec := range spawner.components() {
			must(world.Add(id, cid, rec))
		}
		spawner.ids = append(spawner.ids, id)
	}
	log.Println("Population complete.")

	// 3. Run the simulation loop
	report := &Report{
		Duration:       *duration,
		Entities:       *entityCount,
		Churn:          *churnRate,
		Backend:        *backendName,
		Substeps:       *substeps,
		GCPauseMetrics: *gcPauseMetrics,
		UpdateTime: Stats{
			Samples: make([]time.Duration, 0),
		},
	}

	runtime.ReadMemStats(&report.MemStatsStart)

	log.Printf("Running simulation for %s...\n", *duration)
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	startTime := time.Now()
	var totalUpdates int64
	lastFrameTime := time.Now()

Loop:
	for {
		select {
		case <-ctx.Done():
			break Loop
		default:
			deltaTime := time.Since(lastFrameTime)
			lastFrameTime = time.Now()

			updateStart := time.Now()
			if err := scheduler.Tick(float64(deltaTime) / float64(time.Second)); err != nil {
				report.TickErrors++
			}
			updateDuration := time.Since(updateStart)

			report.UpdateTime.Samples = append(report.UpdateTime.Samples, updateDuration)
			totalUpdates++
		}
	}

	report.TotalTime = time.Since(startTime)
	report.TotalUpdates = totalUpdates
	report.UpdateTime.Finalize()
	runtime.ReadMemStats(&report.MemStatsEnd)

	// One quiet tick binds the entities spawned by the last flush.
	spawner.rate = 0
	if err := scheduler.Tick(0); err != nil {
		report.TickErrors++
	}

	report.Spawned = spawner.spawned
	report.Destroyed = spawner.destroyed
	report.LiveEntities = world.Len()
	report.BoundBodies = system.Len()
	report.BackendBodies = liveBodies(backend)

	must(scheduler.Close())
	report.BodiesAfterClose = liveBodies(backend)

	log.Println("Simulation finished.")

	// 4. Generate Report to Console
	fmt.Println("\n\n--- Stress Test Report ---")
	if err := report.Generate(os.Stdout); err != nil {
		log.Fatalf("Failed to generate report: %v", err)
	}
	fmt.Println("--- End of Report ---")

	if report.Leaked() {
		logger.Error("physics bodies leaked",
			zap.Int("entities", report.LiveEntities),
			zap.Int("bound", report.BoundBodies),
			zap.Int("backend", report.BackendBodies),
			zap.Int("after_close", report.BodiesAfterClose))
		os.Exit(1)
	}
	log.Println("Stress test complete.")
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
