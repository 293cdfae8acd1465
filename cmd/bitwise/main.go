package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/internal/config"
	"github.com/plus3/bitwise/internal/logging"
	"github.com/plus3/bitwise/persist"
	"github.com/plus3/bitwise/physics"
	"github.com/plus3/bitwise/project"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", os.Getenv("BITWISE_CONFIG"), "Path to a TOML config file.")
	profileMode := flag.String("profile", "", "Write a cpu or mem profile to the working directory.")
	list := flag.Bool("list", false, "List saved snapshots and exit.")
	flag.Parse()

	// 1. Load config
	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if flag.NArg() > 0 {
		cfg.Project.Dir = flag.Arg(0)
	}

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("unknown profile mode %q", *profileMode)
	}

	// 2. Init logger
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Open the project and the snapshot store
	backend, err := project.NewDirBackend(cfg.Project.Dir, log)
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, backend, log)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer closeStore()

	if *list {
		names, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("list snapshots: %w", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	// 4. Build the project
	loader := project.NewLoader(backend, project.Options{
		Physics:    physics.Config{Substeps: cfg.Sim.Substeps},
		Iterations: cfg.Sim.Iterations,
	}, log)
	reloader := project.NewReloader(loader, cfg.Reload.Debounce, log)
	defer func() {
		if err := reloader.Close(); err != nil {
			log.Warn("closing scene failed", zap.Error(err))
		}
	}()

	rt, err := reloader.Load(ctx)
	if err != nil {
		return fmt.Errorf("build project: %w", err)
	}

	if cfg.Snapshot.Restore {
		if err := restore(ctx, rt, store, cfg.Snapshot.Name, log); err != nil {
			return err
		}
	}

	var triggers <-chan struct{}
	if cfg.Reload.Enabled {
		if triggers, err = reloader.Watch(ctx); err != nil {
			return fmt.Errorf("watch project: %w", err)
		}
	}

	// 5. Simulate
	err = simulate(ctx, cfg, reloader, store, triggers, log)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if rt := reloader.Current(); rt != nil {
		if serr := save(saveCtx, rt, store, cfg.Snapshot.Name, log); serr != nil {
			log.Error("final save failed", zap.Error(serr))
		}
	} else if snap := reloader.Pending(); snap != nil {
		// The last reload failed to build; keep the scene it froze.
		if serr := store.Save(saveCtx, cfg.Snapshot.Name, snap); serr != nil {
			log.Error("final save failed", zap.Error(serr))
		}
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config, backend *project.DirBackend, log *zap.Logger) (persist.Store, func(), error) {
	if cfg.Snapshot.Store != "postgres" {
		return persist.NewFileStore(backend, log), func() {}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(dbCtx, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	if err := persist.RunMigrations(dbCtx, db.Pool); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return persist.NewPGStore(db, log), db.Close, nil
}

func restore(ctx context.Context, rt *project.Runtime, store persist.Store, name string, log *zap.Logger) error {
	snap, err := store.Load(ctx, name)
	if errors.Is(err, ecs.ErrNotFound) {
		log.Info("no snapshot to restore", zap.String("snapshot", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", name, err)
	}
	if err := rt.Scene.Thaw(snap); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", name, err)
	}
	log.Info("snapshot restored",
		zap.String("snapshot", name),
		zap.Int("entities", rt.Scene.World().Len()))
	return nil
}

func save(ctx context.Context, rt *project.Runtime, store persist.Store, name string, log *zap.Logger) error {
	snap, err := rt.Scene.Freeze()
	if err != nil {
		return fmt.Errorf("freeze scene: %w", err)
	}
	if err := store.Save(ctx, name, snap); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	log.Debug("snapshot saved", zap.String("snapshot", name), zap.Int("entities", len(snap.Entities)))
	return nil
}

// simulate ticks the current scene at the configured rate until ctx is done
// or MaxTicks is reached. A failed reload pauses the simulation until a
// later change builds again.
func simulate(ctx context.Context, cfg *config.Config, reloader *project.Reloader, store persist.Store, triggers <-chan struct{}, log *zap.Logger) error {
	ticker := time.NewTicker(cfg.Sim.TickRate)
	defer ticker.Stop()

	var autosave <-chan time.Time
	if cfg.Snapshot.Autosave > 0 {
		t := time.NewTicker(cfg.Snapshot.Autosave)
		defer t.Stop()
		autosave = t.C
	}

	dt := cfg.Sim.TickRate.Seconds()
	var ticks uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			if _, err := reloader.Reload(ctx); err != nil {
				log.Error("reload failed", zap.Error(err))
			}

		case <-autosave:
			if rt := reloader.Current(); rt != nil {
				if err := save(ctx, rt, store, cfg.Snapshot.Name, log); err != nil {
					log.Error("autosave failed", zap.Error(err))
				}
			}

		case <-ticker.C:
			rt := reloader.Current()
			if rt == nil {
				continue
			}
			// Failures are logged by the scheduler and do not stop the loop.
			_ = rt.Scene.Update(dt)
			ticks++
			if cfg.Sim.MaxTicks > 0 && ticks >= cfg.Sim.MaxTicks {
				log.Info("tick limit reached", zap.Uint64("ticks", ticks))
				return nil
			}
		}
	}
}
