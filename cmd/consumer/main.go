// Package main runs the consumer service: one supervised pipeline per
// replicated entity, plus the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"replica/internal/app"
	"replica/internal/config"
	"replica/internal/domain/auth"
	"replica/internal/domain/consumer"
	"replica/internal/domain/schema"
	"replica/internal/domain/task"
	"replica/internal/domain/transform"
	"replica/internal/infrastructure/codec"
	v1 "replica/internal/infrastructure/http/v1"
	"replica/internal/infrastructure/http/v1/handlers"
	"replica/internal/infrastructure/kafka"
	"replica/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "consumer: %v\n", err)
		os.Exit(1)
	}
}

// run starts consumers for the entities named in args, or for every allowed
// entity when args is empty.
func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	for _, check := range []func() error{cfg.RequireBroker, cfg.RequireState, cfg.RequireTarget, cfg.RequireCollections} {
		if err := check(); err != nil {
			return err
		}
	}

	allowed := schema.AllowedEntities(cfg.SyncCollections, cfg.ConsumerExclude)
	entities := allowed
	if len(args) > 0 {
		if err := schema.CheckAllowed(args, allowed); err != nil {
			return err
		}
		entities = args
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	log.Infow("starting consumers", "entities", entities)

	casters := transform.DefaultCasters()
	registry, err := app.Schemas(cfg, casters, entities)
	if err != nil {
		return err
	}
	watcher := schema.NewWatcher(cfg.SchemaDir, cfg.Target.Database, registry, log)
	if err := watcher.Start(ctx); err != nil {
		log.Warnw("schema hot reload disabled", "error", err)
	}
	defer watcher.Stop()

	sink, err := app.NewDocumentSink(cfg)
	if err != nil {
		return err
	}

	state, err := app.OpenState(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer state.Close()

	target, closeTarget, err := app.OpenTarget(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTarget()

	valueCodec, err := app.Codec(cfg)
	if err != nil {
		return err
	}
	defer valueCodec.Close()

	transformer := transform.New(casters)
	group := task.NewGroup(log)
	for _, entity := range entities {
		worker := consumerWorker(cfg, entity, target, registry, transformer, state, sink, valueCodec, log)
		if err := group.Add(task.New(app.TaskOptions(cfg, entity, worker, state, log))); err != nil {
			return err
		}
	}
	if err := group.Start(ctx); err != nil {
		group.Terminate()
		return err
	}

	routerCfg := v1.RouterConfig{
		Logger: log,
		Tasks:  group,
		Checks: map[string]handlers.Check{
			"state":  state.Ping,
			"target": target.Ping,
		},
	}
	if cfg.AdminJWTSecret != "" {
		routerCfg.Tokens = auth.NewTokenService(auth.DefaultConfig(cfg.AdminJWTSecret))
	} else {
		log.Warnw("ADMIN_JWT_SECRET not set, admin API is unauthenticated")
	}
	server := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      v1.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
	go func() {
		log.Infow("admin API listening", "addr", cfg.AdminAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("admin API failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down consumers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("admin API forced to shutdown", "error", err)
	}
	group.Terminate()

	log.Info("consumers stopped")
	return nil
}

// consumerWorker builds a fresh broker handle for every run, since a run
// closes its handle on exit.
func consumerWorker(
	cfg *config.Config,
	entity string,
	target app.Target,
	registry *schema.Registry,
	transformer *transform.Transformer,
	state *app.State,
	sink consumer.ErrorSink,
	valueCodec *codec.Codec,
	log *logger.Logger,
) task.Worker {
	ccfg := consumer.DefaultConfig(entity)
	ccfg.PollTimeout = cfg.Kafka.PollTimeout
	ccfg.MaxRecords = cfg.Kafka.MaxRecords
	ccfg.Idle = cfg.ConsumerIdle

	return func(ctx context.Context) error {
		broker, err := kafka.NewConsumer(app.Broker(cfg), entity, entity, valueCodec, log)
		if err != nil {
			return err
		}
		err = consumer.New(ccfg, broker, target, registry, transformer, state.KV, sink, log).Run(ctx)
		if consumer.IsConfigError(err) {
			log.Errorw("consumer cannot start, fix the schema and it is picked up on restart",
				"entity", entity, "schema_dir", cfg.SchemaDir, "error", err)
		}
		return err
	}
}
