// Package main runs the producer service: it tails the source log and
// publishes changes of the watched collections to the broker.
package main

import (
	"context"
	"fmt"
	"os"

	"replica/internal/app"
	"replica/internal/config"
	"replica/internal/domain/producer"
	"replica/internal/domain/task"
	"replica/internal/infrastructure/kafka"
	"replica/internal/infrastructure/storage/tickfile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "producer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	for _, check := range []func() error{cfg.RequireSource, cfg.RequireBroker, cfg.RequireState, cfg.RequireCollections} {
		if err := check(); err != nil {
			return err
		}
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	log.Infow("starting producer", "collections", cfg.SyncCollections)

	state, err := app.OpenState(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer state.Close()

	valueCodec, err := app.Codec(cfg)
	if err != nil {
		return err
	}
	defer valueCodec.Close()

	publisher, err := kafka.NewProducer(app.Broker(cfg), valueCodec, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	mirror, err := tickfile.Open(cfg.TickFile)
	if err != nil {
		return err
	}
	defer mirror.Close()

	pcfg := producer.DefaultConfig()
	pcfg.Watch = cfg.SyncCollections
	pcfg.ChunkSize = cfg.Arango.ChunkSize
	pcfg.Idle = cfg.ProducerIdle
	p := producer.New(pcfg, app.Source(cfg, log), publisher, state.KV, mirror, log)

	t := task.New(app.TaskOptions(cfg, producer.TaskName, p.Run, state, log))
	if err := t.Listen(ctx); err != nil {
		return err
	}
	if err := t.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down producer...")
	case <-t.Done():
		log.Warnw("producer task finished", "status", t.Status().String(), "error", t.LastError())
	}
	t.Terminate()

	log.Info("producer stopped")
	return nil
}
