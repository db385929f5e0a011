// Package app wires configuration into the components shared by the
// producer, consumer and operator binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"replica/internal/config"
	"replica/internal/core/kv"
	"replica/internal/core/pubsub"
	"replica/internal/domain/consumer"
	"replica/internal/domain/loader"
	"replica/internal/domain/schema"
	"replica/internal/domain/task"
	"replica/internal/domain/transform"
	"replica/internal/infrastructure/alert"
	"replica/internal/infrastructure/arango"
	"replica/internal/infrastructure/codec"
	"replica/internal/infrastructure/kafka"
	"replica/internal/infrastructure/memory"
	"replica/internal/infrastructure/storage/clickhouse"
	"replica/internal/infrastructure/storage/duckdb"
	"replica/internal/infrastructure/storage/postgres"
	"replica/pkg/logger"
)

// NewLogger builds the process logger.
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
}

// NewDocumentSink returns the sink for rejected documents, backed by the
// document error log.
func NewDocumentSink(cfg *config.Config) (*consumer.LogSink, error) {
	log, err := logger.NewFile(cfg.DocumentErrorLog(), "error")
	if err != nil {
		return nil, fmt.Errorf("open document error log: %w", err)
	}
	return consumer.NewLogSink(log), nil
}

// State is the key-value store and control bus of the process.
type State struct {
	KV    kv.Store
	Bus   pubsub.Bus
	ping  func(ctx context.Context) error
	close func()
}

// Ping checks the state backend.
func (s *State) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the backend.
func (s *State) Close() {
	s.close()
}

// OpenState opens the configured state backend and prepares its table.
func OpenState(ctx context.Context, cfg *config.Config, log *logger.Logger) (*State, error) {
	if cfg.State.Backend == config.StateBackendMemory {
		log.Warnw("using in-process state, positions and control are not shared between processes")
		return &State{
			KV:    memory.NewKV(),
			Bus:   memory.NewBus(),
			ping:  func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.State.DatabaseURL))
	if err != nil {
		return nil, err
	}
	store := postgres.NewKVStore(postgres.NewTxManager(pool), postgres.DefaultStateTable)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &State{
		KV:    store,
		Bus:   postgres.NewNotifyBus(pool, log),
		ping:  pool.Ping,
		close: pool.Close,
	}, nil
}

// Target is a columnar store usable by both the consumers and the loader.
type Target interface {
	consumer.Target
	loader.Target
	Ping(ctx context.Context) error
}

var (
	_ Target = (*clickhouse.Store)(nil)
	_ Target = (*duckdb.Store)(nil)
)

// OpenTarget opens the configured target store. The returned func closes it.
func OpenTarget(ctx context.Context, cfg *config.Config, log *logger.Logger) (Target, func(), error) {
	switch cfg.Target.Driver {
	case config.TargetDuckDB:
		store, err := duckdb.Open(ctx, duckdb.Config{
			Path:      cfg.Target.DSN,
			Schema:    cfg.Target.Database,
			BatchSize: cfg.Target.BatchSize,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		chCfg := clickhouse.DefaultConfig(cfg.Target.DSN, cfg.Target.Database)
		chCfg.BatchSize = cfg.Target.BatchSize
		store, err := clickhouse.Open(ctx, chCfg, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// Schemas loads the definitions of entities.
func Schemas(cfg *config.Config, casters *transform.Casters, entities []string) (*schema.Registry, error) {
	return schema.LoadDir(cfg.SchemaDir, cfg.Target.Database, entities, casters)
}

// Source creates the source database client.
func Source(cfg *config.Config, log *logger.Logger) *arango.Client {
	c := arango.DefaultConfig()
	c.URL = cfg.Arango.URL
	c.Database = cfg.Arango.Database
	c.User = cfg.Arango.User
	c.Password = cfg.Arango.Password
	c.ServerID = cfg.Arango.ServerID
	c.RateLimit = cfg.Arango.RateLimit
	return arango.New(c, log)
}

// Broker returns the broker client settings.
func Broker(cfg *config.Config) kafka.Config {
	k := kafka.DefaultConfig()
	k.Brokers = cfg.Kafka.Brokers
	k.Compression = cfg.Kafka.Compression
	return k
}

// Codec creates the message value codec.
func Codec(cfg *config.Config) (*codec.Codec, error) {
	return codec.New(codec.Compression(cfg.Kafka.ValueCodec), codec.DefaultThreshold)
}

// Policy returns the restart policy.
func Policy(cfg *config.Config) task.Policy {
	return task.Policy{
		MaxRestarts:  cfg.MaxRestarts,
		MinUpTime:    cfg.MinUpTime,
		RestartDelay: cfg.RestartDelay,
	}
}

// TaskOptions returns supervisor options for a task named name.
func TaskOptions(cfg *config.Config, name string, worker task.Worker, state *State, log *logger.Logger) task.Options {
	onFailure, onTerminate := alert.Hooks(alert.NewLogNotifier(log))
	return task.Options{
		Name:        name,
		Worker:      worker,
		Policy:      Policy(cfg),
		OnFailure:   onFailure,
		OnTerminate: onTerminate,
		Bus:         state.Bus,
		Statuses:    state.KV,
		Logger:      log,
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
