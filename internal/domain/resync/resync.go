// Package resync rebuilds the replication of a set of entities from scratch:
// it clears their state, recreates their topics and backfills their tables
// while the pipelines are paused.
package resync

import (
	"context"
	"fmt"
	"strings"

	"replica/internal/core/kv"
	"replica/internal/domain/loader"
	"replica/internal/domain/producer"
	"replica/internal/domain/schema"
	"replica/internal/domain/task"
	"replica/pkg/logger"
)

// Control drives remote tasks. *task.Client implements it.
type Control interface {
	Ping(ctx context.Context, name string) (bool, error)
	Start(ctx context.Context, name string) (string, error)
	Stop(ctx context.Context, name string) (string, error)
}

// Topics recreates broker topics.
type Topics interface {
	DeleteTopics(ctx context.Context, names ...string) error
	CreateTopicWithConfig(ctx context.Context, name string, config map[string]string) error
}

// Loader backfills one entity.
type Loader interface {
	Load(ctx context.Context, entity string, opts loader.Options) (loader.Result, error)
}

// Schemas resolves entity definitions.
type Schemas interface {
	BySource(entity string) (*schema.Schema, error)
}

// Options controls a resync.
type Options struct {
	// ClearAll wipes the whole state store instead of the entities' keys.
	ClearAll  bool
	BatchSize int
}

// DefaultOptions returns the CLI defaults.
func DefaultOptions() Options {
	return Options{BatchSize: 100000}
}

// Syncer orchestrates a resync.
type Syncer struct {
	state   kv.Store
	control Control
	topics  Topics
	loader  Loader
	schemas Schemas
	log     *logger.Logger
}

// New creates a syncer.
func New(state kv.Store, control Control, topics Topics, l Loader, schemas Schemas, log *logger.Logger) *Syncer {
	return &Syncer{
		state:   state,
		control: control,
		topics:  topics,
		loader:  l,
		schemas: schemas,
		log:     log.WithComponent("resync"),
	}
}

// Sync resynchronises entities. The producer is left running on success;
// consumers that were not reachable are not started.
func (s *Syncer) Sync(ctx context.Context, entities []string, opts Options) error {
	// Resolve every schema up front so a typo fails before anything is torn down.
	schemas := make(map[string]*schema.Schema, len(entities))
	for _, e := range entities {
		sch, err := s.schemas.BySource(e)
		if err != nil {
			return err
		}
		schemas[e] = sch
	}

	if err := s.clear(ctx, entities, opts.ClearAll); err != nil {
		return err
	}

	if err := s.stop(ctx, producer.TaskName); err != nil {
		return fmt.Errorf("stop producer: %w", err)
	}
	for _, e := range entities {
		if err := s.stop(ctx, e); err != nil {
			return fmt.Errorf("stop consumer %s: %w", e, err)
		}
	}

	if err := s.topics.DeleteTopics(ctx, entities...); err != nil {
		return fmt.Errorf("delete topics: %w", err)
	}
	for _, e := range entities {
		if err := s.topics.CreateTopicWithConfig(ctx, e, schemas[e].TopicConfig); err != nil {
			return fmt.Errorf("create topic %s: %w", e, err)
		}
		s.log.Infow("topic created", "topic", e)
	}

	status, err := s.control.Start(ctx, producer.TaskName)
	if err != nil {
		return fmt.Errorf("start producer: %w", err)
	}
	if status != task.StatusActive.String() {
		return fmt.Errorf("start producer: reported %s", status)
	}
	s.log.Infow("producer started")

	for _, e := range entities {
		res, err := s.loader.Load(ctx, e, loader.Options{BatchSize: opts.BatchSize, StoreTick: true})
		if err != nil {
			return fmt.Errorf("load %s: %w", e, err)
		}
		s.log.Infow("existing data loaded", "entity", e, "rows", res.Loaded)
		s.start(ctx, e)
	}
	return nil
}

func (s *Syncer) clear(ctx context.Context, entities []string, all bool) error {
	if all {
		keys, err := s.state.Keys(ctx, "")
		if err != nil {
			return fmt.Errorf("list state keys: %w", err)
		}
		if err := s.state.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
		s.log.Infow("state store cleared", "keys", len(keys))
		return nil
	}

	for _, e := range entities {
		keys, err := s.state.Keys(ctx, e+":")
		if err != nil {
			return fmt.Errorf("list keys of %s: %w", e, err)
		}
		// The status key is owned by the running task.
		keep := kv.StatusKey(e)
		drop := keys[:0]
		for _, k := range keys {
			if k != keep {
				drop = append(drop, k)
			}
		}
		if err := s.state.Delete(ctx, drop...); err != nil {
			return fmt.Errorf("clear keys of %s: %w", e, err)
		}
		s.log.Infow("entity state cleared", "entity", e, "keys", strings.Join(drop, ","))
	}
	return nil
}

// stop stops a task if it answers. A task that does not answer is not running.
func (s *Syncer) stop(ctx context.Context, name string) error {
	alive, err := s.control.Ping(ctx, name)
	if err != nil {
		return err
	}
	if !alive {
		s.log.Infow("task not active", "task", name)
		return nil
	}
	status, err := s.control.Stop(ctx, name)
	if err != nil {
		return err
	}
	if status != task.StatusInactive.String() {
		return fmt.Errorf("task reported %s", status)
	}
	s.log.Infow("task stopped", "task", name)
	return nil
}

func (s *Syncer) start(ctx context.Context, name string) {
	alive, err := s.control.Ping(ctx, name)
	if err != nil || !alive {
		s.log.Warnw("consumer not reachable, start it manually", "task", name, "error", err)
		return
	}
	status, err := s.control.Start(ctx, name)
	if err != nil || status != task.StatusActive.String() {
		s.log.Errorw("unable to start consumer", "task", name, "status", status, "error", err)
		return
	}
	s.log.Infow("consumer started", "task", name)
}
