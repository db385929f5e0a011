package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	Config            map[string]string
}

// Admin manages topics.
type Admin struct {
	a       *kafka.AdminClient
	timeout int
	// pollInterval is the pause between metadata checks while waiting for deletions.
	pollInterval time.Duration
}

// NewAdmin connects an admin client.
func NewAdmin(cfg Config) (*Admin, error) {
	a, err := kafka.NewAdminClient(cfg.adminConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka admin: %w", err)
	}
	return &Admin{a: a, timeout: cfg.timeoutMs(), pollInterval: time.Second}, nil
}

// Topics lists the topic names of the cluster.
func (a *Admin) Topics(context.Context) ([]string, error) {
	md, err := a.a.GetMetadata(nil, true, a.timeout)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	names := make([]string, 0, len(md.Topics))
	for name := range md.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateTopic creates a topic. An existing topic is not an error.
func (a *Admin) CreateTopic(ctx context.Context, spec TopicSpec) error {
	if spec.Partitions <= 0 {
		spec.Partitions = 1
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	results, err := a.a.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             spec.Name,
		NumPartitions:     spec.Partitions,
		ReplicationFactor: spec.ReplicationFactor,
		Config:            spec.Config,
	}})
	if err != nil {
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	}
	return resultError("create topic", results, kafka.ErrTopicAlreadyExists)
}

// CreateTopicWithConfig creates a single-partition topic carrying config.
func (a *Admin) CreateTopicWithConfig(ctx context.Context, name string, config map[string]string) error {
	return a.CreateTopic(ctx, TopicSpec{Name: name, Config: config})
}

// DeleteTopics deletes the existing topics among names and waits until the
// cluster no longer lists them.
func (a *Admin) DeleteTopics(ctx context.Context, names ...string) error {
	existing, err := a.Topics(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, n := range existing {
		present[n] = true
	}
	var targets []string
	for _, n := range names {
		if present[n] {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	results, err := a.a.DeleteTopics(ctx, targets)
	if err != nil {
		return fmt.Errorf("delete topics: %w", err)
	}
	if err := resultError("delete topic", results, kafka.ErrUnknownTopicOrPart); err != nil {
		return err
	}
	return a.waitGone(ctx, targets)
}

func (a *Admin) waitGone(ctx context.Context, names []string) error {
	for {
		existing, err := a.Topics(ctx)
		if err != nil {
			return err
		}
		if !containsAny(existing, names) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for topic deletion: %w", ctx.Err())
		case <-time.After(a.pollInterval):
		}
	}
}

func containsAny(haystack, needles []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, h := range haystack {
		set[h] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

// resultError returns the first per-topic failure, ignoring the tolerated code.
func resultError(op string, results []kafka.TopicResult, tolerated kafka.ErrorCode) error {
	for _, r := range results {
		code := r.Error.Code()
		if code == kafka.ErrNoError || code == tolerated {
			continue
		}
		return fmt.Errorf("%s %s: %w", op, r.Topic, r.Error)
	}
	return nil
}

// Close releases the client.
func (a *Admin) Close() {
	a.a.Close()
}
