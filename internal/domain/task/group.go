package task

import (
	"context"
	"fmt"
	"sync"

	"replica/pkg/logger"
)

// Group runs a set of tasks side by side, one per pipeline.
type Group struct {
	log *logger.Logger

	mu    sync.Mutex
	tasks []*Task
	index map[string]*Task
}

// NewGroup creates an empty group.
func NewGroup(log *logger.Logger) *Group {
	return &Group{
		log:   log.WithComponent("task-group"),
		index: make(map[string]*Task),
	}
}

// Add registers t. Names must be unique.
func (g *Group) Add(t *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name())
	}
	g.tasks = append(g.tasks, t)
	g.index[t.Name()] = t
	return nil
}

// Get returns the task named name.
func (g *Group) Get(name string) (*Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.index[name]
	return t, ok
}

// Tasks returns the registered tasks in insertion order.
func (g *Group) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Task(nil), g.tasks...)
}

// Start subscribes every task to its control channel and launches its worker.
func (g *Group) Start(ctx context.Context) error {
	for _, t := range g.Tasks() {
		if err := t.Listen(ctx); err != nil {
			return err
		}
		if err := t.Start(); err != nil {
			return fmt.Errorf("start %s: %w", t.Name(), err)
		}
	}
	g.log.Infow("tasks started", "count", len(g.Tasks()))
	return nil
}

// Wait blocks until every task has finished or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	for _, t := range g.Tasks() {
		if err := t.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Terminate terminates all tasks concurrently and waits for their workers.
func (g *Group) Terminate() {
	var wg sync.WaitGroup
	for _, t := range g.Tasks() {
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			t.Terminate()
		}(t)
	}
	wg.Wait()
	g.log.Infow("tasks terminated")
}

// Infos reports every task by name.
func (g *Group) Infos() map[string]Info {
	tasks := g.Tasks()
	out := make(map[string]Info, len(tasks))
	for _, t := range tasks {
		out[t.Name()] = t.Info()
	}
	return out
}
