package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"replica/internal/app"
	"replica/internal/domain/producer"
	"replica/internal/domain/schema"
	"replica/internal/domain/task"
)

// newTaskCmd creates the "replicactl task" command group.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and control running tasks",
	}

	var names string
	cmd.PersistentFlags().StringVarP(&names, "collections", "c", "", "comma separated task names (collections or \"producer\")")

	cmd.AddCommand(
		newTaskStatusCmd(&names),
		newTaskActionCmd("info", "Show restart statistics of tasks", &names, taskInfo),
		newTaskActionCmd("ping", "Check that tasks answer", &names, taskPing),
		newTaskActionCmd("start", "Start tasks", &names, taskControl((*task.Client).Start)),
		newTaskActionCmd("stop", "Stop tasks", &names, taskControl((*task.Client).Stop)),
		newTaskActionCmd("restart", "Restart tasks", &names, taskControl((*task.Client).Restart)),
	)
	return cmd
}

// taskNames returns the named tasks, or the producer and every allowed
// consumer when none are named.
func taskNames(e *env, named string) []string {
	if names := splitList(named); len(names) > 0 {
		return names
	}
	allowed := schema.AllowedEntities(e.cfg.SyncCollections, e.cfg.ConsumerExclude)
	return append([]string{producer.TaskName}, allowed...)
}

func newTaskStatusCmd(names *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored status of tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if err := e.cfg.RequireState(); err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			state, err := app.OpenState(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer state.Close()

			client := task.NewClient(state.Bus, state.KV, task.DefaultTimeouts())
			var rows [][]string
			for _, name := range taskNames(e, *names) {
				status, ok, err := client.Status(ctx, name)
				if err != nil {
					return err
				}
				if !ok {
					status = "UNKNOWN"
				}
				rows = append(rows, []string{name, status})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"task", "status"}, rows, 1))
			return nil
		},
	}
}

type taskAction func(ctx context.Context, client *task.Client, name string, out io.Writer) error

func newTaskActionCmd(use, short string, names *string, action taskAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if err := e.cfg.RequireState(); err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			state, err := app.OpenState(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer state.Close()

			client := task.NewClient(state.Bus, state.KV, task.DefaultTimeouts())
			for _, name := range taskNames(e, *names) {
				if err := action(ctx, client, name, cmd.OutOrStdout()); err != nil {
					return fmt.Errorf("%s %s: %w", use, name, err)
				}
			}
			return nil
		},
	}
}

func taskInfo(ctx context.Context, client *task.Client, name string, out io.Writer) error {
	info, err := client.Info(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderInfo(name, info))
	return nil
}

func taskPing(ctx context.Context, client *task.Client, name string, out io.Writer) error {
	ok, err := client.Ping(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "%s: OK\n", name)
	} else {
		fmt.Fprintf(out, "%s: no response\n", name)
	}
	return nil
}

func taskControl(op func(*task.Client, context.Context, string) (string, error)) taskAction {
	return func(ctx context.Context, client *task.Client, name string, out io.Writer) error {
		status, err := op(client, ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", name, status)
		return nil
	}
}
