package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"replica/internal/app"
	"replica/internal/domain/resync"
	"replica/internal/domain/task"
	"replica/internal/domain/transform"
	"replica/internal/infrastructure/kafka"
)

// newSyncCmd creates the "replicactl sync" subcommand.
func newSyncCmd() *cobra.Command {
	var (
		collections string
		clearAll    bool
		batchSize   int
		yes         bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the replication of collections from scratch",
		Long: "sync stops the producer and the collections' consumers, recreates their topics,\n" +
			"restarts the producer, reloads the tables and starts the consumers again.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			for _, check := range []func() error{e.cfg.RequireSource, e.cfg.RequireBroker, e.cfg.RequireTarget, e.cfg.RequireState} {
				if err := check(); err != nil {
					return err
				}
			}
			names, err := resolveCollections(e.cfg, false, collections, "")
			if err != nil {
				return err
			}
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "topics and tables of the collections will be re-created, continue?") {
				return fmt.Errorf("aborted")
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			registry, err := app.Schemas(e.cfg, transform.DefaultCasters(), names)
			if err != nil {
				return err
			}
			state, err := app.OpenState(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer state.Close()

			l, closeTarget, err := newLoader(ctx, e, names, state)
			if err != nil {
				return err
			}
			defer closeTarget()

			admin, err := kafka.NewAdmin(app.Broker(e.cfg))
			if err != nil {
				return err
			}
			defer admin.Close()

			client := task.NewClient(state.Bus, state.KV, task.DefaultTimeouts())
			syncer := resync.New(state.KV, client, admin, l, registry, e.log)
			if err := syncer.Sync(ctx, names, resync.Options{ClearAll: clearAll, BatchSize: batchSize}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synchronized: %v\n", names)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collections, "collections", "c", "", "comma separated collections to resync")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "wipe the whole state store instead of the collections' keys")
	cmd.Flags().IntVar(&batchSize, "batch-size", resync.DefaultOptions().BatchSize, "documents per page and insert while reloading")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
