package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"replica/internal/app"
	"replica/internal/domain/loader"
	"replica/internal/domain/transform"
)

type loadFlags struct {
	all         bool
	exclude     string
	collections string
	storeTick   bool
	batchSize   int
	yes         bool
}

// newLoadCmd creates the "replicactl load" subcommand.
func newLoadCmd() *cobra.Command {
	var f loadFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Rebuild target tables from a full scan of their collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			for _, check := range []func() error{e.cfg.RequireSource, e.cfg.RequireTarget, e.cfg.RequireState} {
				if err := check(); err != nil {
					return err
				}
			}
			collections, err := resolveCollections(e.cfg, f.all, f.collections, f.exclude)
			if err != nil {
				return err
			}
			if !f.yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "target tables will be re-created with new data, continue?") {
				return fmt.Errorf("aborted")
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			state, err := app.OpenState(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer state.Close()

			l, closeTarget, err := newLoader(ctx, e, collections, state)
			if err != nil {
				return err
			}
			defer closeTarget()

			results, err := l.LoadAll(ctx, collections, loader.Options{BatchSize: f.batchSize, StoreTick: f.storeTick})
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %d rows loaded, %d rejected, %d filtered in %s\n",
					r.Entity, r.Table, r.Loaded, r.Rejected, r.Filtered, r.Duration.Round(time.Millisecond))
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&f.all, "all", "a", false, "load all replicated collections")
	cmd.Flags().StringVarP(&f.exclude, "exclude", "e", "", "comma separated collections to skip with --all")
	cmd.Flags().StringVarP(&f.collections, "collections", "c", "", "comma separated collections to load")
	cmd.Flags().BoolVar(&f.storeTick, "store-tick", false, "store the current log tick as the consumers' resume tick")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", loader.DefaultOptions().BatchSize, "documents per page and insert")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// newLoader wires a loader for collections on state. The returned func
// closes the target store.
func newLoader(ctx context.Context, e *env, collections []string, state *app.State) (*loader.Loader, func(), error) {
	casters := transform.DefaultCasters()
	registry, err := app.Schemas(e.cfg, casters, collections)
	if err != nil {
		return nil, nil, err
	}
	sink, err := app.NewDocumentSink(e.cfg)
	if err != nil {
		return nil, nil, err
	}

	target, closeTarget, err := app.OpenTarget(ctx, e.cfg, e.log)
	if err != nil {
		return nil, nil, err
	}

	source := app.Source(e.cfg, e.log)
	l := loader.New(source, source, target, registry, transform.New(casters), state.KV, sink, e.log)
	return l, closeTarget, nil
}
