package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"replica/internal/app"
	"replica/internal/config"
	"replica/internal/domain/schema"
	"replica/pkg/logger"
)

// newRootCmd creates the root replicactl command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "replicactl",
		Short:         "Operate the document to columnar replication",
		Long:          "replicactl controls the producer and consumer tasks, backfills tables\nand rebuilds the replication of collections. Configuration is read from the environment.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newTaskCmd(),
		newLoadCmd(),
		newSyncCmd(),
		newTokenCmd(),
	)
	return cmd
}

// env is the configuration and logger shared by the subcommands.
type env struct {
	cfg *config.Config
	log *logger.Logger
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := app.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &env{cfg: cfg, log: log}, nil
}

// commandContext is cancelled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return app.SignalContext(parent)
}

// splitList parses a comma-separated flag value.
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// resolveCollections picks the collections a load or sync works on. With all
// set it takes every allowed collection minus exclude; otherwise the named
// ones, which must be allowed.
func resolveCollections(cfg *config.Config, all bool, named, exclude string) ([]string, error) {
	allowed := schema.AllowedEntities(cfg.SyncCollections, cfg.ConsumerExclude)
	if all {
		return schema.AllowedEntities(allowed, splitList(exclude)), nil
	}
	names := splitList(named)
	if len(names) == 0 {
		return nil, fmt.Errorf("no collections given, use --collections or --all")
	}
	if err := schema.CheckAllowed(names, allowed); err != nil {
		return nil, err
	}
	return names, nil
}

// confirm asks a yes/no question on in. Anything but y or yes declines.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
