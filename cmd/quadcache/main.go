// Command quadcache inspects quadtree indexes and warms a local cache from
// a blob-backed catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quadcache",
		Short: "Quadtree tile cache tooling.",
		Long: `Quadtree tile cache tooling.

Client settings are read from QUADCACHE_* environment variables. The catalog
source is a local directory, s3://bucket/prefix or minio://host:port/bucket/prefix.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newInspectCommand(),
		newEncodeCommand(),
		newPrefetchTilesCommand(),
		newPrefetchPartitionsCommand(),
	)
	return cmd
}
