package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/quadcache"
	"github.com/hupe1980/quadcache/tilekey"
)

func progressPrinter(w io.Writer) quadcache.ProgressFunc {
	return func(s quadcache.PrefetchStatus) {
		fmt.Fprintf(w, "\r%d/%d items, %d bytes", s.PrefetchedItems, s.TotalItems, s.BytesTransferred)
	}
}

func newPrefetchTilesCommand() *cobra.Command {
	var (
		flags      clientFlags
		minLevel   int
		maxLevel   int
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "prefetch-tiles <tile>...",
		Short: "Cache the indexes and data of tiles.",
		Long: `Cache the indexes and data of tiles.

Tiles are given as numeric quadkeys. With --min-level
and --max-level every ancestor and descendant of the tiles in that range is
cached as well. A single level flag selects just that level.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]tilekey.TileKey, 0, len(args))
			for _, arg := range args {
				k, err := tilekey.Parse(arg)
				if err != nil {
					return err
				}
				keys = append(keys, k)
			}

			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.Close()

			req := quadcache.PrefetchTilesRequest{TileKeys: keys}
			minSet, maxSet := cmd.Flags().Changed("min-level"), cmd.Flags().Changed("max-level")
			switch {
			case minSet && !maxSet:
				maxLevel = minLevel
			case maxSet && !minSet:
				minLevel = maxLevel
			}
			if minSet || maxSet {
				req.Levels = &quadcache.LevelRange{Min: minLevel, Max: maxLevel}
			}
			if !noProgress {
				req.Progress = progressPrinter(cmd.ErrOrStderr())
			}

			res, err := s.client.PrefetchTiles(cmd.Context(), req)
			if !noProgress {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, t := range res.Tiles {
				if t.Err != nil {
					fmt.Fprintf(out, "%s\tfailed: %v\n", t.Key, t.Err)
					continue
				}
				fmt.Fprintf(out, "%s\tcached\n", t.Key)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&minLevel, "min-level", 0, "lowest level to prefetch")
	cmd.Flags().IntVar(&maxLevel, "max-level", 0, "highest level to prefetch, defaults to --min-level")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not print progress")
	return cmd
}

func newPrefetchPartitionsCommand() *cobra.Command {
	var (
		flags      clientFlags
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "prefetch-partitions <id>...",
		Short: "Cache the metadata and data of partitions.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.Close()

			req := quadcache.PrefetchPartitionsRequest{PartitionIDs: args}
			if !noProgress {
				req.Progress = progressPrinter(cmd.ErrOrStderr())
			}
			res, err := s.client.PrefetchPartitions(cmd.Context(), req)
			if !noProgress {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d partitions cached\n", len(res.PartitionIDs), len(args))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not print progress")
	return cmd
}
