package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/codec"
	"github.com/hupe1980/quadcache/quadtree"
	"github.com/hupe1980/quadcache/tilekey"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <index-file>",
		Short: "Print the entries of a binary quadtree index.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			x, err := quadtree.Decode(buf)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root %s (quadkey %d) depth %d, %d entries\n", x.Root(), x.Root().QuadKey64(), x.Depth(), x.Len())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TILE\tQUADKEY\tLEVEL\tHANDLE\tVERSION")
			for e := range x.All() {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\n", e.TileKey, e.TileKey.QuadKey64(), e.TileKey.Level(), e.DataHandle, e.Version)
			}
			return tw.Flush()
		},
	}
}

func newEncodeCommand() *cobra.Command {
	var (
		depth     int
		codecName string
	)
	cmd := &cobra.Command{
		Use:   "encode <root-tile> <document.json> <index-file>",
		Short: "Encode a JSON index document into a binary quadtree index.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := tilekey.Parse(args[0])
			if err != nil {
				return err
			}
			cd, ok := codec.ByName(codecName)
			if !ok {
				return fmt.Errorf("unknown codec %q", codecName)
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			doc, err := catalog.ParseIndexDocument(cd, data)
			if err != nil {
				return err
			}
			buf, err := doc.Encode(root, depth)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[2], buf, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(buf), args[2])
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 4, "index depth")
	cmd.Flags().StringVar(&codecName, "codec", codec.Default.Name(), "document codec ("+strings.Join(codec.Names(), ", ")+")")
	return cmd
}
