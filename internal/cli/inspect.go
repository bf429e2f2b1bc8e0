package cli

import (
	"fmt"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	zarr "github.com/figpack/zarr-go"
	"github.com/figpack/zarr-go/pyramid"
)

func (a *app) newInspectCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "inspect DIR",
		Short: "List the arrays and pyramid levels in a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInspect(cmd, args[0], prefix)
		},
	}
	cmd.Flags().StringVar(&prefix, "path", "", "only list keys under this group path")
	return cmd
}

func (a *app) runInspect(cmd *cobra.Command, dir, prefix string) error {
	base, closeStore, err := openStore(a.cfg.Store, dir)
	if err != nil {
		return err
	}
	defer closeStore()

	store, err := zarr.NewRefStore(base)
	if err != nil {
		return err
	}

	p, err := zarr.NewPath(prefix)
	if err != nil {
		return err
	}
	keyPrefix := ""
	if len(p) > 0 {
		keyPrefix = p.String() + "/"
	}
	keys, err := store.Keys(keyPrefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARRAY\tSHAPE\tCHUNKS\tCHUNK SIZE\tCOMPRESSOR")
	arrays := 0
	for _, key := range keys {
		if path.Base(key) != string(zarr.MTArray) {
			continue
		}
		arrPath := strings.TrimSuffix(strings.TrimSuffix(key, string(zarr.MTArray)), "/")
		arr, err := zarr.Open(store, arrPath, zarr.ModeRead)
		if err != nil {
			return err
		}
		meta := arr.Meta()
		chunkBytes := uint64(pyramid.Float32Size)
		for _, c := range meta.Chunks {
			chunkBytes *= uint64(c)
		}
		comp := "none"
		if meta.Compressor != nil {
			comp = meta.Compressor.ID
		}
		fmt.Fprintf(tw, "%s\t%v\t%v\t%s\t%s\n", arrPath, meta.Shape, meta.Chunks, humanize.Bytes(chunkBytes), comp)
		arrays++
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, key := range keys {
		if path.Base(key) != string(zarr.MTAttributes) {
			continue
		}
		grpPath := strings.TrimSuffix(strings.TrimSuffix(key, string(zarr.MTAttributes)), "/")
		g, err := zarr.OpenGroup(store, grpPath, zarr.ModeRead)
		if err != nil {
			continue
		}
		attrs, err := g.Attrs()
		if err != nil {
			return err
		}
		if f, ok := attrs["downsample_factors"]; ok {
			name := grpPath
			if name == "" {
				name = "/"
			}
			fmt.Fprintf(out, "%s downsample_factors: %v\n", name, f)
		}
	}

	loggerFromContext(cmd.Context()).Debug("inspected store", "dir", dir, "store", store.Type(), "arrays", arrays)
	return nil
}
