package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	zarr "github.com/figpack/zarr-go"
)

func (a *app) newConsolidateCmd() *cobra.Command {
	var (
		maxSize int64
		noPack  bool
	)
	cmd := &cobra.Command{
		Use:   "consolidate DIR",
		Short: "Write .zmetadata and pack chunks into consolidated data files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			if !cmd.Flags().Changed("max-file-size") {
				maxSize = a.cfg.MaxConsolidatedFileSize
			}

			store, closeStore, err := openStore(a.cfg.Store, args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			prog := newProgress(logger)
			cm, err := zarr.ConsolidateMetadata(store)
			if err != nil {
				return err
			}
			prog.done(fmt.Sprintf("Consolidated %d metadata documents", len(cm.Metadata)))
			if noPack {
				return closeStore()
			}

			prog = newProgress(logger)
			if cm, err = zarr.PackChunks(store, maxSize); err != nil {
				return err
			}
			files := map[string]int64{}
			for _, r := range cm.Refs {
				files[r.File] += r.Length
			}
			prog.done(fmt.Sprintf("Packed %d chunks into %d files", len(cm.Refs), len(files)))
			for f, n := range files {
				logger.Debug("pack", "file", f, "size", humanize.Bytes(uint64(n)))
			}
			return closeStore()
		},
	}
	cmd.Flags().Int64Var(&maxSize, "max-file-size", zarr.DefaultMaxPackSize, "maximum bytes per consolidated data file")
	cmd.Flags().BoolVar(&noPack, "no-pack", false, "only write .zmetadata")
	return cmd
}
