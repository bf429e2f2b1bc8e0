// Package cli implements the zpyramid command-line interface.
//
// The commands turn raw time x position float32 data into a zarr hierarchy
// with max-pooled pyramid levels, inspect and consolidate such hierarchies,
// and serve them to a browser viewer:
//   - build: write a LinearDecode group from a raw little-endian float32 file
//   - inspect: list arrays, shapes, chunks and downsample factors
//   - consolidate: write .zmetadata and pack chunks into a few large files
//   - serve: expose a store over HTTP
//
// All commands accept --verbose (-v) for debug logging and --config for a
// TOML file of defaults.
package cli

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  string
)

// SetVersion records build information shown by --version
func SetVersion(v, c string) {
	version = v
	commit = c
}

// app carries settings resolved before any subcommand runs
type app struct {
	verbose    bool
	configPath string
	storeKind  string
	cfg        Config
}

// NewRootCmd assembles the command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "zpyramid",
		Short:        "Build multi-resolution zarr pyramids for time series figures",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := charmlog.InfoLevel
			if a.verbose {
				level = charmlog.DebugLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), level)
			cmd.SetContext(withLogger(cmd.Context(), logger))

			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.Store = a.storeKind
				if err := cfg.validate(); err != nil {
					return err
				}
			}
			a.cfg = cfg
			logger.Debug("config loaded", "path", a.configPath, "store", cfg.Store, "compressor", cfg.Compressor)
			return nil
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("zpyramid %s\ncommit: %s\n", version, commit))
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "TOML file of default settings")
	root.PersistentFlags().StringVar(&a.storeKind, "store", storeLocal, "store backend: local or badger")

	root.AddCommand(a.newBuildCmd())
	root.AddCommand(a.newInspectCmd())
	root.AddCommand(a.newConsolidateCmd())
	root.AddCommand(a.newServeCmd())

	return root
}

// Execute runs the CLI with os.Args
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

