package cli

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	zarr "github.com/figpack/zarr-go"
	"github.com/figpack/zarr-go/pyramid"
	"github.com/figpack/zarr-go/view"
)

type buildOpts struct {
	cols       int
	out        string
	path       string
	startTime  float64
	rate       float64
	observed   string
	gridStart  float64
	gridStep   float64
	chunkBytes float64
	compressor string
	force      bool
}

func (a *app) newBuildCmd() *cobra.Command {
	opts := buildOpts{}
	cmd := &cobra.Command{
		Use:   "build INPUT",
		Short: "Write a LinearDecode group with downsampled levels from raw float32 data",
		Long: `build reads INPUT as little-endian float32 values laid out row by row,
one row per timepoint and --cols values per row, and writes it to --out together
with max-pooled pyramid levels at factors 4, 16, 64, ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBuild(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.cols, "cols", 0, "values per timepoint (required)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output store directory (required); an existing group at --path is replaced")
	cmd.Flags().StringVar(&opts.path, "path", "", "group path within the store")
	cmd.Flags().Float64Var(&opts.startTime, "start-time", 0, "time of the first row in seconds")
	cmd.Flags().Float64Var(&opts.rate, "rate", 1, "sampling frequency in Hz")
	cmd.Flags().StringVar(&opts.observed, "observed", "", "raw float32 file of observed positions, one per timepoint")
	cmd.Flags().Float64Var(&opts.gridStart, "grid-start", 0, "position of the first column")
	cmd.Flags().Float64Var(&opts.gridStep, "grid-step", 1, "position spacing between columns")
	cmd.Flags().Float64Var(&opts.chunkBytes, "chunk-bytes", 0, "target chunk size in bytes (overrides config)")
	cmd.Flags().StringVar(&opts.compressor, "compressor", "", "zstd, gzip or none (overrides config)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "replace whatever is stored under --path, even if it is not a zarr group")
	cmd.MarkFlagRequired("cols")
	cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, input string, opts buildOpts) error {
	logger := loggerFromContext(cmd.Context())

	cfg := a.cfg
	if opts.chunkBytes != 0 {
		cfg.TargetChunkBytes = opts.chunkBytes
	}
	if opts.compressor != "" {
		cfg.Compressor = opts.compressor
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	vopts, err := cfg.viewOptions()
	if err != nil {
		return err
	}

	if opts.cols < 1 {
		return fmt.Errorf("--cols must be at least 1, got %d", opts.cols)
	}
	values, err := readFloat32File(input)
	if err != nil {
		return err
	}
	if len(values)%opts.cols != 0 {
		return fmt.Errorf("%s holds %d values, not a multiple of %d columns", input, len(values), opts.cols)
	}
	m, err := pyramid.NewMatrix(len(values)/opts.cols, opts.cols, values)
	if err != nil {
		return err
	}
	logger.Debug("read input", "file", input, "rows", m.Rows, "cols", m.Cols, "size", humanize.Bytes(uint64(len(values)*pyramid.Float32Size)))

	v := &view.LinearDecode{
		StartTimeSec:        opts.startTime,
		SamplingFrequencyHz: opts.rate,
		Data:                m,
		PositionGrid:        make([]float32, m.Cols),
	}
	for i := range v.PositionGrid {
		v.PositionGrid[i] = float32(opts.gridStart + float64(i)*opts.gridStep)
	}
	if opts.observed != "" {
		if v.ObservedPositions, err = readFloat32File(opts.observed); err != nil {
			return err
		}
	}

	store, closeStore, err := openStore(cfg.Store, opts.out)
	if err != nil {
		return err
	}
	defer closeStore()

	if !opts.force {
		if err := checkReplaceable(store, opts.path); err != nil {
			return fmt.Errorf("%s: %w", opts.out, err)
		}
	}

	prog := newProgress(logger)
	sum, err := v.Write(store, opts.path, vopts)
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Stored data with %d downsampled levels", len(sum.Factors)))

	for _, as := range sum.Arrays {
		logger.Info(as.Name,
			"shape", as.Shape,
			"chunks", as.Chunks,
			"chunk_size", humanize.Bytes(uint64(as.ChunkBytes())),
			"factor", as.Factor)
	}
	return closeStore()
}

// checkReplaceable refuses to overwrite keys under path unless they already
// form a zarr group. Writing a group clears everything beneath it.
func checkReplaceable(store zarr.Store, path string) error {
	p, err := zarr.NewPath(path)
	if err != nil {
		return err
	}
	prefix := ""
	if len(p) > 0 {
		prefix = p.String() + "/"
	}
	keys, err := store.Keys(prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	isGroup, err := zarr.Exists(store, p.Join(string(zarr.MTGroup)).String())
	if err != nil || isGroup {
		return err
	}
	return fmt.Errorf("%d existing entries under %q are not a zarr group, pass --force to replace them", len(keys), "/"+p.String())
}

func readFloat32File(path string) ([]float32, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(d)%pyramid.Float32Size != 0 {
		return nil, fmt.Errorf("%s is %d bytes, not a whole number of float32 values", path, len(d))
	}
	vals := make([]float32, len(d)/pyramid.Float32Size)
	if err := binary.Read(bytes.NewReader(d), binary.LittleEndian, vals); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return vals, nil
}
