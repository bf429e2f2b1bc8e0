package cli

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"

	zarr "github.com/figpack/zarr-go"
	"github.com/figpack/zarr-go/pyramid"
	"github.com/figpack/zarr-go/view"
)

const (
	storeLocal  = "local"
	storeBadger = "badger"
)

// Config holds defaults read from a TOML file. Command flags override it.
//
//	target_chunk_bytes = 5242880
//	compressor = "zstd"            # zstd, gzip or none
//	max_consolidated_file_size = 100000000
//	store = "local"                # local or badger
type Config struct {
	TargetChunkBytes        float64 `toml:"target_chunk_bytes"`
	Compressor              string  `toml:"compressor"`
	MaxConsolidatedFileSize int64   `toml:"max_consolidated_file_size"`
	Store                   string  `toml:"store"`
}

func defaultConfig() Config {
	return Config{
		TargetChunkBytes:        pyramid.DefaultTargetChunkBytes,
		Compressor:              "zstd",
		MaxConsolidatedFileSize: zarr.DefaultMaxPackSize,
		Store:                   storeLocal,
	}
}

// loadConfig overlays the file at path onto the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if !(c.TargetChunkBytes > 0) {
		return fmt.Errorf("target_chunk_bytes must be positive, got %v", c.TargetChunkBytes)
	}
	if c.MaxConsolidatedFileSize <= 0 {
		return fmt.Errorf("max_consolidated_file_size must be positive, got %d", c.MaxConsolidatedFileSize)
	}
	if _, err := zarr.ParseCompressor(c.Compressor); err != nil {
		return err
	}
	switch c.Store {
	case storeLocal, storeBadger:
		return nil
	}
	return fmt.Errorf("unknown store %q, want %q or %q", c.Store, storeLocal, storeBadger)
}

func (c Config) viewOptions() (view.Options, error) {
	comp, err := zarr.ParseCompressor(c.Compressor)
	if err != nil {
		return view.Options{}, err
	}
	return view.Options{TargetChunkBytes: c.TargetChunkBytes, Compressor: comp}, nil
}

// openStore opens dir as the configured store kind. The returned close func
// must always be called and is safe to call more than once.
func openStore(kind, dir string) (zarr.Store, func() error, error) {
	switch kind {
	case storeLocal:
		s, err := zarr.NewLocalStore(dir)
		return s, func() error { return nil }, err
	case storeBadger:
		s, err := zarr.NewBadgerStore(dir)
		if err != nil {
			return nil, func() error { return nil }, err
		}
		var once sync.Once
		var closeErr error
		return s, func() error {
			once.Do(func() { closeErr = s.Close() })
			return closeErr
		}, nil
	}
	return nil, func() error { return nil }, fmt.Errorf("unknown store %q", kind)
}
