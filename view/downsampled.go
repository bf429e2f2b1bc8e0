// Package view writes time-indexed figure data into a zarr hierarchy along
// with the max-pooled pyramid levels a viewer zooms through.
package view

import (
	"fmt"
	"math"

	zarr "github.com/figpack/zarr-go"
	"github.com/figpack/zarr-go/pyramid"
)

// Options controls how arrays are chunked and compressed
type Options struct {
	// TargetChunkBytes is the per-chunk budget handed to the chunk planner
	TargetChunkBytes float64
	// Compressor encodes every chunk. nil stores raw chunks.
	Compressor *zarr.CompressionMeta
}

// DefaultOptions targets 5 MiB zstd chunks
func DefaultOptions() Options {
	return Options{
		TargetChunkBytes: pyramid.DefaultTargetChunkBytes,
		Compressor:       zarr.Zstd(),
	}
}

// ArraySummary describes one array written to the store
type ArraySummary struct {
	Name   string
	Shape  []int
	Chunks []int
	// Factor is the reduction factor of a pyramid level, 1 for source data
	// and 0 for arrays that are not time x position data
	Factor int
}

// ChunkBytes is the uncompressed size of one chunk
func (s ArraySummary) ChunkBytes() int64 {
	n := int64(pyramid.Float32Size)
	for _, c := range s.Chunks {
		n *= int64(c)
	}
	return n
}

// Summary lists what a write produced
type Summary struct {
	Path    string
	Factors []int
	Arrays  []ArraySummary
}

// LevelName is the array name of the pyramid level with reduction factor f
func LevelName(f int) string { return fmt.Sprintf("data_ds_%d", f) }

// WriteDownsampled replaces the group at path with m stored as "data", one
// "data_ds_{f}" array per pyramid level and these attributes:
//
//	n_timepoints, n_positions   shape of m
//	data_min, data_max          NaN-aware range of m, null when m has no values
//	downsample_factors          ascending factors of the stored levels
func WriteDownsampled(store zarr.Store, path string, m *pyramid.Matrix, opts Options) (*Summary, error) {
	p, err := pyramid.Build(m)
	if err != nil {
		return nil, err
	}

	g, err := zarr.CreateGroup(store, path, zarr.ModeWrite)
	if err != nil {
		return nil, err
	}

	lo, hi := pyramid.Range(m)
	err = g.UpdateAttrs(zarr.Attributes{
		"n_timepoints":       m.Rows,
		"n_positions":        m.Cols,
		"data_min":           jsonFloat(lo),
		"data_max":           jsonFloat(hi),
		"downsample_factors": p.Factors(),
	})
	if err != nil {
		return nil, err
	}

	sum := &Summary{Path: g.Path(), Factors: p.Factors()}
	as, err := writeMatrix(g, "data", m, opts)
	if err != nil {
		return nil, err
	}
	as.Factor = 1
	sum.Arrays = append(sum.Arrays, as)

	for _, l := range p.Levels() {
		as, err := writeMatrix(g, LevelName(l.Factor), l.Data, opts)
		if err != nil {
			return nil, err
		}
		as.Factor = l.Factor
		sum.Arrays = append(sum.Arrays, as)
	}

	return sum, nil
}

func writeMatrix(g *zarr.Group, name string, m *pyramid.Matrix, opts Options) (ArraySummary, error) {
	chunks, err := pyramid.PlanChunkShape(m.Shape(), opts.TargetChunkBytes, pyramid.Float32Size)
	if err != nil {
		return ArraySummary{}, fmt.Errorf("planning chunks for %s: %w", name, err)
	}
	// zarr chunks must be positive even for an empty array
	if chunks[0] == 0 {
		chunks[0] = 1
	}

	a, err := g.CreateArray(name, zarr.NewFloat32Meta([]int{m.Rows, m.Cols}, chunks[:], opts.Compressor))
	if err != nil {
		return ArraySummary{}, err
	}
	if err := a.WriteFloat32(m.Data); err != nil {
		return ArraySummary{}, fmt.Errorf("writing %s: %w", name, err)
	}
	return ArraySummary{Name: name, Shape: a.Shape(), Chunks: a.Chunks()}, nil
}

func writeVector(g *zarr.Group, name string, v []float32, opts Options) (ArraySummary, error) {
	chunk := min(len(v), vectorChunk)
	if chunk == 0 {
		chunk = 1
	}
	a, err := g.CreateArray(name, zarr.NewFloat32Meta([]int{len(v)}, []int{chunk}, opts.Compressor))
	if err != nil {
		return ArraySummary{}, err
	}
	if err := a.WriteFloat32(v); err != nil {
		return ArraySummary{}, fmt.Errorf("writing %s: %w", name, err)
	}
	return ArraySummary{Name: name, Shape: a.Shape(), Chunks: a.Chunks()}, nil
}

// JSON has no NaN
func jsonFloat(v float32) interface{} {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return nil
	}
	return float64(v)
}
