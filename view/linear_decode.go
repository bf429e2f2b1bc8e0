package view

import (
	"errors"
	"fmt"

	zarr "github.com/figpack/zarr-go"
	"github.com/figpack/zarr-go/pyramid"
)

// ErrInvalidView is returned when view inputs don't describe a drawable figure
var ErrInvalidView = errors.New("invalid view")

// 1-D arrays are stored in chunks of at most 1Mi elements
const vectorChunk = 1024 * 1024

// LinearDecode is a time x position heatmap of decoded position likelihood,
// optionally overlaid with the observed position at each timepoint
type LinearDecode struct {
	StartTimeSec        float64
	SamplingFrequencyHz float64
	// Data holds one row per timepoint and one column per grid position
	Data *pyramid.Matrix
	// ObservedPositions has one entry per timepoint, or is nil
	ObservedPositions []float32
	// PositionGrid gives the position of each Data column
	PositionGrid []float32
}

func (v *LinearDecode) Validate() error {
	if v.Data == nil {
		return fmt.Errorf("%w: no data", ErrInvalidView)
	}
	if _, err := pyramid.NewMatrix(v.Data.Rows, v.Data.Cols, v.Data.Data); err != nil {
		return err
	}
	if !(v.SamplingFrequencyHz > 0) {
		return fmt.Errorf("%w: sampling frequency must be positive, got %v", ErrInvalidView, v.SamplingFrequencyHz)
	}
	if v.ObservedPositions != nil && len(v.ObservedPositions) != v.Data.Rows {
		return fmt.Errorf("%w: %d observed positions for %d timepoints", ErrInvalidView, len(v.ObservedPositions), v.Data.Rows)
	}
	if len(v.PositionGrid) != v.Data.Cols {
		return fmt.Errorf("%w: position grid has %d entries for %d positions", ErrInvalidView, len(v.PositionGrid), v.Data.Cols)
	}
	return nil
}

// Write stores the view as a group at path
func (v *LinearDecode) Write(store zarr.Store, path string, opts Options) (*Summary, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	sum, err := WriteDownsampled(store, path, v.Data, opts)
	if err != nil {
		return nil, err
	}

	g, err := zarr.OpenGroup(store, path, zarr.ModeReadWrite)
	if err != nil {
		return nil, err
	}
	err = g.UpdateAttrs(zarr.Attributes{
		"view_type":             "experimental.LinearDecode",
		"start_time_sec":        v.StartTimeSec,
		"sampling_frequency_hz": v.SamplingFrequencyHz,
	})
	if err != nil {
		return nil, err
	}

	if v.ObservedPositions != nil {
		as, err := writeVector(g, "observed_positions", v.ObservedPositions, opts)
		if err != nil {
			return nil, err
		}
		sum.Arrays = append(sum.Arrays, as)
	}
	as, err := writeVector(g, "position_grid", v.PositionGrid, opts)
	if err != nil {
		return nil, err
	}
	sum.Arrays = append(sum.Arrays, as)

	return sum, nil
}
