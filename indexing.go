package zarr

import (
	"strconv"
	"strings"
)

// GridShape is the number of chunks along each dimension,
// ceil(shape[i] / chunks[i])
func GridShape(shape, chunks []int) []int {
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

// ChunkKey names the chunk at the given grid coordinates, eg. [1 4] with
// separator "." is "1.4"
func ChunkKey(coords []int, sep string) string {
	if len(coords) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, c := range coords {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.Itoa(c))
	}
	return sb.String()
}

// rowProjection maps one chunk along the row axis onto a row window of the
// output
type rowProjection struct {
	// Index of the chunk along axis 0
	ChunkIX int
	// First row within the chunk to copy
	ChunkStart int
	// Number of rows to copy
	Rows int
	// First row of the output receiving them
	OutStart int
}

// projectRows lists the row chunks that intersect [start, stop)
func projectRows(start, stop, chunkRows int) []rowProjection {
	if stop <= start {
		return nil
	}
	var ps []rowProjection
	for ix := start / chunkRows; ix*chunkRows < stop; ix++ {
		lo, hi := ix*chunkRows, (ix+1)*chunkRows
		if lo < start {
			lo = start
		}
		if hi > stop {
			hi = stop
		}
		ps = append(ps, rowProjection{
			ChunkIX:    ix,
			ChunkStart: lo - ix*chunkRows,
			Rows:       hi - lo,
			OutStart:   lo - start,
		})
	}
	return ps
}
