package pyramid

import (
	"fmt"
	"math"
	"math/bits"
)

const (
	// DefaultTargetChunkBytes is the per-chunk budget used by DefaultChunkShape
	DefaultTargetChunkBytes = 5 * 1024 * 1024
	// Float32Size is the byte width of one stored element
	Float32Size = 4
)

// DefaultChunkShape plans a float32 chunk of about 5 MiB
func DefaultChunkShape(shape [2]int) ([2]int, error) {
	return PlanChunkShape(shape, DefaultTargetChunkBytes, Float32Size)
}

// PlanChunkShape picks a chunk shape for a (rows, cols) array. Columns are
// always stored whole; the row count is the largest power of two whose chunk
// fits in targetBytes, never less than one row and never more than the array
// holds. An array with zero rows gets a zero-row chunk.
func PlanChunkShape(shape [2]int, targetBytes float64, bytesPerElement int) ([2]int, error) {
	rows, cols := shape[0], shape[1]
	switch {
	case rows < 0 || cols < 0:
		return [2]int{}, fmt.Errorf("%w: negative shape %v", ErrInvalidConfig, shape)
	case cols == 0:
		return [2]int{}, fmt.Errorf("%w: cannot plan chunks for zero columns", ErrInvalidConfig)
	case !(targetBytes > 0) || math.IsInf(targetBytes, 1):
		return [2]int{}, fmt.Errorf("%w: target chunk size must be positive and finite, got %v", ErrInvalidConfig, targetBytes)
	case bytesPerElement <= 0:
		return [2]int{}, fmt.Errorf("%w: bytes per element must be positive, got %d", ErrInvalidConfig, bytesPerElement)
	}

	rowBytes := float64(cols) * float64(bytesPerElement)
	maxRows := uint64(0)
	if q := math.Floor(targetBytes / rowBytes); q >= 1 {
		if q > 1<<62 {
			q = 1 << 62
		}
		maxRows = uint64(q)
	}

	chunkRows := floorPow2(maxRows)
	if chunkRows < 1 {
		chunkRows = 1
	}
	if chunkRows > uint64(rows) {
		chunkRows = floorPow2(uint64(rows))
	}

	return [2]int{int(chunkRows), cols}, nil
}

// floorPow2 returns the largest power of two <= n, or 0 for n == 0
func floorPow2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return 1 << (bits.Len64(n) - 1)
}
