package pyramid

import (
	"math"
	"sort"
)

const (
	// BaseFactor is the number of rows folded into one row at each step
	BaseFactor = 4
	// MinSourceRowsPerFactor bounds pyramid depth: a level with factor f is
	// only built beyond the first while f < N/MinSourceRowsPerFactor
	MinSourceRowsPerFactor = 1000
)

// Level is one downsampled copy of a matrix
type Level struct {
	// Factor is the number of source rows aggregated into each row of Data
	Factor int
	Data   *Matrix
}

// Pyramid is an ordered set of levels keyed by reduction factor
type Pyramid struct {
	levels []Level
}

// Len returns the number of levels
func (p *Pyramid) Len() int { return len(p.levels) }

// Levels returns levels in ascending factor order. The slice is a copy; the
// matrices are shared with the pyramid.
func (p *Pyramid) Levels() []Level { return append([]Level(nil), p.levels...) }

// Factors lists every reduction factor, ascending
func (p *Pyramid) Factors() []int {
	fs := make([]int, len(p.levels))
	for i, l := range p.levels {
		fs[i] = l.Factor
	}
	return fs
}

// Level returns the matrix stored under factor f
func (p *Pyramid) Level(f int) (*Matrix, bool) {
	i := sort.Search(len(p.levels), func(i int) bool { return p.levels[i].Factor >= f })
	if i < len(p.levels) && p.levels[i].Factor == f {
		return p.levels[i].Data, true
	}
	return nil, false
}

func (p *Pyramid) add(f int, m *Matrix) {
	p.levels = append(p.levels, Level{Factor: f, Data: m})
}

// Build computes the max-pooling pyramid of m. The first level (factor 4) is
// reduced from m directly, each later level from the level before it, so the
// total work is linear in m.Rows. Levels past the first are only added while
// factor < m.Rows/1000. Fewer than 4 rows yields an empty pyramid.
//
// Aggregation is a column-wise max that ignores NaN; a block with no finite
// value stays NaN.
func Build(m *Matrix) (*Pyramid, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	p := &Pyramid{}
	n := m.Rows
	if n < BaseFactor {
		return p, nil
	}

	factor := BaseFactor
	level := maxPool(m, BaseFactor)
	p.add(factor, level)

	// factor < n/1000, compared exactly in integers
	for factor *= BaseFactor; factor*MinSourceRowsPerFactor < n; factor *= BaseFactor {
		level = maxPool(level, BaseFactor)
		p.add(factor, level)
	}

	return p, nil
}

// maxPool folds every block of `block` consecutive rows of src into one row of
// a freshly allocated matrix. Rows past the end of src read as NaN, so the
// trailing partial block only sees the values that exist.
func maxPool(src *Matrix, block int) *Matrix {
	bins := (src.Rows + block - 1) / block
	cols := src.Cols
	dst := &Matrix{Rows: bins, Cols: cols, Data: make([]float32, bins*cols)}

	nan := float32(math.NaN())
	for i := range dst.Data {
		dst.Data[i] = nan
	}

	for b := 0; b < bins; b++ {
		out := dst.Row(b)
		end := (b + 1) * block
		if end > src.Rows {
			end = src.Rows
		}
		for r := b * block; r < end; r++ {
			for c, v := range src.Row(r) {
				if isNaN(v) {
					continue
				}
				if cur := out[c]; isNaN(cur) || v > cur {
					out[c] = v
				}
			}
		}
	}
	return dst
}
