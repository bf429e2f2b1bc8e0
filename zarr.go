package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

var (
	// ErrReadOnly is returned for writes through a handle opened with ModeRead
	ErrReadOnly = errors.New("read only")
	// ErrExists is returned when ModeWriteFail finds existing data
	ErrExists = errors.New("already exists")
)

type PersistenceMode string

const (
	// Persistence mode:
	// 'r' means read only (must exist);
	ModeRead PersistenceMode = "r"
	// 'r+' means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// 'a' means read/write (create if doesn't exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// 'w' means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// 'w-' means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

func (m PersistenceMode) writable() bool { return m != ModeRead }

// Array is a handle on a rank 1 or 2 float32 array in a Store
type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
}

// Create writes array metadata to path and returns a handle on the new
// array. ModeWrite removes anything previously stored under path.
func Create(store Store, path string, meta *ArrayMeta, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}

	metaKey := p.Join(string(MTArray)).String()
	exists, err := Exists(store, metaKey)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeRead, ModeReadWrite:
		return nil, fmt.Errorf("cannot create array %q in mode %q", p, mode)
	case ModeWriteFail:
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrExists, metaKey)
		}
	case ModeWrite:
		if err := deletePrefix(store, p); err != nil {
			return nil, err
		}
	case ModeReadWriteCreate:
	default:
		return nil, fmt.Errorf("unknown persistence mode %q", mode)
	}

	if err := putJSON(store, metaKey, meta); err != nil {
		return nil, err
	}

	return &Array{path: p, store: store, mode: mode, meta: meta}, nil
}

func Open(store Store, path string, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	a := &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  &ArrayMeta{},
	}

	if err := getJSON(store, p.Join(string(MTArray)).String(), a.meta); err != nil {
		return nil, err
	}
	if err := a.meta.validate(); err != nil {
		return nil, fmt.Errorf("opening %q: %w", p, err)
	}

	return a, nil
}

func (a *Array) Info() string {
	return fmt.Sprintf("<zarr-go.Array %q shape=%v chunks=%v dtype=%s>", a.path, a.meta.Shape, a.meta.Chunks, a.meta.Dtype)
}

func (a *Array) Path() string { return a.path.String() }

// Meta returns the array's metadata. Callers must not modify it.
func (a *Array) Meta() *ArrayMeta { return a.meta }

func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

func (a *Array) Chunks() []int { return append([]int(nil), a.meta.Chunks...) }

// dims views the array as rows x cols; rank 1 arrays are a single column
func (a *Array) dims() (rows, cols, chunkRows, chunkCols int) {
	rows, chunkRows = a.meta.Shape[0], a.meta.Chunks[0]
	cols, chunkCols = 1, 1
	if len(a.meta.Shape) == 2 {
		cols, chunkCols = a.meta.Shape[1], a.meta.Chunks[1]
	}
	return rows, cols, chunkRows, chunkCols
}

func (a *Array) chunkKey(ri, ci int) string {
	coords := []int{ri}
	if len(a.meta.Shape) == 2 {
		coords = append(coords, ci)
	}
	return a.path.Join(ChunkKey(coords, a.meta.separator())).String()
}

// WriteFloat32 stores data, a C-ordered buffer covering the whole array.
// Edge chunks are written at full chunk size, padded with the fill value.
func (a *Array) WriteFloat32(data []float32) error {
	if !a.mode.writable() {
		return fmt.Errorf("%w: %s", ErrReadOnly, a.path)
	}
	rows, cols, chunkRows, chunkCols := a.dims()
	if len(data) != rows*cols {
		return fmt.Errorf("%w: %d values do not fill shape %v", ErrInvalidMeta, len(data), a.meta.Shape)
	}

	fill := a.fillValue()
	grid := GridShape([]int{rows, cols}, []int{chunkRows, chunkCols})
	buf := make([]float32, chunkRows*chunkCols)
	for ri := 0; ri < grid[0]; ri++ {
		for ci := 0; ci < grid[1]; ci++ {
			for i := range buf {
				buf[i] = fill
			}
			r0, c0 := ri*chunkRows, ci*chunkCols
			nr, nc := min(chunkRows, rows-r0), min(chunkCols, cols-c0)
			for r := 0; r < nr; r++ {
				src := data[(r0+r)*cols+c0 : (r0+r)*cols+c0+nc]
				copy(buf[r*chunkCols:], src)
			}
			if err := a.writeChunk(a.chunkKey(ri, ci), buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Array) writeChunk(key string, vals []float32) error {
	var raw bytes.Buffer
	raw.Grow(len(vals) * a.meta.Dtype.ByteSize)
	if err := binary.Write(&raw, a.meta.Dtype.Order(), vals); err != nil {
		return fmt.Errorf("encoding chunk %s: %w", key, err)
	}
	enc, err := a.meta.Compressor.Encode(raw.Bytes())
	if err != nil {
		return fmt.Errorf("compressing chunk %s: %w", key, err)
	}
	return a.store.Put(key, bytes.NewReader(enc))
}

// ReadFloat32 reads the whole array as a C-ordered buffer
func (a *Array) ReadFloat32() ([]float32, error) {
	return a.Slice(0, a.meta.Shape[0])
}

// Slice reads rows [start, stop) across every column, touching only the
// chunks that window overlaps
func (a *Array) Slice(start, stop int) ([]float32, error) {
	rows, cols, chunkRows, chunkCols := a.dims()
	if start < 0 || stop > rows || start > stop {
		return nil, fmt.Errorf("slice [%d:%d] out of range for %d rows", start, stop, rows)
	}

	out := make([]float32, (stop-start)*cols)
	colChunks := GridShape([]int{cols}, []int{chunkCols})[0]
	for _, p := range projectRows(start, stop, chunkRows) {
		for ci := 0; ci < colChunks; ci++ {
			vals, err := a.readChunk(a.chunkKey(p.ChunkIX, ci), chunkRows*chunkCols)
			if err != nil {
				return nil, err
			}
			c0 := ci * chunkCols
			nc := min(chunkCols, cols-c0)
			for r := 0; r < p.Rows; r++ {
				src := vals[(p.ChunkStart+r)*chunkCols : (p.ChunkStart+r)*chunkCols+nc]
				copy(out[(p.OutStart+r)*cols+c0:], src)
			}
		}
	}
	return out, nil
}

// readChunk decodes one chunk. Chunks that were never written read as the
// fill value.
func (a *Array) readChunk(key string, size int) ([]float32, error) {
	vals := make([]float32, size)
	raw, err := getBytes(a.store, key)
	if errors.Is(err, ErrNotfound) {
		fill := a.fillValue()
		for i := range vals {
			vals[i] = fill
		}
		return vals, nil
	}
	if err != nil {
		return nil, err
	}

	r, err := a.meta.Compressor.Decompressor(io.NopCloser(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := binary.Read(r, a.meta.Dtype.Order(), vals); err != nil {
		return nil, fmt.Errorf("decoding chunk %s: %w", key, err)
	}
	return vals, nil
}

func (a *Array) fillValue() float32 {
	switch v := a.meta.FillValue.(type) {
	case float64:
		return float32(v)
	case string:
		switch v {
		case FillValueNaN:
			return float32(math.NaN())
		case FillValueInfinity:
			return float32(math.Inf(1))
		case FillValueNegativeInfinity:
			return float32(math.Inf(-1))
		}
	}
	return 0
}

// Group is a handle on a zarr group
type Group struct {
	path  Path
	store Store
	mode  PersistenceMode
}

// CreateGroup writes group metadata at path and at any ancestor that lacks it
func CreateGroup(store Store, path string, mode PersistenceMode) (*Group, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if !mode.writable() {
		return nil, fmt.Errorf("%w: cannot create group %q", ErrReadOnly, p)
	}
	if mode == ModeWrite {
		if err := deletePrefix(store, p); err != nil {
			return nil, err
		}
	}

	for i := 0; i <= len(p); i++ {
		key := p[:i].Join(string(MTGroup)).String()
		exists, err := Exists(store, key)
		if err != nil {
			return nil, err
		}
		if exists {
			if i == len(p) && mode == ModeWriteFail {
				return nil, fmt.Errorf("%w: %s", ErrExists, key)
			}
			continue
		}
		if err := putJSON(store, key, GroupMeta{ZarrFormat: FormatVersion}); err != nil {
			return nil, err
		}
	}

	return &Group{path: p, store: store, mode: mode}, nil
}

func OpenGroup(store Store, path string, mode PersistenceMode) (*Group, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	gm := GroupMeta{}
	if err := getJSON(store, p.Join(string(MTGroup)).String(), &gm); err != nil {
		return nil, err
	}
	return &Group{path: p, store: store, mode: mode}, nil
}

func (g *Group) Path() string { return g.path.String() }

// Attrs reads the group's user attributes. A group without attributes has an
// empty set.
func (g *Group) Attrs() (Attributes, error) {
	attrs := Attributes{}
	err := getJSON(g.store, g.path.Join(string(MTAttributes)).String(), &attrs)
	if errors.Is(err, ErrNotfound) {
		return attrs, nil
	}
	return attrs, err
}

// UpdateAttrs merges attrs into the stored attributes
func (g *Group) UpdateAttrs(attrs Attributes) error {
	if !g.mode.writable() {
		return fmt.Errorf("%w: %s", ErrReadOnly, g.path)
	}
	cur, err := g.Attrs()
	if err != nil {
		return err
	}
	for k, v := range attrs {
		cur[k] = v
	}
	return putJSON(g.store, g.path.Join(string(MTAttributes)).String(), cur)
}

func (g *Group) CreateGroup(name string) (*Group, error) {
	return CreateGroup(g.store, g.path.Join(name).String(), g.mode)
}

func (g *Group) CreateArray(name string, meta *ArrayMeta) (*Array, error) {
	mode := g.mode
	if mode == ModeReadWrite {
		mode = ModeReadWriteCreate
	}
	return Create(g.store, g.path.Join(name).String(), meta, mode)
}

func (g *Group) OpenArray(name string) (*Array, error) {
	return Open(g.store, g.path.Join(name).String(), g.mode)
}

// Path is a normalized logical path within a store
type Path []string

// NewPath normalizes posix as zarr requires for consistent behaviour across
// storage systems: backslashes become forward slashes, leading and trailing
// slashes are stripped and runs of slashes collapse. The root is the empty
// Path.
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, `\`, "/")
	var p Path
	for _, el := range strings.Split(posix, "/") {
		switch el {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid path segment %q in %q", el, posix)
		}
		p = append(p, el)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

// Join returns a new path; p is never modified
func (p Path) Join(elems ...string) Path {
	j := make(Path, 0, len(p)+len(elems))
	j = append(j, p...)
	for _, el := range elems {
		sub, _ := NewPath(el)
		j = append(j, sub...)
	}
	return j
}

func putJSON(s Store, key string, v interface{}) error {
	d, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Put(key, bytes.NewReader(d))
}

func getJSON(s Store, key string, v interface{}) error {
	d, err := getBytes(s, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func deletePrefix(s Store, p Path) error {
	prefix := ""
	if len(p) > 0 {
		prefix = p.String() + "/"
	}
	keys, err := s.Keys(prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(k); err != nil && !errors.Is(err, ErrNotfound) {
			return err
		}
	}
	return nil
}
