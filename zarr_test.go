package zarr

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func seq(n int) []float32 {
	d := make([]float32, n)
	for i := range d {
		d[i] = float32(i)
	}
	return d
}

func TestArrayWriteRead(t *testing.T) {
	compressors := map[string]*CompressionMeta{
		"raw":  nil,
		"zstd": Zstd(),
		"gzip": Gzip(),
	}

	for name, comp := range compressors {
		t.Run(name, func(t *testing.T) {
			s := NewMemoryStore()
			// 10x3 in 4x2 chunks leaves partial chunks on both axes
			a, err := Create(s, "foo/bar", NewFloat32Meta([]int{10, 3}, []int{4, 2}, comp), ModeWrite)
			if err != nil {
				t.Fatal(err)
			}
			data := seq(30)
			if err := a.WriteFloat32(data); err != nil {
				t.Fatal(err)
			}

			keys, err := s.Keys("foo/bar/")
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"foo/bar/.zarray", "foo/bar/0.0", "foo/bar/0.1", "foo/bar/1.0", "foo/bar/1.1", "foo/bar/2.0", "foo/bar/2.1"}
			if !reflect.DeepEqual(keys, want) {
				t.Errorf("keys mismatch.\nwant: %v\ngot:  %v", want, keys)
			}

			b, err := Open(s, "foo/bar", ModeRead)
			if err != nil {
				t.Fatal(err)
			}
			got, err := b.ReadFloat32()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, data) {
				t.Errorf("read mismatch.\nwant: %v\ngot:  %v", data, got)
			}

			window, err := b.Slice(3, 9)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(window, data[9:27]) {
				t.Errorf("slice mismatch.\nwant: %v\ngot:  %v", data[9:27], window)
			}
		})
	}
}

func TestArrayEdgeChunkPadding(t *testing.T) {
	s := NewMemoryStore()
	a, err := Create(s, "x", NewFloat32Meta([]int{3}, []int{2}, nil), ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.WriteFloat32([]float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	vals, err := a.readChunk("x/1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != 3 || !math.IsNaN(float64(vals[1])) {
		t.Errorf("expected [3 NaN], got %v", vals)
	}
}

func TestArrayMissingChunkReadsFill(t *testing.T) {
	s := NewMemoryStore()
	meta := NewFloat32Meta([]int{4, 1}, []int{2, 1}, nil)
	meta.FillValue = 0.0
	a, err := Create(s, "sparse", meta, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.ReadFloat32()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []float32{0, 0, 0, 0}) {
		t.Errorf("expected zeros, got %v", got)
	}
}

func TestArrayModes(t *testing.T) {
	s := NewMemoryStore()
	meta := NewFloat32Meta([]int{2}, []int{2}, nil)

	if _, err := Create(s, "a", meta, ModeRead); err == nil {
		t.Error("expected error creating in read mode")
	}
	if _, err := Create(s, "a", meta, ModeWriteFail); err != nil {
		t.Fatal(err)
	}
	if _, err := Create(s, "a", meta, ModeWriteFail); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}

	ro, err := Open(s, "a", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if err := ro.WriteFloat32([]float32{1, 2}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}

	if _, err := Open(s, "missing", ModeRead); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}
}

func TestArrayRejectsBadInput(t *testing.T) {
	s := NewMemoryStore()
	if _, err := Create(s, "a", NewFloat32Meta([]int{2, 2, 2}, []int{1, 1, 1}, nil), ModeWrite); !errors.Is(err, ErrInvalidMeta) {
		t.Errorf("rank 3: expected ErrInvalidMeta, got %v", err)
	}
	if _, err := Create(s, "a", NewFloat32Meta([]int{2, 2}, []int{0, 2}, nil), ModeWrite); !errors.Is(err, ErrInvalidMeta) {
		t.Errorf("zero chunk: expected ErrInvalidMeta, got %v", err)
	}
	a, err := Create(s, "a", NewFloat32Meta([]int{2, 2}, []int{1, 2}, nil), ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.WriteFloat32(seq(3)); !errors.Is(err, ErrInvalidMeta) {
		t.Errorf("short data: expected ErrInvalidMeta, got %v", err)
	}
	if _, err := a.Slice(1, 3); err == nil {
		t.Error("expected out of range error")
	}
}

func TestModeWriteReplacesArray(t *testing.T) {
	s := NewMemoryStore()
	a, err := Create(s, "a", NewFloat32Meta([]int{4}, []int{1}, nil), ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.WriteFloat32(seq(4)); err != nil {
		t.Fatal(err)
	}
	if _, err := Create(s, "a", NewFloat32Meta([]int{2}, []int{2}, nil), ModeWrite); err != nil {
		t.Fatal(err)
	}
	keys, _ := s.Keys("a/")
	if !reflect.DeepEqual(keys, []string{"a/.zarray"}) {
		t.Errorf("expected old chunks removed, got %v", keys)
	}
}

func TestGroups(t *testing.T) {
	s := NewMemoryStore()
	g, err := CreateGroup(s, "figure/view", ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{".zgroup", "figure/.zgroup", "figure/view/.zgroup"} {
		if ok, _ := Exists(s, key); !ok {
			t.Errorf("expected %s", key)
		}
	}

	if err := g.UpdateAttrs(Attributes{"n_timepoints": 10}); err != nil {
		t.Fatal(err)
	}
	if err := g.UpdateAttrs(Attributes{"n_positions": 3}); err != nil {
		t.Fatal(err)
	}

	og, err := OpenGroup(s, "/figure//view/", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	attrs, err := og.Attrs()
	if err != nil {
		t.Fatal(err)
	}
	want := Attributes{"n_timepoints": 10.0, "n_positions": 3.0}
	if !reflect.DeepEqual(attrs, want) {
		t.Errorf("attrs mismatch. want: %v got: %v", want, attrs)
	}
	if err := og.UpdateAttrs(Attributes{"x": 1}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}

	arr, err := g.CreateArray("data", NewFloat32Meta([]int{2}, []int{2}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if arr.Path() != "figure/view/data" {
		t.Errorf("unexpected array path %q", arr.Path())
	}
	if _, err := og.OpenArray("data"); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateGroup(s, "figure/view", ModeWriteFail); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestNewPath(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"/":             "",
		"foo/bar":       "foo/bar",
		"/foo//bar/":    "foo/bar",
		`foo\bar\\baz`:  "foo/bar/baz",
		"///a////b///c": "a/b/c",
	}
	for in, want := range cases {
		p, err := NewPath(in)
		if err != nil {
			t.Fatal(err)
		}
		if p.String() != want {
			t.Errorf("%q: want %q got %q", in, want, p.String())
		}
	}
	if _, err := NewPath("foo/../bar"); err == nil {
		t.Error("expected error for '..' segment")
	}

	base, _ := NewPath("a/b")
	x := base.Join("c")
	y := base.Join("d")
	if x.String() != "a/b/c" || y.String() != "a/b/d" {
		t.Errorf("joins alias each other: %s %s", x, y)
	}
	head, rest := x.Shift()
	if head != "a" || rest.String() != "b/c" {
		t.Errorf("shift mismatch: %s %s", head, rest)
	}
}

func TestGridAndChunkKey(t *testing.T) {
	if got := GridShape([]int{5000, 10}, []int{4096, 10}); !reflect.DeepEqual(got, []int{2, 1}) {
		t.Errorf("unexpected grid %v", got)
	}
	if got := ChunkKey([]int{1, 4}, "."); got != "1.4" {
		t.Errorf("unexpected key %q", got)
	}
	if got := ChunkKey([]int{1, 4}, "/"); got != "1/4" {
		t.Errorf("unexpected key %q", got)
	}
	if got := ChunkKey(nil, "."); got != "0" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestProjectRows(t *testing.T) {
	got := projectRows(3, 9, 4)
	want := []rowProjection{
		{ChunkIX: 0, ChunkStart: 3, Rows: 1, OutStart: 0},
		{ChunkIX: 1, ChunkStart: 0, Rows: 4, OutStart: 1},
		{ChunkIX: 2, ChunkStart: 0, Rows: 1, OutStart: 5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("projection mismatch.\nwant: %v\ngot:  %v", want, got)
	}
	if projectRows(4, 4, 4) != nil {
		t.Error("expected empty projection")
	}
}

func TestInfo(t *testing.T) {
	a, err := Create(NewMemoryStore(), "d", NewFloat32Meta([]int{2, 2}, []int{2, 2}, nil), ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if info := a.Info(); !strings.Contains(info, "shape=[2 2]") || !strings.Contains(info, "<f4") {
		t.Errorf("unexpected info %q", info)
	}
}
