package zarr

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func writeTestHierarchy(t *testing.T, s Store) []float32 {
	t.Helper()
	g, err := CreateGroup(s, "", ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.UpdateAttrs(Attributes{"downsample_factors": []int{4}}); err != nil {
		t.Fatal(err)
	}
	a, err := g.CreateArray("data", NewFloat32Meta([]int{20, 2}, []int{4, 2}, nil))
	if err != nil {
		t.Fatal(err)
	}
	data := seq(40)
	if err := a.WriteFloat32(data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestConsolidateMetadata(t *testing.T) {
	s := NewMemoryStore()
	writeTestHierarchy(t, s)

	cm, err := ConsolidateMetadata(s)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for k := range cm.Metadata {
		keys = append(keys, k)
	}
	for _, want := range []string{".zgroup", ".zattrs", "data/.zarray"} {
		if _, ok := cm.Metadata[want]; !ok {
			t.Errorf("expected %s in consolidated metadata, got %v", want, keys)
		}
	}
	if len(cm.Metadata) != 3 {
		t.Errorf("expected 3 entries, got %v", keys)
	}

	read, err := readConsolidated(s)
	if err != nil {
		t.Fatal(err)
	}
	if read.ConsolidatedFormat != ConsolidatedFormat {
		t.Errorf("unexpected format %d", read.ConsolidatedFormat)
	}
}

func TestPackChunks(t *testing.T) {
	s := NewMemoryStore()
	data := writeTestHierarchy(t, s)

	if _, err := PackChunks(s, 1000); !errors.Is(err, ErrNotfound) {
		t.Fatalf("packing before consolidation: expected ErrNotfound, got %v", err)
	}
	if _, err := ConsolidateMetadata(s); err != nil {
		t.Fatal(err)
	}

	// every raw chunk is 4x2 float32 = 32 bytes; 5 chunks into 64 byte packs
	cm, err := PackChunks(s, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(cm.Refs) != 5 {
		t.Fatalf("expected 5 refs, got %d", len(cm.Refs))
	}

	keys, err := s.Keys("")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{".zattrs", ".zgroup", ".zmetadata", "_consolidated_0.dat", "_consolidated_1.dat", "_consolidated_2.dat", "data/.zarray"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys mismatch.\nwant: %v\ngot:  %v", want, keys)
	}

	for key, ref := range cm.Refs {
		if ref.Length != 32 || ref.Offset%32 != 0 || !strings.HasPrefix(ref.File, packPrefix) {
			t.Errorf("%s: unexpected ref %v", key, ref)
		}
	}

	rs, err := NewRefStore(s)
	if err != nil {
		t.Fatal(err)
	}
	a, err := Open(rs, "data", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.ReadFloat32()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, data) {
		t.Errorf("read through refs mismatch.\nwant: %v\ngot:  %v", data, got)
	}

	rkeys, err := rs.Keys("data/")
	if err != nil {
		t.Fatal(err)
	}
	if len(rkeys) != 6 {
		t.Errorf("expected .zarray plus 5 packed chunks, got %v", rkeys)
	}
}

func TestPackChunksOversized(t *testing.T) {
	s := newLocalTestStore(t)
	writeTestHierarchy(t, s)
	if _, err := ConsolidateMetadata(s); err != nil {
		t.Fatal(err)
	}
	// smaller than a single chunk: each chunk gets its own pack
	cm, err := PackChunks(s, 10)
	if err != nil {
		t.Fatal(err)
	}
	files := map[string]bool{}
	for _, r := range cm.Refs {
		files[r.File] = true
		if r.Offset != 0 {
			t.Errorf("expected every chunk at offset 0, got %v", r)
		}
	}
	if len(files) != 5 {
		t.Errorf("expected 5 packs, got %d", len(files))
	}

	rs, err := NewRefStore(s)
	if err != nil {
		t.Fatal(err)
	}
	a, err := Open(rs, "data", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	window, err := a.Slice(5, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(window, []float32{10, 11, 12, 13}) {
		t.Errorf("unexpected window %v", window)
	}
}

func TestRefStoreWithoutMetadata(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Put("k", strings.NewReader("v")); err != nil {
		t.Fatal(err)
	}
	rs, err := NewRefStore(s)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := Exists(rs, "k"); !ok || err != nil {
		t.Errorf("expected k readable, ok=%t err=%v", ok, err)
	}
	if _, err := rs.Get("missing"); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}
}
