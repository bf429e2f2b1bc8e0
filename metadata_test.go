package zarr

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// https://zarr.readthedocs.io/en/stable/spec/v2.html#metadata
const specExample = `{
  "chunks": [
    1000,
    1000
  ],
	"compressor": {
			"id": "blosc",
			"cname": "lz4",
			"clevel": 5,
			"shuffle": 1
	},
	"dtype": "<f8",
	"fill_value": "NaN",
	"filters": [
			{"id": "delta", "dtype": "<f8", "astype": "<f4"}
	],
	"order": "C",
	"shape": [
			10000,
			10000
	],
	"zarr_format": 2
}`

func TestMetadataSerialization(t *testing.T) {
	m := &ArrayMeta{}
	if err := json.Unmarshal([]byte(specExample), m); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(m.Chunks, []int{1000, 1000}) {
		t.Errorf("chunks mismatch: %v", m.Chunks)
	}
	if m.Dtype.String() != "<f8" {
		t.Errorf("dtype mismatch: %s", m.Dtype)
	}
	if m.Compressor == nil || m.Compressor.ID != "blosc" || m.Compressor.Clevel != 5 {
		t.Errorf("compressor mismatch: %#v", m.Compressor)
	}
	if len(m.Filters) != 1 || m.Filters[0].AsType != "<f4" {
		t.Errorf("filters mismatch: %#v", m.Filters)
	}
	// f8 and filters are outside what this package reads
	if err := m.validate(); err == nil {
		t.Error("expected validation error")
	}
}

func TestFloat32MetaRoundTrip(t *testing.T) {
	m := NewFloat32Meta([]int{5000, 10}, []int{4096, 10}, nil)
	d, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"dtype":"<f4"`, `"compressor":null`, `"fill_value":"NaN"`, `"filters":null`} {
		if !strings.Contains(string(d), want) {
			t.Errorf("expected %s in %s", want, d)
		}
	}

	got := &ArrayMeta{}
	if err := json.Unmarshal(d, got); err != nil {
		t.Fatal(err)
	}
	if err := got.validate(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("round trip mismatch.\nwant: %#v\ngot:  %#v", m, got)
	}
}

func TestParseDtype(t *testing.T) {
	cases := []struct {
		in   string
		want Dtype
		err  bool
	}{
		{"<f4", Float32, false},
		{"&lt;f4", Float32, false},
		{">i8", Dtype{ByteOrder: BOBigEndian, BasicType: BTInteger, ByteSize: 8}, false},
		{"<M8[ns]", Dtype{ByteOrder: BOLittleEndian, BasicType: BTDatetime, ByteSize: 8, Units: "[ns]"}, false},
		{"f4", Dtype{}, true},
		{"~f4", Dtype{}, true},
		{"<x4", Dtype{}, true},
		{"<fz", Dtype{}, true},
	}

	for _, c := range cases {
		got, err := ParseDtype(c.in)
		if c.err {
			if err == nil {
				t.Errorf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %s", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("%q: want %#v got %#v", c.in, c.want, got)
		}
		if c.in[0] != '&' && got.String() != c.in {
			t.Errorf("%q: String() gave %q", c.in, got.String())
		}
	}
}

const consolidatedExample = `{
  "zarr_consolidated_format": 1,
  "metadata": {
    ".zgroup": {"zarr_format": 2},
    ".zattrs": {"downsample_factors": [4, 16]},
    "data/.zarray": {
      "zarr_format": 2, "shape": [100, 3], "chunks": [64, 3], "dtype": "<f4",
      "compressor": null, "fill_value": "NaN", "order": "C", "filters": null
    }
  },
  "refs": {
    "data/0.0": ["_consolidated_0.dat", 0, 768],
    "data/1.0": ["_consolidated_0.dat", 768, 768]
  }
}`

func TestConsolidatedMetadata(t *testing.T) {
	cm := &ConsolidatedMetadata{}
	if err := json.Unmarshal([]byte(consolidatedExample), cm); err != nil {
		t.Fatal(err)
	}

	if len(cm.Metadata) != 3 {
		t.Fatalf("expected 3 metadata entries, got %d", len(cm.Metadata))
	}
	if _, ok := cm.Metadata[".zgroup"].(GroupMeta); !ok {
		t.Errorf("expected group metadata, got %T", cm.Metadata[".zgroup"])
	}
	attrs, ok := cm.Metadata[".zattrs"].(Attributes)
	if !ok {
		t.Fatalf("expected attributes, got %T", cm.Metadata[".zattrs"])
	}
	if !reflect.DeepEqual(attrs["downsample_factors"], []interface{}{4.0, 16.0}) {
		t.Errorf("attribute mismatch: %v", attrs)
	}
	arr, ok := cm.Metadata["data/.zarray"].(*ArrayMeta)
	if !ok {
		t.Fatalf("expected array metadata, got %T", cm.Metadata["data/.zarray"])
	}
	if arr.Compressor != nil {
		t.Errorf("expected null compressor")
	}

	want := ChunkRef{File: "_consolidated_0.dat", Offset: 768, Length: 768}
	if got := cm.Refs["data/1.0"]; got != want {
		t.Errorf("ref mismatch. want: %v got: %v", want, got)
	}

	d, err := json.Marshal(cm.Refs["data/1.0"])
	if err != nil {
		t.Fatal(err)
	}
	if string(d) != `["_consolidated_0.dat",768,768]` {
		t.Errorf("unexpected ref encoding: %s", d)
	}
}

func TestConsolidatedMetadataBadKey(t *testing.T) {
	cm := &ConsolidatedMetadata{}
	err := json.Unmarshal([]byte(`{"zarr_consolidated_format": 1, "metadata": {"foo": {}}}`), cm)
	if err == nil {
		t.Error("expected error for unknown metadata key")
	}
}

func TestArrayMetaRejectsOtherDtypes(t *testing.T) {
	m := NewFloat32Meta([]int{8, 2}, []int{4, 2}, nil)
	m.Dtype = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 4}
	err := m.validate()
	if !errors.Is(err, ErrInvalidMeta) {
		t.Fatalf("expected ErrInvalidMeta, got %v", err)
	}
	if !strings.Contains(err.Error(), "4 byte int") {
		t.Errorf("error should name the type: %s", err)
	}
}
