package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMeta is returned for metadata this package can't read or write
var ErrInvalidMeta = errors.New("invalid metadata")

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

// FormatVersion is the zarr storage specification version written
const FormatVersion = 2

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// relies on the fact that all keynames are 7 characters long
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group metadata under the ".zgroup" key under
// some logical path. E.g., a group exists at the root of an array store if the
// ".zgroup" key exists in the store, and a group exists at logical path
// "foo/bar" if the "foo/bar/.zgroup" key exists in the store.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

func (GroupMeta) MetaType() MetaType { return MTGroup }

// ChunkRef locates a chunk that was packed into a consolidated data file. It
// encodes as the JSON triple [file, offset, length].
type ChunkRef struct {
	File   string
	Offset int64
	Length int64
}

func (r ChunkRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.File, r.Offset, r.Length})
}

func (r *ChunkRef) UnmarshalJSON(d []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(d, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("%w: chunk ref needs 3 elements, got %d", ErrInvalidMeta, len(raw))
	}
	if err := json.Unmarshal(raw[0], &r.File); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &r.Offset); err != nil {
		return err
	}
	return json.Unmarshal(raw[2], &r.Length)
}

// ConsolidatedMetadata gathers every metadata document of a hierarchy under
// one ".zmetadata" key. Refs is only present once chunks have been packed.
type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
	Refs               map[string]ChunkRef  `json:"refs,omitempty"`
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
	Refs               map[string]ChunkRef        `json:"refs"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
		Refs:               cd.Refs,
	}

	for key, data := range cd.Metadata {
		kt, ok := KeyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consolidated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			attr := Attributes{}
			if err := json.Unmarshal(data, &attr); err != nil {
				return fmt.Errorf("reading %q attributes: %w", key, err)
			}
			cm.Metadata[key] = attr
		case MTGroup:
			grp := GroupMeta{}
			if err := json.Unmarshal(data, &grp); err != nil {
				return fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		}
	}

	*m = cm
	return nil
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// ".zarray" key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	Dtype  Dtype `json:"dtype"`
	// The primary compression codec, or null if no compressor is to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	// Float arrays use the strings "NaN", "Infinity" and "-Infinity" for the
	// non-finite values JSON can't express.
	FillValue interface{} `json:"fill_value"`
	// Either "C" or "F", defining the layout of bytes within each chunk of the
	// array. "C" means row-major order, i.e., the last dimension varies fastest;
	// "F" means column-major order, i.e., the first dimension varies fastest.
	Order string `json:"order"`
	// A list of codec configurations, or null if no filters are to be applied.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form "0.0".
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// NewFloat32Meta describes a C-ordered little-endian float32 array filled
// with NaN
func NewFloat32Meta(shape, chunks []int, compressor *CompressionMeta) *ArrayMeta {
	return &ArrayMeta{
		ZarrFormat: FormatVersion,
		Shape:      append([]int(nil), shape...),
		Chunks:     append([]int(nil), chunks...),
		Dtype:      Float32,
		Compressor: compressor,
		FillValue:  FillValueNaN,
		Order:      "C",
	}
}

func (a *ArrayMeta) separator() string {
	if a.DimensionSeparator == "" {
		return "."
	}
	return a.DimensionSeparator
}

// validate checks the subset of the format this package reads and writes
func (a *ArrayMeta) validate() error {
	if len(a.Shape) < 1 || len(a.Shape) > 2 {
		return fmt.Errorf("%w: only rank 1 and 2 arrays are supported, got rank %d", ErrInvalidMeta, len(a.Shape))
	}
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("%w: chunks %v do not match shape %v", ErrInvalidMeta, a.Chunks, a.Shape)
	}
	for i, s := range a.Shape {
		if s < 0 {
			return fmt.Errorf("%w: negative dimension in shape %v", ErrInvalidMeta, a.Shape)
		}
		if a.Chunks[i] < 1 {
			return fmt.Errorf("%w: chunk dimensions must be positive, got %v", ErrInvalidMeta, a.Chunks)
		}
	}
	if a.Dtype != Float32 {
		return fmt.Errorf("%w: unsupported dtype %s (%d byte %s), only %s is stored", ErrInvalidMeta, a.Dtype, a.Dtype.ByteSize, a.Dtype.BasicType.Human(), Float32)
	}
	if a.Order != "C" {
		return fmt.Errorf("%w: unsupported order %q", ErrInvalidMeta, a.Order)
	}
	if s := a.separator(); s != "." && s != "/" {
		return fmt.Errorf("%w: invalid dimension separator %q", ErrInvalidMeta, s)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("%w: filters are not supported", ErrInvalidMeta)
	}
	return nil
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta,omitempty"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)
