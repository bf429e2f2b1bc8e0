package zarr

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/qri-io/dataset/compression"
)

// numcodecs codec ids mapped to the formats qri-io/dataset/compression knows
var codecFormats = map[string]string{
	"zstd": "zst",
	"gzip": "gzip",
}

// CompressionMeta defines compression settings zarr-go understands. A nil
// *CompressionMeta (JSON null) means chunks are stored raw.
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Level   int    `json:"level,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// Zstd is the default chunk compressor
func Zstd() *CompressionMeta { return &CompressionMeta{ID: "zstd", Level: 1} }

// Gzip compresses chunks with gzip
func Gzip() *CompressionMeta { return &CompressionMeta{ID: "gzip", Level: 5} }

// ParseCompressor maps a codec id to compressor settings. "none" and the
// empty string select raw chunks.
func ParseCompressor(id string) (*CompressionMeta, error) {
	switch id {
	case "", "none":
		return nil, nil
	case "zstd":
		return Zstd(), nil
	case "gzip":
		return Gzip(), nil
	}
	return nil, fmt.Errorf("unsupported compressor %q", id)
}

func (m *CompressionMeta) format() (string, error) {
	f, ok := codecFormats[m.ID]
	if !ok {
		return "", fmt.Errorf("unsupported compressor %q", m.ID)
	}
	return f, nil
}

// Decompressor wraps a reader of chunk data. Callers must close the result.
func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m == nil {
		return r, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Decompressor(f, r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Compressor wraps w. Callers must close the result to flush it.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	if m == nil {
		return nopWriteCloser{w}, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Compressor(f, w)
}

// zstd encoders by level. EncodeAll is safe for concurrent use.
var zstdEncoders sync.Map

func zstdEncoder(level int) (*zstd.Encoder, error) {
	if e, ok := zstdEncoders.Load(level); ok {
		return e.(*zstd.Encoder), nil
	}
	e, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithZeroFrames(true))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	actual, _ := zstdEncoders.LoadOrStore(level, e)
	return actual.(*zstd.Encoder), nil
}

// Encode compresses a whole chunk. zstd chunks are a single frame with the
// decompressed size in its header; readers allocate from that field.
func (m *CompressionMeta) Encode(raw []byte) ([]byte, error) {
	if m == nil {
		return raw, nil
	}
	if m.ID == "zstd" {
		enc, err := zstdEncoder(m.Level)
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	}

	var b bytes.Buffer
	w, err := m.Compressor(&b)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
