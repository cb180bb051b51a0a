// Package codec wraps the transfer pipeline's wire compression choices
// (spec §4.4) behind a single Codec interface, so the sender and receiver
// can negotiate an algorithm by name and reuse the same streaming encoder
// and decoder regardless of which one is picked.
package codec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Name identifies a wire compression algorithm.
type Name string

const (
	None Name = "none"
	Zstd Name = "zstd"
	Gzip Name = "gzip"
	Zlib Name = "zlib"
)

// Codec wraps a raw stream with an algorithm's encoder/decoder.
type Codec interface {
	// NewEncoder returns a WriteCloser that compresses into w. Closing it
	// flushes any trailer the format requires; it does not close w.
	NewEncoder(w io.Writer) (io.WriteCloser, error)

	// NewDecoder returns a ReadCloser that decompresses from r.
	NewDecoder(r io.Reader) (io.ReadCloser, error)
}

// ByName resolves a codec by its wire name (spec §6.3's header compression
// field). An absent or unrecognized name defaults to Zstd rather than
// erroring or falling through to None, matching
// original_source/src/core/handlers.rs's
// `header.compression.and_then(CompressionAlgo::from_str).unwrap_or(Zstd)`.
func ByName(name Name) (Codec, error) {
	switch name {
	case None:
		return noneCodec{}, nil
	case Zstd, "":
		return zstdCodec{}, nil
	case Gzip:
		return gzipCodec{}, nil
	case Zlib:
		return zlibCodec{}, nil
	default:
		return zstdCodec{}, nil
	}
}

type noneCodec struct{}

func (noneCodec) NewEncoder(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }
func (noneCodec) NewDecoder(r io.Reader) (io.ReadCloser, error)  { return io.NopCloser(r), nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type zstdCodec struct{}

func (zstdCodec) NewEncoder(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("codec: cannot create zstd encoder: %w", err)
	}
	return enc, nil
}

func (zstdCodec) NewDecoder(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("codec: cannot create zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}

type gzipCodec struct{}

func (gzipCodec) NewEncoder(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCodec) NewDecoder(r io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("codec: cannot create gzip decoder: %w", err)
	}
	return gr, nil
}

type zlibCodec struct{}

func (zlibCodec) NewEncoder(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriter(w), nil
}

func (zlibCodec) NewDecoder(r io.Reader) (io.ReadCloser, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("codec: cannot create zlib decoder: %w", err)
	}
	return zr, nil
}
