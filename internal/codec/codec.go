// Package codec decodes and re-encodes HTTP bodies by Content-Encoding.
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// MaxDecodedSize bounds decoded bodies (zip bomb protection).
const MaxDecodedSize int64 = 32 << 20

// AcceptEncoding is the value advertised to upstreams.
const AcceptEncoding = "gzip, deflate, br, zstd"

var zstdDecoders = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

var zstdEncoders = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil)
		return enc
	},
}

// ErrTooLarge is returned when a decoded body exceeds MaxDecodedSize.
var ErrTooLarge = fmt.Errorf("decoded body exceeds maximum size of %d bytes", MaxDecodedSize)

func normalize(encoding string) string {
	return strings.ToLower(strings.TrimSpace(encoding))
}

// Supported reports whether encoding can be decoded and re-encoded.
func Supported(encoding string) bool {
	switch normalize(encoding) {
	case "", "identity", "gzip", "deflate", "br", "zstd":
		return true
	}
	return false
}

// Decode returns the decoded form of data. Identity and empty encodings
// return data unchanged.
func Decode(encoding string, data []byte) ([]byte, error) {
	enc := normalize(encoding)
	if enc == "" || enc == "identity" {
		return data, nil
	}

	var (
		r       io.Reader
		release func()
	)
	src := bytes.NewReader(data)
	switch enc {
	case "gzip":
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		// HTTP deflate is zlib-wrapped; some servers send raw DEFLATE anyway.
		if zr, err := zlib.NewReader(src); err == nil {
			out, err := ReadLimited(zr)
			zr.Close()
			if err == nil || errors.Is(err, ErrTooLarge) {
				return out, err
			}
		}
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		r = fr
	case "br":
		r = brotli.NewReader(src)
	case "zstd":
		dec := zstdDecoders.Get().(*zstd.Decoder)
		if err := dec.Reset(src); err != nil {
			zstdDecoders.Put(dec)
			return nil, fmt.Errorf("zstd: %w", err)
		}
		release = func() { zstdDecoders.Put(dec) }
		r = dec
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
	if release != nil {
		defer release()
	}

	out, err := ReadLimited(r)
	if err != nil && !errors.Is(err, ErrTooLarge) {
		return nil, fmt.Errorf("%s: %w", enc, err)
	}
	return out, err
}

// ReadLimited reads r to EOF, failing with ErrTooLarge past MaxDecodedSize.
func ReadLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

// Encode compresses data with encoding. Identity and empty encodings return
// data unchanged.
func Encode(encoding string, data []byte) ([]byte, error) {
	enc := normalize(encoding)
	if enc == "" || enc == "identity" {
		return data, nil
	}

	var buf bytes.Buffer
	switch enc {
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "deflate":
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "br":
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "zstd":
		w := zstdEncoders.Get().(*zstd.Encoder)
		defer zstdEncoders.Put(w)
		return w.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
	return buf.Bytes(), nil
}
