// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package filereader

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names the compression of an input file.
type Codec string

const (
	CodecAuto   Codec = "auto"
	CodecPlain  Codec = "plain"
	CodecGzip   Codec = "gzip"
	CodecZstd   Codec = "zstd"
	CodecLZ4    Codec = "lz4"
	CodecSnappy Codec = "snappy"
)

var codecExtensions = map[string]Codec{
	".gz":   CodecGzip,
	".gzip": CodecGzip,
	".zst":  CodecZstd,
	".zstd": CodecZstd,
	".lz4":  CodecLZ4,
	".sz":   CodecSnappy,
	".s2":   CodecSnappy,
}

// ParseCodec validates a codec name from configuration. Empty means auto.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CodecAuto, nil
	case CodecAuto, CodecPlain, CodecGzip, CodecZstd, CodecLZ4, CodecSnappy:
		return c, nil
	case "none":
		return CodecPlain, nil
	default:
		return "", fmt.Errorf("unsupported input codec %q", s)
	}
}

// DetectCodec picks a codec from the file extension, defaulting to plain.
func DetectCodec(path string) Codec {
	if c, ok := codecExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return c
	}
	return CodecPlain
}

// TrimCodecExtension strips a recognised compression extension from name.
func TrimCodecExtension(name string) string {
	ext := filepath.Ext(name)
	if _, ok := codecExtensions[strings.ToLower(ext)]; ok {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// newDecompressor wraps src according to codec. The returned close func
// releases decoder resources but never closes src.
func newDecompressor(codec Codec, src io.Reader) (io.Reader, func(), error) {
	switch codec {
	case CodecPlain:
		return src, func() {}, nil
	case CodecGzip:
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil
	case CodecZstd:
		// A single decoder goroutine keeps the file pipeline sequential.
		zr, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case CodecLZ4:
		return lz4.NewReader(src), func() {}, nil
	case CodecSnappy:
		return s2.NewReader(src), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported input codec %q", codec)
	}
}
