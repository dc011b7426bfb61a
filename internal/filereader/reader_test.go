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
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

func readAll(t *testing.T, r *LineReader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func compress(t *testing.T, codec Codec, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch codec {
	case CodecGzip:
		w = gzip.NewWriter(&buf)
	case CodecZstd:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		w = zw
	case CodecLZ4:
		w = lz4.NewWriter(&buf)
	case CodecSnappy:
		w = s2.NewWriter(&buf)
	default:
		t.Fatalf("no writer for %s", codec)
	}
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestLineReaderPlain(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"lf", "a,1\nb,2\n", []string{"a,1", "b,2"}},
		{"crlf", "a,1\r\nb,2\r\n", []string{"a,1", "b,2"}},
		{"no trailing newline", "a,1\nb,2", []string{"a,1", "b,2"}},
		{"empty lines kept", "a\n\nb\n", []string{"a", "", "b"}},
		{"empty file", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "in.csv", []byte(tt.input))
			r, err := Open(path, CodecAuto)
			require.NoError(t, err)
			defer func() { _ = r.Close() }()

			assert.Equal(t, CodecPlain, r.Codec())
			assert.Equal(t, tt.want, readAll(t, r))
			assert.Equal(t, int64(len(tt.want)), r.LineNumber())
			assert.Equal(t, int64(len(tt.input)), r.BytesRead())
		})
	}
}

func TestLineReaderLongLinesSpanBuffers(t *testing.T) {
	long := strings.Repeat("x", 100)
	input := "short\n" + long + "\n" + long + long + "\nend"
	path := writeFile(t, "in.csv", []byte(input))

	r, err := Open(path, CodecPlain, WithBufferSize(16))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"short", long, long + long, "end"}, readAll(t, r))
}

func TestLineReaderCodecs(t *testing.T) {
	input := []byte("AAPL,100.0,10\nMSFT,200.5,3\n")
	tests := []struct {
		codec Codec
		name  string
	}{
		{CodecGzip, "trades.csv.gz"},
		{CodecZstd, "trades.csv.zst"},
		{CodecLZ4, "trades.csv.lz4"},
		{CodecSnappy, "trades.csv.sz"},
	}
	for _, tt := range tests {
		t.Run(string(tt.codec), func(t *testing.T) {
			path := writeFile(t, tt.name, compress(t, tt.codec, input))

			r, err := Open(path, CodecAuto)
			require.NoError(t, err)
			defer func() { _ = r.Close() }()

			assert.Equal(t, tt.codec, r.Codec())
			assert.Equal(t, []string{"AAPL,100.0,10", "MSFT,200.5,3"}, readAll(t, r))
		})
	}
}

func TestLineReaderGzipMultiMember(t *testing.T) {
	data := append(compress(t, CodecGzip, []byte("a\nb\n")), compress(t, CodecGzip, []byte("c\n"))...)
	path := writeFile(t, "multi.gz", data)

	r, err := Open(path, CodecAuto)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"a", "b", "c"}, readAll(t, r))
}

func TestLineReaderOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.csv"), CodecAuto)
	require.Error(t, err)
	assert.ErrorIs(t, err, tickerr.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLineReaderBadGzipHeader(t *testing.T) {
	path := writeFile(t, "bad.gz", []byte("this is not gzip data\n"))
	_, err := Open(path, CodecAuto)
	require.Error(t, err)
	assert.ErrorIs(t, err, tickerr.ErrDecode)
}

func TestLineReaderCorruptGzipBody(t *testing.T) {
	var sb strings.Builder
	for i := range 5000 {
		sb.WriteString("AAPL,100.0,10,line-")
		sb.WriteString(strings.Repeat("z", i%37))
		sb.WriteString("\n")
	}
	data := compress(t, CodecGzip, []byte(sb.String()))
	mid := len(data) / 2
	for i := mid; i < mid+64; i++ {
		data[i] ^= 0xA5
	}
	path := writeFile(t, "corrupt.csv.gz", data)

	r, err := Open(path, CodecAuto)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var readErr error
	for {
		_, err := r.Next()
		if err != nil {
			readErr = err
			break
		}
	}
	require.NotErrorIs(t, readErr, io.EOF)
	assert.ErrorIs(t, readErr, tickerr.ErrDecode)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF, "reader stays finished after a decode error")
}

func TestLineReaderTruncatedGzip(t *testing.T) {
	data := compress(t, CodecGzip, []byte(strings.Repeat("AAPL,1,2\n", 1000)))
	path := writeFile(t, "short.gz", data[:len(data)-10])

	r, err := Open(path, CodecAuto)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	for {
		_, err = r.Next()
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, tickerr.ErrDecode)
}

func TestLineReaderRestart(t *testing.T) {
	path := writeFile(t, "r.csv.gz", compress(t, CodecGzip, []byte("a\nb\nc\n")))

	r, err := Open(path, CodecAuto)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", string(first))

	require.NoError(t, r.Restart())
	assert.Equal(t, []string{"a", "b", "c"}, readAll(t, r))
	assert.Equal(t, int64(3), r.LineNumber())
}

func TestLineReaderClosed(t *testing.T) {
	path := writeFile(t, "c.csv", []byte("a\n"))
	r, err := Open(path, CodecPlain)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, r.Restart(), tickerr.ErrIO)
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecAuto, c)

	c, err = ParseCodec("GZIP")
	require.NoError(t, err)
	assert.Equal(t, CodecGzip, c)

	c, err = ParseCodec("none")
	require.NoError(t, err)
	assert.Equal(t, CodecPlain, c)

	_, err = ParseCodec("rar")
	assert.Error(t, err)
}

func TestTrimCodecExtension(t *testing.T) {
	assert.Equal(t, "trades.csv", TrimCodecExtension("trades.csv.gz"))
	assert.Equal(t, "trades.csv", TrimCodecExtension("trades.csv"))
	assert.Equal(t, "quotes.txt", TrimCodecExtension("quotes.txt.ZST"))
}
