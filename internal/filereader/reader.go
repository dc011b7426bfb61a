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

// Package filereader streams delimited lines out of plain or compressed
// input files.
package filereader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

// DefaultBufferSize is the read buffer size. Lines longer than this are
// reassembled across reads.
const DefaultBufferSize = 256 * 1024

// fileSource counts bytes read from the underlying file and remembers the
// last non-EOF error so decompressor failures can be told apart from I/O
// failures.
type fileSource struct {
	f   *os.File
	n   int64
	err error
}

func (s *fileSource) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	s.n += int64(n)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// LineReader yields the lines of one file. It is not safe for concurrent use.
type LineReader struct {
	path    string
	codec   Codec
	bufSize int

	src      *fileSource
	decClose func()
	br       *bufio.Reader
	line     []byte
	lineNo   int64
	done     bool
	closed   bool
	reported int64
}

// Option configures a LineReader.
type Option func(*LineReader)

// WithBufferSize sets the read buffer size. Sizes below 16 bytes are raised
// to 16, the bufio minimum.
func WithBufferSize(n int) Option {
	return func(r *LineReader) {
		r.bufSize = n
	}
}

// Open opens path for line reading. CodecAuto selects the codec from the
// file extension. A file that cannot be opened is an IOError; a stream
// whose compression header is unreadable is a DecodeError.
func Open(path string, codec Codec, opts ...Option) (*LineReader, error) {
	if codec == "" || codec == CodecAuto {
		codec = DetectCodec(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, tickerr.IO("open", path, err)
	}

	r := &LineReader{
		path:    path,
		codec:   codec,
		bufSize: DefaultBufferSize,
		src:     &fileSource{f: f},
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.start(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *LineReader) start() error {
	dec, closeFn, err := newDecompressor(r.codec, r.src)
	if err != nil {
		return r.classify("open", err)
	}
	r.decClose = closeFn
	r.br = bufio.NewReaderSize(dec, r.bufSize)
	r.line = r.line[:0]
	r.lineNo = 0
	r.done = false
	return nil
}

// Next returns the next line without its line terminator. The returned
// slice is only valid until the next call. io.EOF marks the end of the
// file; any other error is an IOError or DecodeError and ends the file.
func (r *LineReader) Next() ([]byte, error) {
	if r.closed || r.done {
		return nil, io.EOF
	}

	r.line = r.line[:0]
	for {
		chunk, err := r.br.ReadSlice('\n')
		switch {
		case err == nil:
			r.lineNo++
			if len(r.line) == 0 {
				return trimEOL(chunk), nil
			}
			r.line = append(r.line, chunk...)
			return trimEOL(r.line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			r.line = append(r.line, chunk...)
		case err == io.EOF:
			r.done = true
			r.line = append(r.line, chunk...)
			if len(r.line) == 0 {
				return nil, io.EOF
			}
			r.lineNo++
			return trimEOL(r.line), nil
		default:
			r.done = true
			return nil, r.classify("read", err)
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}

func (r *LineReader) classify(op string, err error) error {
	if r.src.err != nil {
		return tickerr.IO(op, r.path, r.src.err)
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return tickerr.Decode(op, r.path, fmt.Errorf("%s stream: %w", r.codec, err))
}

// Restart rewinds to the first line of the file.
func (r *LineReader) Restart() error {
	if r.closed {
		return tickerr.IO("restart", r.path, os.ErrClosed)
	}
	r.decClose()
	r.report()
	if _, err := r.src.f.Seek(0, io.SeekStart); err != nil {
		return tickerr.IO("restart", r.path, err)
	}
	r.src.err = nil
	return r.start()
}

// Path returns the file path.
func (r *LineReader) Path() string { return r.path }

// Codec returns the codec in use.
func (r *LineReader) Codec() Codec { return r.codec }

// LineNumber returns the 1-based number of the last line returned.
func (r *LineReader) LineNumber() int64 { return r.lineNo }

// BytesRead returns the number of raw (compressed) bytes read from disk.
func (r *LineReader) BytesRead() int64 { return r.src.n }

// Close releases the decoder and the file.
func (r *LineReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.decClose()

	r.report()

	if err := r.src.f.Close(); err != nil {
		return tickerr.IO("close", r.path, err)
	}
	return nil
}

func (r *LineReader) report() {
	attrs := otelmetric.WithAttributes(attribute.String("codec", string(r.codec)))
	bytesReadCounter.Add(context.Background(), r.src.n-r.reported, attrs)
	linesReadCounter.Add(context.Background(), r.lineNo, attrs)
	r.reported = r.src.n
}
