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

package parquetwriter

import (
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/klauspost/compress/zstd"
)

// zstdCodec replaces arrow-go's zstd codec, which builds a new encoder for
// every page. Encoders are pooled per level and run single-threaded so
// that page output does not depend on scheduling. Many files are written
// concurrently, one per worker, so the pools see steady reuse.
type zstdCodec struct {
	mu    sync.Mutex
	pools map[zstd.EncoderLevel]*sync.Pool

	decOnce sync.Once
	dec     *zstd.Decoder
}

var _ compress.Codec = (*zstdCodec)(nil)

var pageCodec = &zstdCodec{pools: make(map[zstd.EncoderLevel]*sync.Pool)}

func init() {
	compress.RegisterCodec(compress.Codecs.Zstd, pageCodec)
}

func zstdLevel(level int) zstd.EncoderLevel {
	if level == compress.DefaultCompressionLevel {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(level)
}

func (c *zstdCodec) pool(level zstd.EncoderLevel) *sync.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[level]
	if !ok {
		p = &sync.Pool{New: func() any {
			enc, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(level),
				zstd.WithEncoderConcurrency(1),
				zstd.WithZeroFrames(true),
			)
			if err != nil {
				panic(err)
			}
			return enc
		}}
		c.pools[level] = p
	}
	return p
}

func (c *zstdCodec) decoder() *zstd.Decoder {
	c.decOnce.Do(func() {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(err)
		}
		c.dec = dec
	})
	return c.dec
}

func (c *zstdCodec) Decode(dst, src []byte) []byte {
	out, err := c.decoder().DecodeAll(src, dst[:0])
	if err != nil {
		panic(err)
	}
	return out
}

func (c *zstdCodec) Encode(dst, src []byte) []byte {
	return c.EncodeLevel(dst, src, compress.DefaultCompressionLevel)
}

func (c *zstdCodec) EncodeLevel(dst, src []byte, level int) []byte {
	lvl := zstdLevel(level)
	p := c.pool(lvl)
	enc := p.Get().(*zstd.Encoder)
	out := enc.EncodeAll(src, dst[:0])
	p.Put(enc)
	return out
}

// CompressBound is ZSTD_COMPRESSBOUND from zstd.h.
func (c *zstdCodec) CompressBound(n int64) int64 {
	var extra int64
	if n < 128<<10 {
		extra = ((128 << 10) - n) >> 11
	}
	return n + (n >> 8) + extra
}

func (c *zstdCodec) NewReader(r io.Reader) io.ReadCloser {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	return dec.IOReadCloser()
}

func (c *zstdCodec) NewWriter(w io.Writer) io.WriteCloser {
	wc, _ := c.NewWriterLevel(w, compress.DefaultCompressionLevel)
	return wc
}

func (c *zstdCodec) NewWriterLevel(w io.Writer, level int) (io.WriteCloser, error) {
	lvl := zstdLevel(level)
	p := c.pool(lvl)
	enc := p.Get().(*zstd.Encoder)
	enc.Reset(w)
	return &pooledEncoder{Encoder: enc, pool: p}, nil
}

// pooledEncoder returns its encoder to the pool on Close.
type pooledEncoder struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (e *pooledEncoder) Close() error {
	err := e.Encoder.Close()
	e.Encoder.Reset(nil)
	e.pool.Put(e.Encoder)
	return err
}
