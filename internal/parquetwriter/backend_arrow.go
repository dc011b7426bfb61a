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
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ArrowBackend implements ParquetBackend with Arrow record batches. Each
// WriteBatch call turns the ColumnBatch into one arrow.RecordBatch and
// writes it as its own row group.
type ArrowBackend struct {
	schema    *BatchSchema
	arrSchema *arrow.Schema
	allocator memory.Allocator
	writer    *pqarrow.FileWriter
}

var _ ParquetBackend = (*ArrowBackend)(nil)

var arrowCodecs = map[Compression]compress.Compression{
	CompressionNone:   compress.Codecs.Uncompressed,
	CompressionSnappy: compress.Codecs.Snappy,
	CompressionGzip:   compress.Codecs.Gzip,
	CompressionZstd:   compress.Codecs.Zstd,
	CompressionLZ4:    compress.Codecs.Lz4Raw,
}

func arrowType(t ColumnType) arrow.DataType {
	switch t {
	case ColumnInt64:
		return arrow.PrimitiveTypes.Int64
	case ColumnFloat64:
		return arrow.PrimitiveTypes.Float64
	case ColumnTimestamp:
		return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
	case ColumnBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// NewArrowBackend creates an Arrow-based backend writing to w.
func NewArrowBackend(w io.Writer, cfg BackendConfig) (*ArrowBackend, error) {
	codec, ok := arrowCodecs[cfg.Compression]
	if !ok {
		return nil, &ConfigError{Field: "output_compression", Message: fmt.Sprintf("unknown codec %q", cfg.Compression)}
	}

	fields := make([]arrow.Field, cfg.Schema.Len())
	for i, c := range cfg.Schema.columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: c.Nullable}
	}
	keys := cfg.sortedMetadataKeys()
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = cfg.Metadata[k]
	}
	md := arrow.NewMetadata(keys, values)
	arrSchema := arrow.NewSchema(fields, &md)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithMaxRowGroupLength(int64(cfg.RowGroupLength)),
		parquet.WithCreatedBy("tickrunner"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	fw, err := pqarrow.NewFileWriter(arrSchema, nopCloser{w}, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &ArrowBackend{
		schema:    cfg.Schema,
		arrSchema: arrSchema,
		allocator: memory.DefaultAllocator,
		writer:    fw,
	}, nil
}

// Name returns the backend name.
func (b *ArrowBackend) Name() string {
	return string(BackendArrow)
}

// WriteBatch writes batch as one row group.
func (b *ArrowBackend) WriteBatch(batch *ColumnBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	if b.writer == nil {
		return ErrWriterClosed
	}

	arrays := make([]arrow.Array, len(batch.cols))
	defer func() {
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()
	for i, spec := range b.schema.columns {
		arrays[i] = b.buildArray(spec, &batch.cols[i])
	}

	rec := array.NewRecordBatch(b.arrSchema, arrays, int64(batch.Len()))
	defer rec.Release()

	if err := b.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	return nil
}

func (b *ArrowBackend) buildArray(spec ColumnSpec, c *column) arrow.Array {
	switch spec.Type {
	case ColumnInt64:
		bld := array.NewInt64Builder(b.allocator)
		defer bld.Release()
		bld.AppendValues(c.ints, c.valid)
		return bld.NewArray()
	case ColumnTimestamp:
		bld := array.NewTimestampBuilder(b.allocator, arrowType(spec.Type).(*arrow.TimestampType))
		defer bld.Release()
		bld.Reserve(len(c.ints))
		for i, v := range c.ints {
			if c.valid[i] {
				bld.Append(arrow.Timestamp(v))
			} else {
				bld.AppendNull()
			}
		}
		return bld.NewArray()
	case ColumnFloat64:
		bld := array.NewFloat64Builder(b.allocator)
		defer bld.Release()
		bld.AppendValues(c.floats, c.valid)
		return bld.NewArray()
	case ColumnBool:
		bld := array.NewBooleanBuilder(b.allocator)
		defer bld.Release()
		bld.AppendValues(c.bools, c.valid)
		return bld.NewArray()
	default:
		bld := array.NewStringBuilder(b.allocator)
		defer bld.Release()
		bld.AppendValues(c.strs, c.valid)
		return bld.NewArray()
	}
}

// Close writes the Parquet footer.
func (b *ArrowBackend) Close() error {
	if b.writer == nil {
		return ErrWriterClosed
	}
	fw := b.writer
	b.writer = nil
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// Abort drops the writer without finishing the file.
func (b *ArrowBackend) Abort() {
	if b.writer != nil {
		_ = b.writer.Close()
		b.writer = nil
	}
}

// nopCloser keeps pqarrow from closing the destination file; the Writer
// owns it and must sync it before publishing.
type nopCloser struct {
	io.Writer
}
