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
	"slices"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// GoParquetBackend implements ParquetBackend using parquet-go. Rows are
// written as parquet.Row values and the writer is flushed after every
// batch, which closes the row group.
type GoParquetBackend struct {
	schema *BatchSchema
	writer *parquet.Writer

	// leaf[i] is the parquet column index of batch column i. parquet-go
	// orders group fields by name.
	leaf  []int
	order []int // batch column index by leaf index
	rows  []parquet.Row
}

var _ ParquetBackend = (*GoParquetBackend)(nil)

var goParquetCodecs = map[Compression]compress.Codec{
	CompressionNone:   &parquet.Uncompressed,
	CompressionSnappy: &parquet.Snappy,
	CompressionGzip:   &parquet.Gzip,
	CompressionZstd:   &parquet.Zstd,
	CompressionLZ4:    &parquet.Lz4Raw,
}

func parquetNode(c ColumnSpec) parquet.Node {
	var node parquet.Node
	switch c.Type {
	case ColumnInt64:
		node = parquet.Int(64)
	case ColumnFloat64:
		node = parquet.Leaf(parquet.DoubleType)
	case ColumnTimestamp:
		node = parquet.Timestamp(parquet.Nanosecond)
	case ColumnBool:
		node = parquet.Leaf(parquet.BooleanType)
	default:
		node = parquet.String()
	}
	if c.Nullable {
		node = parquet.Optional(node)
	}
	return node
}

// NewGoParquetBackend creates a parquet-go backend writing to w.
func NewGoParquetBackend(w io.Writer, cfg BackendConfig) (*GoParquetBackend, error) {
	codec, ok := goParquetCodecs[cfg.Compression]
	if !ok {
		return nil, &ConfigError{Field: "output_compression", Message: fmt.Sprintf("unknown codec %q", cfg.Compression)}
	}

	nodes := make(parquet.Group, cfg.Schema.Len())
	for _, c := range cfg.Schema.columns {
		nodes[c.Name] = parquetNode(c)
	}
	schema := parquet.NewSchema("tickrunner", nodes)

	names := make([]string, cfg.Schema.Len())
	for i, c := range cfg.Schema.columns {
		names[i] = c.Name
	}
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	leaf := make([]int, len(names))
	order := make([]int, len(names))
	for i, name := range names {
		j, _ := slices.BinarySearch(sorted, name)
		leaf[i] = j
		order[j] = i
	}

	opts := []parquet.WriterOption{
		schema,
		parquet.Compression(codec),
		parquet.PageBufferSize(32 * 1024),
		parquet.MaxRowsPerRowGroup(int64(cfg.RowGroupLength)),
		parquet.CreatedBy("tickrunner", "", ""),
	}
	for _, k := range cfg.sortedMetadataKeys() {
		opts = append(opts, parquet.KeyValueMetadata(k, cfg.Metadata[k]))
	}

	return &GoParquetBackend{
		schema: cfg.Schema,
		writer: parquet.NewWriter(w, opts...),
		leaf:   leaf,
		order:  order,
	}, nil
}

// Name returns the backend name.
func (b *GoParquetBackend) Name() string {
	return string(BackendGoParquet)
}

// WriteBatch writes batch and flushes it as one row group.
func (b *GoParquetBackend) WriteBatch(batch *ColumnBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	if b.writer == nil {
		return ErrWriterClosed
	}

	n := batch.Len()
	b.rows = slices.Grow(b.rows[:0], n)[:n]
	for r := range n {
		row := b.rows[r][:0]
		for leaf, ci := range b.order {
			row = append(row, b.value(batch, ci, r).Level(0, b.defLevel(batch, ci, r), leaf))
		}
		b.rows[r] = row
	}

	if _, err := b.writer.WriteRows(b.rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := b.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush row group: %w", err)
	}
	return nil
}

func (b *GoParquetBackend) defLevel(batch *ColumnBatch, ci, r int) int {
	if b.schema.columns[ci].Nullable && batch.cols[ci].valid[r] {
		return 1
	}
	return 0
}

func (b *GoParquetBackend) value(batch *ColumnBatch, ci, r int) parquet.Value {
	c := &batch.cols[ci]
	if !c.valid[r] {
		return parquet.NullValue()
	}
	switch b.schema.columns[ci].Type {
	case ColumnInt64, ColumnTimestamp:
		return parquet.Int64Value(c.ints[r])
	case ColumnFloat64:
		return parquet.DoubleValue(c.floats[r])
	case ColumnBool:
		return parquet.BooleanValue(c.bools[r])
	default:
		return parquet.ByteArrayValue([]byte(c.strs[r]))
	}
}

// Close writes the Parquet footer.
func (b *GoParquetBackend) Close() error {
	if b.writer == nil {
		return ErrWriterClosed
	}
	w := b.writer
	b.writer = nil
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// Abort drops buffered pages.
func (b *GoParquetBackend) Abort() {
	if b.writer != nil {
		b.writer.Reset(io.Discard)
		b.writer = nil
	}
}
