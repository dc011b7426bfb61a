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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Result describes a published file.
type Result struct {
	// FileName is the path of the published Parquet file.
	FileName string

	// RecordCount is the number of rows written to this file.
	RecordCount int64

	// BatchSizes lists the row count of every row group, in order.
	BatchSizes []int

	// FileSize is the size of the Parquet file in bytes.
	FileSize int64

	// Fingerprint identifies the column layout.
	Fingerprint string
}

var (
	ErrWriterClosed    = errors.New("parquetwriter: writer is already closed")
	ErrBatchFull       = errors.New("parquetwriter: batch is full")
	ErrSchemaViolation = errors.New("parquetwriter: row violates schema")
)

// MetadataSchemaFingerprint is the key/value metadata key holding the
// column layout fingerprint.
const MetadataSchemaFingerprint = "tickrunner.columns.fingerprint"

// Writer produces one Parquet file. Rows are buffered in a ColumnBatch and
// written as one row group each time the batch fills. The file is built
// under a temporary name next to its final path and only renamed into
// place by Close; Abort removes it.
type Writer struct {
	cfg       Config
	schema    *BatchSchema
	finalPath string
	tmp       *os.File
	out       *countingWriter
	backend   ParquetBackend
	batch     *ColumnBatch

	records    int64
	batchSizes []int
	done       bool
}

// Option configures a Writer.
type Option func(*BackendConfig)

// WithMetadata adds a key/value pair to the file metadata.
func WithMetadata(key, value string) Option {
	return func(c *BackendConfig) {
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		c.Metadata[key] = value
	}
}

// NewWriter starts a file that will be published at finalPath.
func NewWriter(finalPath string, schema *BatchSchema, cfg Config, opts ...Option) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bcfg := BackendConfig{
		Type:           cfg.Backend,
		Schema:         schema,
		Compression:    cfg.OutputCompression,
		RowGroupLength: cfg.BatchRowCapacity,
	}
	for _, opt := range opts {
		opt(&bcfg)
	}
	WithMetadata(MetadataSchemaFingerprint, schema.FingerprintHex())(&bcfg)

	dir := filepath.Dir(finalPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(finalPath)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	out := &countingWriter{w: tmp}

	backend, err := NewBackend(out, bcfg)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}

	return &Writer{
		cfg:       cfg,
		schema:    schema,
		finalPath: finalPath,
		tmp:       tmp,
		out:       out,
		backend:   backend,
		batch:     NewColumnBatch(schema, cfg.BatchRowCapacity),
	}, nil
}

// Append adds one row, flushing the batch when it reaches capacity.
func (w *Writer) Append(values ...any) error {
	if w.done {
		return ErrWriterClosed
	}
	if err := w.batch.Append(values...); err != nil {
		return err
	}
	if w.batch.Full() {
		return w.Flush()
	}
	return nil
}

// Flush writes the buffered rows as one row group. It is a no-op when the
// batch is empty.
func (w *Writer) Flush() error {
	if w.done {
		return ErrWriterClosed
	}
	n := w.batch.Len()
	if n == 0 {
		return nil
	}
	if err := w.backend.WriteBatch(w.batch); err != nil {
		return err
	}
	w.records += int64(n)
	w.batchSizes = append(w.batchSizes, n)
	w.batch.Reset()

	attrs := otelmetric.WithAttributes(attribute.String("backend", w.backend.Name()))
	batchesWrittenCounter.Add(context.Background(), 1, attrs)
	rowsWrittenCounter.Add(context.Background(), int64(n), attrs)
	return nil
}

// Close flushes remaining rows, finishes the file and publishes it.
// On failure the temporary file is removed.
func (w *Writer) Close(ctx context.Context) (*Result, error) {
	if w.done {
		return nil, ErrWriterClosed
	}
	if err := w.Flush(); err != nil {
		w.Abort()
		return nil, err
	}
	w.done = true

	if err := w.finish(); err != nil {
		_ = os.Remove(w.tmp.Name())
		return nil, err
	}

	bytesWrittenCounter.Add(ctx, w.out.n, otelmetric.WithAttributes(
		attribute.String("backend", w.backend.Name()),
		attribute.String("compression", string(w.cfg.OutputCompression)),
	))

	return &Result{
		FileName:    w.finalPath,
		RecordCount: w.records,
		BatchSizes:  w.batchSizes,
		FileSize:    w.out.n,
		Fingerprint: w.schema.FingerprintHex(),
	}, nil
}

func (w *Writer) finish() error {
	if err := w.backend.Close(); err != nil {
		_ = w.tmp.Close()
		return err
	}
	if err := w.tmp.Sync(); err != nil {
		_ = w.tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", w.tmp.Name(), err)
	}
	if err := w.tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.tmp.Name(), err)
	}
	if err := os.Rename(w.tmp.Name(), w.finalPath); err != nil {
		return fmt.Errorf("failed to publish %s: %w", w.finalPath, err)
	}
	return nil
}

// Abort discards the file. It is safe to call more than once and after
// Close.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.backend.Abort()
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

// Records returns the number of rows written so far, excluding the
// unflushed batch.
func (w *Writer) Records() int64 { return w.records }

// Buffered returns the number of rows waiting in the active batch.
func (w *Writer) Buffered() int { return w.batch.Len() }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
