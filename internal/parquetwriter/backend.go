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
	"maps"
	"slices"
)

// ParquetBackend encodes batches into a Parquet stream.
type ParquetBackend interface {
	// WriteBatch writes every row of batch as exactly one row group.
	WriteBatch(batch *ColumnBatch) error

	// Close writes the footer. It does not close the underlying writer.
	Close() error

	// Abort releases resources without completing the file.
	Abort()

	// Name returns the backend implementation name.
	Name() string
}

type BackendType string

const (
	// BackendGoParquet uses the parquet-go/parquet-go library.
	BackendGoParquet BackendType = "go-parquet"

	// BackendArrow uses Apache Arrow record batches through pqarrow.
	BackendArrow BackendType = "arrow"

	// DefaultBackend is the default backend type used when not specified.
	DefaultBackend = BackendArrow
)

// BackendConfig is everything a backend needs to start a file.
type BackendConfig struct {
	Type        BackendType
	Schema      *BatchSchema
	Compression Compression

	// RowGroupLength is the batch capacity. Backends must never split a
	// batch across row groups.
	RowGroupLength int

	// Metadata is written as file key/value metadata.
	Metadata map[string]string
}

func (c BackendConfig) sortedMetadataKeys() []string {
	return slices.Sorted(maps.Keys(c.Metadata))
}

// NewBackend returns a backend writing to w.
func NewBackend(w io.Writer, cfg BackendConfig) (ParquetBackend, error) {
	switch cfg.Type {
	case BackendArrow, "":
		return NewArrowBackend(w, cfg)
	case BackendGoParquet:
		return NewGoParquetBackend(w, cfg)
	default:
		return nil, &ConfigError{Field: "backend", Message: fmt.Sprintf("unknown backend %q", cfg.Type)}
	}
}
