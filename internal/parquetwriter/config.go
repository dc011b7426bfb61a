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
	"strings"

	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

const (
	// DefaultBatchRowCapacity is the number of rows per ColumnBatch, and
	// therefore per row group, when not configured.
	DefaultBatchRowCapacity = 65536
)

// Compression names an output page compression codec.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionLZ4    Compression = "lz4"
)

// Config controls output files.
type Config struct {
	// BatchRowCapacity is the number of rows buffered before a batch is
	// flushed as one row group.
	BatchRowCapacity int `mapstructure:"batch_row_capacity"`

	OutputCompression Compression `mapstructure:"output_compression"`
	Backend           BackendType `mapstructure:"backend"`

	// OutputDir receives finished files. Temporary files are created in
	// the same directory so that publishing is a rename.
	OutputDir string `mapstructure:"output_dir"`
}

// DefaultConfig returns zstd-compressed Parquet via the arrow backend.
func DefaultConfig() Config {
	return Config{
		BatchRowCapacity:  DefaultBatchRowCapacity,
		OutputCompression: CompressionZstd,
		Backend:           DefaultBackend,
		OutputDir:         "./out",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BatchRowCapacity <= 0 {
		return &ConfigError{Field: "batch_row_capacity", Message: fmt.Sprintf("must be positive, got %d", c.BatchRowCapacity)}
	}
	c.OutputCompression = Compression(strings.ToLower(string(c.OutputCompression)))
	switch c.OutputCompression {
	case "":
		c.OutputCompression = CompressionNone
	case CompressionNone, CompressionSnappy, CompressionGzip, CompressionZstd, CompressionLZ4:
	default:
		return &ConfigError{Field: "output_compression", Message: fmt.Sprintf("unknown codec %q", c.OutputCompression)}
	}
	switch c.Backend {
	case "":
		c.Backend = DefaultBackend
	case BackendArrow, BackendGoParquet:
	default:
		return &ConfigError{Field: "backend", Message: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	if c.OutputDir == "" {
		return &ConfigError{Field: "output_dir", Message: "cannot be empty"}
	}
	return nil
}

// ConfigError is a writer configuration failure. It matches
// tickerr.ErrSchema.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "parquetwriter config: " + e.Field + " " + e.Message
}

func (e *ConfigError) Unwrap() error { return tickerr.ErrSchema }
