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
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ColumnType is the physical type of an output column.
type ColumnType int

const (
	ColumnInt64 ColumnType = iota + 1
	ColumnFloat64
	ColumnString
	ColumnTimestamp // int64 Unix nanoseconds, UTC
	ColumnBool
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInt64:
		return "int64"
	case ColumnFloat64:
		return "float64"
	case ColumnString:
		return "string"
	case ColumnTimestamp:
		return "timestamp"
	case ColumnBool:
		return "bool"
	}
	return "ColumnType(" + strconv.Itoa(int(t)) + ")"
}

// ColumnSpec describes one output column.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// BatchSchema is the ordered, immutable column layout of one output file.
type BatchSchema struct {
	columns     []ColumnSpec
	fingerprint uint64
}

// NewBatchSchema validates columns and returns a BatchSchema.
func NewBatchSchema(columns []ColumnSpec) (*BatchSchema, error) {
	if len(columns) == 0 {
		return nil, &ConfigError{Field: "columns", Message: "cannot be empty"}
	}
	seen := make(map[string]bool, len(columns))
	h := xxhash.New()
	for _, c := range columns {
		if c.Name == "" {
			return nil, &ConfigError{Field: "columns", Message: "column name cannot be empty"}
		}
		if seen[c.Name] {
			return nil, &ConfigError{Field: "columns", Message: fmt.Sprintf("duplicate column %q", c.Name)}
		}
		if c.Type < ColumnInt64 || c.Type > ColumnBool {
			return nil, &ConfigError{Field: "columns", Message: fmt.Sprintf("column %q has unknown type %d", c.Name, c.Type)}
		}
		seen[c.Name] = true
		_, _ = h.WriteString(c.Name)
		_, _ = h.WriteString("\x00" + c.Type.String())
		_, _ = h.WriteString("\x00" + strconv.FormatBool(c.Nullable) + "\n")
	}

	cols := make([]ColumnSpec, len(columns))
	copy(cols, columns)
	return &BatchSchema{columns: cols, fingerprint: h.Sum64()}, nil
}

// Len returns the number of columns.
func (s *BatchSchema) Len() int { return len(s.columns) }

// Column returns column i.
func (s *BatchSchema) Column(i int) ColumnSpec { return s.columns[i] }

// Columns returns a copy of the column list.
func (s *BatchSchema) Columns() []ColumnSpec {
	out := make([]ColumnSpec, len(s.columns))
	copy(out, s.columns)
	return out
}

// Fingerprint is a stable hash of the column layout.
func (s *BatchSchema) Fingerprint() uint64 { return s.fingerprint }

// FingerprintHex is Fingerprint rendered as 16 hex digits.
func (s *BatchSchema) FingerprintHex() string { return fmt.Sprintf("%016x", s.fingerprint) }

type column struct {
	valid  []bool
	ints   []int64
	floats []float64
	strs   []string
	bools  []bool
}

// ColumnBatch is a fixed-capacity column-oriented row buffer for one
// BatchSchema. It is not safe for concurrent use.
type ColumnBatch struct {
	schema   *BatchSchema
	capacity int
	rows     int
	cols     []column
}

// NewColumnBatch returns an empty batch holding up to capacity rows.
func NewColumnBatch(s *BatchSchema, capacity int) *ColumnBatch {
	b := &ColumnBatch{
		schema:   s,
		capacity: capacity,
		cols:     make([]column, s.Len()),
	}
	for i, spec := range s.columns {
		c := &b.cols[i]
		c.valid = make([]bool, 0, capacity)
		switch spec.Type {
		case ColumnInt64, ColumnTimestamp:
			c.ints = make([]int64, 0, capacity)
		case ColumnFloat64:
			c.floats = make([]float64, 0, capacity)
		case ColumnString:
			c.strs = make([]string, 0, capacity)
		case ColumnBool:
			c.bools = make([]bool, 0, capacity)
		}
	}
	return b
}

// Schema returns the batch schema.
func (b *ColumnBatch) Schema() *BatchSchema { return b.schema }

// Len returns the number of buffered rows.
func (b *ColumnBatch) Len() int { return b.rows }

// Cap returns the row capacity.
func (b *ColumnBatch) Cap() int { return b.capacity }

// Full reports whether the batch is at capacity.
func (b *ColumnBatch) Full() bool { return b.rows >= b.capacity }

// Append adds one row. values must match the schema in arity and type;
// nil is null. Accepted Go types are int64 (int and int32 widen), float64,
// string, bool and, for timestamp columns, int64 nanoseconds or time.Time.
// A rejected row leaves the batch unchanged.
func (b *ColumnBatch) Append(values ...any) error {
	if b.Full() {
		return ErrBatchFull
	}
	if len(values) != len(b.cols) {
		return fmt.Errorf("%w: got %d values, want %d", ErrSchemaViolation, len(values), len(b.cols))
	}
	for i, v := range values {
		if err := b.check(i, v); err != nil {
			return err
		}
	}
	for i, v := range values {
		b.appendValue(i, v)
	}
	b.rows++
	return nil
}

func (b *ColumnBatch) check(i int, v any) error {
	spec := b.schema.columns[i]
	if v == nil {
		if !spec.Nullable {
			return fmt.Errorf("%w: column %q is not nullable", ErrSchemaViolation, spec.Name)
		}
		return nil
	}
	ok := false
	switch spec.Type {
	case ColumnInt64:
		switch v.(type) {
		case int64, int, int32:
			ok = true
		}
	case ColumnTimestamp:
		switch v.(type) {
		case int64, time.Time:
			ok = true
		}
	case ColumnFloat64:
		_, ok = v.(float64)
	case ColumnString:
		_, ok = v.(string)
	case ColumnBool:
		_, ok = v.(bool)
	}
	if !ok {
		return fmt.Errorf("%w: column %q wants %s, got %T", ErrSchemaViolation, spec.Name, spec.Type, v)
	}
	return nil
}

func (b *ColumnBatch) appendValue(i int, v any) {
	c := &b.cols[i]
	c.valid = append(c.valid, v != nil)
	switch b.schema.columns[i].Type {
	case ColumnInt64, ColumnTimestamp:
		var n int64
		switch x := v.(type) {
		case int64:
			n = x
		case int:
			n = int64(x)
		case int32:
			n = int64(x)
		case time.Time:
			n = x.UnixNano()
		}
		c.ints = append(c.ints, n)
	case ColumnFloat64:
		f, _ := v.(float64)
		c.floats = append(c.floats, f)
	case ColumnString:
		s, _ := v.(string)
		c.strs = append(c.strs, s)
	case ColumnBool:
		x, _ := v.(bool)
		c.bools = append(c.bools, x)
	}
}

// Reset empties the batch, keeping its buffers.
func (b *ColumnBatch) Reset() {
	for i := range b.cols {
		c := &b.cols[i]
		c.valid = c.valid[:0]
		c.ints = c.ints[:0]
		c.floats = c.floats[:0]
		clear(c.strs)
		c.strs = c.strs[:0]
		c.bools = c.bools[:0]
	}
	b.rows = 0
}
