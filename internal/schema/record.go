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

package schema

import (
	"strconv"
)

// Value is one typed field value. Int carries TypeInt and TypeTimestamp
// (Unix nanoseconds), Float carries TypeFloat and Str carries TypeString
// and TypeCategory.
type Value struct {
	Kind  FieldType
	Null  bool
	Int   int64
	Float float64
	Str   string
}

// IntValue returns a TypeInt value.
func IntValue(v int64) Value { return Value{Kind: TypeInt, Int: v} }

// FloatValue returns a TypeFloat value.
func FloatValue(v float64) Value { return Value{Kind: TypeFloat, Float: v} }

// TimestampValue returns a TypeTimestamp value from Unix nanoseconds.
func TimestampValue(ns int64) Value { return Value{Kind: TypeTimestamp, Int: ns} }

// StringValue returns a TypeString value.
func StringValue(s string) Value { return Value{Kind: TypeString, Str: s} }

// CategoryValue returns a TypeCategory value.
func CategoryValue(s string) Value { return Value{Kind: TypeCategory, Str: s} }

// NullValue returns a null of the given kind.
func NullValue(kind FieldType) Value { return Value{Kind: kind, Null: true} }

// Float64 reads a numeric value as float64.
func (v Value) Float64() (float64, bool) {
	if v.Null {
		return 0, false
	}
	switch v.Kind {
	case TypeFloat:
		return v.Float, true
	case TypeInt:
		return float64(v.Int), true
	}
	return 0, false
}

// Key renders the value as a grouping key. Nulls render as the empty string.
func (v Value) Key() string {
	if v.Null {
		return ""
	}
	switch v.Kind {
	case TypeInt, TypeTimestamp:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return v.Str
	}
}

// Any returns the payload as int64, float64 or string, or nil for nulls.
func (v Value) Any() any {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case TypeInt, TypeTimestamp:
		return v.Int
	case TypeFloat:
		return v.Float
	default:
		return v.Str
	}
}

// Record is one decoded input line. It is never modified after the parser
// returns it.
type Record struct {
	Line      int64 // 1-based line number in the source file
	Timestamp int64 // source timestamp, Unix nanoseconds
	Values    []Value
}
