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

// Package schema holds the typed field definitions shared by every stage of
// a run, and the Record produced for each decoded input line.
package schema

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

// FieldType is the semantic type of a field.
type FieldType int

const (
	TypeInt FieldType = iota + 1
	TypeFloat
	TypeTimestamp
	TypeString
	TypeCategory
)

var fieldTypeNames = map[FieldType]string{
	TypeInt:       "int",
	TypeFloat:     "float",
	TypeTimestamp: "timestamp",
	TypeString:    "string",
	TypeCategory:  "category",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType maps a configuration name to a FieldType. A few common
// aliases are accepted.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "int64":
		return TypeInt, nil
	case "float", "double", "float64":
		return TypeFloat, nil
	case "timestamp", "time":
		return TypeTimestamp, nil
	case "string", "str":
		return TypeString, nil
	case "category", "enum":
		return TypeCategory, nil
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// Numeric reports whether values of this type can be read as a float64.
func (t FieldType) Numeric() bool {
	return t == TypeInt || t == TypeFloat
}

// FieldSpec is the configuration form of a field.
type FieldSpec struct {
	Name     string   `mapstructure:"name" yaml:"name" json:"name"`
	Type     string   `mapstructure:"type" yaml:"type" json:"type"`
	Format   string   `mapstructure:"format" yaml:"format,omitempty" json:"format,omitempty"`
	Width    int      `mapstructure:"width" yaml:"width,omitempty" json:"width,omitempty"`
	Values   []string `mapstructure:"values" yaml:"values,omitempty" json:"values,omitempty"`
	Optional bool     `mapstructure:"optional" yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Field is a validated field definition.
type Field struct {
	Name     string
	Type     FieldType
	Width    int
	Optional bool
	TimeFmt  TimestampFormat
	values   mapset.Set[string]
}

// Allows reports whether v is an accepted category value. Categories without
// a configured value list accept anything.
func (f *Field) Allows(v string) bool {
	if f.values == nil {
		return true
	}
	return f.values.Contains(v)
}

// Schema is an ordered, immutable list of fields. It is safe to share
// between goroutines.
type Schema struct {
	fields      []Field
	index       map[string]int
	specs       []FieldSpec
	fingerprint uint64
}

// New validates specs and builds a Schema. When fixedWidth is true every
// field must declare a positive width. Failures are SchemaErrors.
func New(specs []FieldSpec, fixedWidth bool) (*Schema, error) {
	if len(specs) == 0 {
		return nil, tickerr.Schema("schema has no fields")
	}

	s := &Schema{
		fields: make([]Field, 0, len(specs)),
		index:  make(map[string]int, len(specs)),
		specs:  make([]FieldSpec, len(specs)),
	}
	copy(s.specs, specs)

	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, tickerr.Schema("field %d has no name", i)
		}
		if _, dup := s.index[name]; dup {
			return nil, tickerr.Schema("duplicate field name %q", name)
		}

		typ, err := ParseFieldType(spec.Type)
		if err != nil {
			return nil, tickerr.Schema("field %q: %v", name, err)
		}

		f := Field{Name: name, Type: typ, Width: spec.Width, Optional: spec.Optional}

		if fixedWidth && spec.Width <= 0 {
			return nil, tickerr.Schema("field %q: fixed-width layout requires a positive width", name)
		}
		if spec.Width < 0 {
			return nil, tickerr.Schema("field %q: negative width %d", name, spec.Width)
		}

		switch typ {
		case TypeTimestamp:
			tf, err := ParseTimestampFormat(spec.Format)
			if err != nil {
				return nil, tickerr.Schema("field %q: %v", name, err)
			}
			f.TimeFmt = tf
		default:
			if spec.Format != "" {
				return nil, tickerr.Schema("field %q: format is only valid for timestamp fields", name)
			}
		}

		if len(spec.Values) > 0 {
			if typ != TypeCategory {
				return nil, tickerr.Schema("field %q: values are only valid for category fields", name)
			}
			set := mapset.NewThreadUnsafeSet[string]()
			for _, v := range spec.Values {
				if !set.Add(v) {
					return nil, tickerr.Schema("field %q: duplicate category value %q", name, v)
				}
			}
			f.values = set
		}

		s.index[name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	s.fingerprint = computeFingerprint(s.fields)
	return s, nil
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Field returns the i'th field.
func (s *Schema) Field(i int) *Field { return &s.fields[i] }

// Fields returns a copy of the field list.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Index returns the position of the named field, or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i := range s.fields {
		names[i] = s.fields[i].Name
	}
	return names
}

// Fingerprint is a stable hash of field names, types and timestamp formats.
func (s *Schema) Fingerprint() uint64 { return s.fingerprint }

// JSON returns the field specs as JSON, used as self-describing metadata in
// output files.
func (s *Schema) JSON() string {
	b, err := json.Marshal(s.specs)
	if err != nil {
		// FieldSpec only holds strings, ints and bools.
		panic(fmt.Errorf("marshal schema: %w", err))
	}
	return string(b)
}

func computeFingerprint(fields []Field) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, f := range fields {
		_, _ = h.WriteString(f.Name)
		binary.LittleEndian.PutUint64(buf[:], uint64(f.Type))
		_, _ = h.Write(buf[:])
		_, _ = h.WriteString(f.TimeFmt.String())
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
