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

package lineparser

import (
	"time"

	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

const (
	LayoutDelimited  = "delimited"
	LayoutFixedWidth = "fixed_width"
)

// FilterConfig drops lines whose raw token for Field is (In) or is not
// (NotIn) one of the listed values. Exactly one of the lists must be set.
type FilterConfig struct {
	Field string   `mapstructure:"field" yaml:"field"`
	In    []string `mapstructure:"in" yaml:"in,omitempty"`
	NotIn []string `mapstructure:"not_in" yaml:"not_in,omitempty"`
}

// Config controls tokenizing and decoding of input lines.
type Config struct {
	Layout          string         `mapstructure:"layout"`
	Delimiter       string         `mapstructure:"delimiter"`
	TrimSpace       bool           `mapstructure:"trim_space"`
	HasHeader       bool           `mapstructure:"has_header"`
	Codec           string         `mapstructure:"codec"`
	Timezone        string         `mapstructure:"timezone"`
	TimestampField  string         `mapstructure:"timestamp_field"`
	BaseDatePattern string         `mapstructure:"base_date_pattern"`
	BaseDateLayout  string         `mapstructure:"base_date_layout"`
	Filters         []FilterConfig `mapstructure:"filters"`
}

// DefaultConfig returns comma-delimited parsing in UTC.
func DefaultConfig() Config {
	return Config{
		Layout:         LayoutDelimited,
		Delimiter:      ",",
		TrimSpace:      true,
		Codec:          "auto",
		Timezone:       "UTC",
		BaseDateLayout: "20060102",
	}
}

// FixedWidth reports whether the fixed-width layout is selected.
func (c Config) FixedWidth() bool { return c.Layout == LayoutFixedWidth }

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "UTC" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks the configuration against s. Failures are SchemaErrors.
func (c Config) Validate(s *schema.Schema) error {
	switch c.Layout {
	case LayoutDelimited, "":
		if c.Delimiter == "" {
			return tickerr.Schema("input.delimiter cannot be empty")
		}
	case LayoutFixedWidth:
	default:
		return tickerr.Schema("input.layout %q is not %s or %s", c.Layout, LayoutDelimited, LayoutFixedWidth)
	}

	if _, err := c.Location(); err != nil {
		return tickerr.Schema("input.timezone: %v", err)
	}

	if c.TimestampField == "" {
		return tickerr.Schema("input.timestamp_field is required")
	}
	idx := s.Index(c.TimestampField)
	if idx < 0 {
		return tickerr.Schema("input.timestamp_field %q is not in the schema", c.TimestampField)
	}
	f := s.Field(idx)
	if f.Type != schema.TypeTimestamp {
		return tickerr.Schema("input.timestamp_field %q has type %s, want timestamp", c.TimestampField, f.Type)
	}
	if f.Optional {
		return tickerr.Schema("input.timestamp_field %q cannot be optional", c.TimestampField)
	}

	for _, flt := range c.Filters {
		if s.Index(flt.Field) < 0 {
			return tickerr.Schema("input.filters: field %q is not in the schema", flt.Field)
		}
		if (len(flt.In) == 0) == (len(flt.NotIn) == 0) {
			return tickerr.Schema("input.filters: field %q needs exactly one of in or not_in", flt.Field)
		}
	}

	for i := range s.Len() {
		if s.Field(i).TimeFmt.NeedsBaseDate() && c.BaseDatePattern == "" {
			return tickerr.Schema("field %q uses a time-of-day format but input.base_date_pattern is empty", s.Field(i).Name)
		}
	}
	return nil
}
