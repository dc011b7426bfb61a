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

package aggregator

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

const (
	EmitBars    = "bars"
	EmitRecords = "records"
)

// Config controls bar building.
type Config struct {
	Emit          []string      `mapstructure:"emit"`
	BucketSize    time.Duration `mapstructure:"bucket_size"`
	GroupingField string        `mapstructure:"grouping_field"`
	PriceField    string        `mapstructure:"price_field"`
	VolumeField   string        `mapstructure:"volume_field"`
	Statistics    []string      `mapstructure:"statistics"`
	DistinctField string        `mapstructure:"distinct_field"`
}

// DefaultConfig returns one-minute bars with VWAP.
func DefaultConfig() Config {
	return Config{
		Emit:       []string{EmitBars},
		BucketSize: time.Minute,
		Statistics: []string{"vwap"},
	}
}

// EmitsBars reports whether bar output is configured.
func (c Config) EmitsBars() bool { return slices.Contains(c.Emit, EmitBars) }

// EmitsRecords reports whether pass-through record output is configured.
func (c Config) EmitsRecords() bool { return slices.Contains(c.Emit, EmitRecords) }

// Validate checks the configuration against s. Failures are SchemaErrors.
func (c Config) Validate(s *schema.Schema) error {
	if len(c.Emit) == 0 {
		return tickerr.Schema("aggregation.emit is empty")
	}
	for _, e := range c.Emit {
		if e != EmitBars && e != EmitRecords {
			return tickerr.Schema("aggregation.emit: unknown output %q", e)
		}
	}
	if !c.EmitsBars() {
		return nil
	}

	if c.BucketSize <= 0 {
		return tickerr.Schema("aggregation.bucket_size must be positive, got %s", c.BucketSize)
	}
	if c.GroupingField == "" {
		return tickerr.Schema("aggregation.grouping_field is required")
	}
	if s.Index(c.GroupingField) < 0 {
		return tickerr.Schema("aggregation.grouping_field %q is not in the schema", c.GroupingField)
	}
	for _, f := range []struct{ key, name string }{
		{"aggregation.price_field", c.PriceField},
		{"aggregation.volume_field", c.VolumeField},
	} {
		if f.name == "" {
			return tickerr.Schema("%s is required", f.key)
		}
		idx := s.Index(f.name)
		if idx < 0 {
			return tickerr.Schema("%s %q is not in the schema", f.key, f.name)
		}
		field := s.Field(idx)
		if !field.Type.Numeric() {
			return tickerr.Schema("%s %q has type %s, want int or float", f.key, f.name, field.Type)
		}
		if field.Optional {
			return tickerr.Schema("%s %q cannot be optional", f.key, f.name)
		}
	}

	stats, err := c.ParseStatistics()
	if err != nil {
		return err
	}
	for _, st := range stats {
		if st.Kind == StatDistinct {
			if c.DistinctField == "" {
				return tickerr.Schema("aggregation.statistics: distinct needs aggregation.distinct_field")
			}
			if s.Index(c.DistinctField) < 0 {
				return tickerr.Schema("aggregation.distinct_field %q is not in the schema", c.DistinctField)
			}
		}
	}
	return nil
}

// StatKind identifies an optional bar statistic.
type StatKind int

const (
	StatVWAP StatKind = iota + 1
	StatQuantile
	StatDistinct
)

// Statistic is a parsed entry of aggregation.statistics.
type Statistic struct {
	Kind     StatKind
	Name     string  // output column name
	Quantile float64 // for StatQuantile, in (0, 1)
}

// ParseStatistics parses the statistics list: "vwap", "distinct", and
// price quantiles written as "pNN" (p50, p95, p99.9).
func (c Config) ParseStatistics() ([]Statistic, error) {
	seen := make(map[string]bool, len(c.Statistics))
	out := make([]Statistic, 0, len(c.Statistics))
	for _, raw := range c.Statistics {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			return nil, tickerr.Schema("aggregation.statistics: duplicate %q", raw)
		}
		seen[name] = true

		switch {
		case name == "vwap":
			out = append(out, Statistic{Kind: StatVWAP, Name: "vwap"})
		case name == "distinct":
			out = append(out, Statistic{Kind: StatDistinct, Name: "distinct_" + c.DistinctField})
		case strings.HasPrefix(name, "p"):
			pct, err := strconv.ParseFloat(name[1:], 64)
			if err != nil || pct <= 0 || pct >= 100 {
				return nil, tickerr.Schema("aggregation.statistics: bad quantile %q", raw)
			}
			out = append(out, Statistic{
				Kind:     StatQuantile,
				Name:     "price_" + strings.ReplaceAll(name, ".", "_"),
				Quantile: pct / 100,
			})
		default:
			return nil, tickerr.Schema("aggregation.statistics: unknown statistic %q", raw)
		}
	}
	return out, nil
}

func (s Statistic) String() string {
	if s.Kind == StatQuantile {
		return fmt.Sprintf("%s(q=%g)", s.Name, s.Quantile)
	}
	return s.Name
}
