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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type timestampKind int

const (
	tsISO8601 timestampKind = iota
	tsUnix
	tsLayout
	tsTimeOfDay
)

// TimestampFormat is the parsing rule of a timestamp field.
type TimestampFormat struct {
	kind   timestampKind
	scale  int64 // nanoseconds per unit for tsUnix
	layout string
}

const (
	isoOutLayout = "2006-01-02T15:04:05.999999999Z07:00"
	todPrefix    = "tod:"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ErrNoBaseDate is returned when a time-of-day timestamp is parsed without a
// base date.
var ErrNoBaseDate = errors.New("time-of-day timestamp needs a base date")

// ParseTimestampFormat parses the format string of a timestamp field.
// An empty string selects iso8601.
func ParseTimestampFormat(s string) (TimestampFormat, error) {
	switch s {
	case "", "iso8601":
		return TimestampFormat{kind: tsISO8601}, nil
	case "unix":
		return TimestampFormat{kind: tsUnix, scale: int64(time.Second)}, nil
	case "unix_ms":
		return TimestampFormat{kind: tsUnix, scale: int64(time.Millisecond)}, nil
	case "unix_us":
		return TimestampFormat{kind: tsUnix, scale: int64(time.Microsecond)}, nil
	case "unix_ns":
		return TimestampFormat{kind: tsUnix, scale: 1}, nil
	}
	if layout, ok := strings.CutPrefix(s, todPrefix); ok {
		if layout == "" {
			return TimestampFormat{}, fmt.Errorf("empty time-of-day layout")
		}
		return TimestampFormat{kind: tsTimeOfDay, layout: layout}, nil
	}
	// Go layouts always reference the year or the hour of the reference time.
	if !strings.Contains(s, "2006") && !strings.Contains(s, "15") && !strings.Contains(s, "03") {
		return TimestampFormat{}, fmt.Errorf("unrecognised timestamp format %q", s)
	}
	return TimestampFormat{kind: tsLayout, layout: s}, nil
}

func (f TimestampFormat) String() string {
	switch f.kind {
	case tsISO8601:
		return "iso8601"
	case tsUnix:
		switch f.scale {
		case int64(time.Second):
			return "unix"
		case int64(time.Millisecond):
			return "unix_ms"
		case int64(time.Microsecond):
			return "unix_us"
		default:
			return "unix_ns"
		}
	case tsTimeOfDay:
		return todPrefix + f.layout
	default:
		return f.layout
	}
}

// NeedsBaseDate reports whether parsing requires a base date.
func (f TimestampFormat) NeedsBaseDate() bool { return f.kind == tsTimeOfDay }

// Parse converts s to Unix nanoseconds. Zone-less values are read in loc.
// baseDate is midnight of the file's date in loc and is only used by
// time-of-day formats.
func (f TimestampFormat) Parse(s string, loc *time.Location, baseDate time.Time) (int64, error) {
	switch f.kind {
	case tsUnix:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, err
		}
		if f.scale > 1 && (v > math.MaxInt64/f.scale || v < math.MinInt64/f.scale) {
			return 0, fmt.Errorf("timestamp %d out of range", v)
		}
		return v * f.scale, nil
	case tsISO8601:
		var lastErr error
		for _, layout := range isoLayouts {
			t, err := time.ParseInLocation(layout, s, loc)
			if err == nil {
				return t.UnixNano(), nil
			}
			lastErr = err
		}
		return 0, lastErr
	case tsTimeOfDay:
		if baseDate.IsZero() {
			return 0, ErrNoBaseDate
		}
		t, err := time.ParseInLocation(f.layout, s, time.UTC)
		if err != nil {
			return 0, err
		}
		offset := time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second +
			time.Duration(t.Nanosecond())
		return baseDate.Add(offset).UnixNano(), nil
	default:
		t, err := time.ParseInLocation(f.layout, s, loc)
		if err != nil {
			return 0, err
		}
		return t.UnixNano(), nil
	}
}

// Format renders ns so that Parse returns ns again, as long as the
// configured layout carries enough precision.
func (f TimestampFormat) Format(ns int64, loc *time.Location, baseDate time.Time) string {
	switch f.kind {
	case tsUnix:
		return strconv.FormatInt(ns/f.scale, 10)
	case tsISO8601:
		return time.Unix(0, ns).In(loc).Format(isoOutLayout)
	case tsTimeOfDay:
		return time.Unix(0, 0).UTC().Add(time.Duration(ns - baseDate.UnixNano())).Format(f.layout)
	default:
		return time.Unix(0, ns).In(loc).Format(f.layout)
	}
}
