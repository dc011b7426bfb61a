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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

func tradeSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.FieldSpec{
		{Name: "symbol", Type: "category"},
		{Name: "price", Type: "float"},
		{Name: "qty", Type: "int"},
		{Name: "ts", Type: "timestamp"},
		{Name: "venue", Type: "string", Optional: true},
	}, false)
	require.NoError(t, err)
	return s
}

func tradeConfig() Config {
	cfg := DefaultConfig()
	cfg.TimestampField = "ts"
	return cfg
}

func newParser(t *testing.T, s *schema.Schema, cfg Config) *Parser {
	t.Helper()
	p, err := New(s, cfg)
	require.NoError(t, err)
	return p
}

func TestParse(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())

	rec, err := p.Parse(1, []byte("AAPL,100.0,10,2024-01-01T09:30:00,XNAS"))
	require.NoError(t, err)

	ts := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC).UnixNano()
	assert.Equal(t, int64(1), rec.Line)
	assert.Equal(t, ts, rec.Timestamp)
	assert.Equal(t, []schema.Value{
		schema.CategoryValue("AAPL"),
		schema.FloatValue(100.0),
		schema.IntValue(10),
		schema.TimestampValue(ts),
		schema.StringValue("XNAS"),
	}, rec.Values)
}

func TestParseOptionalEmpty(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())

	rec, err := p.Parse(1, []byte("AAPL, 100.5 ,10,2024-01-01T09:30:00,"))
	require.NoError(t, err)
	assert.Equal(t, 100.5, rec.Values[1].Float)
	assert.True(t, rec.Values[4].Null)
}

func TestParseMalformed(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())

	tests := []struct {
		name   string
		line   string
		errMsg string
	}{
		{"too few fields", "AAPL,100.0,10", "got 3 fields, want 5"},
		{"too many fields", "AAPL,100.0,10,2024-01-01T09:30:00,X,Y", "got 6 fields, want 5"},
		{"bad float", "AAPL,abc,10,2024-01-01T09:30:00,X", `field "price"`},
		{"nan", "AAPL,NaN,10,2024-01-01T09:30:00,X", "non-finite"},
		{"inf", "AAPL,+Inf,10,2024-01-01T09:30:00,X", "non-finite"},
		{"bad int", "AAPL,1.0,1.5,2024-01-01T09:30:00,X", `field "qty"`},
		{"int overflow", "AAPL,1.0,99999999999999999999,2024-01-01T09:30:00,X", "value out of range"},
		{"bad timestamp", "AAPL,1.0,1,yesterday,X", `field "ts"`},
		{"empty required", "AAPL,,1,2024-01-01T09:30:00,X", "empty value"},
		{"empty line", "", "got 1 fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Parse(7, []byte(tt.line))
			require.Error(t, err)
			assert.Nil(t, rec)
			assert.ErrorIs(t, err, tickerr.ErrParse)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Contains(t, err.Error(), "line 7")
		})
	}
}

func TestParseCategoryValues(t *testing.T) {
	s, err := schema.New([]schema.FieldSpec{
		{Name: "side", Type: "category", Values: []string{"B", "S"}},
		{Name: "ts", Type: "timestamp", Format: "unix_ms"},
	}, false)
	require.NoError(t, err)
	p := newParser(t, s, tradeConfigFor("ts"))

	_, err = p.Parse(1, []byte("B,1704101400000"))
	require.NoError(t, err)

	_, err = p.Parse(2, []byte("X,1704101400000"))
	assert.ErrorIs(t, err, tickerr.ErrParse)
	assert.Contains(t, err.Error(), "unknown category")
}

func tradeConfigFor(tsField string) Config {
	cfg := DefaultConfig()
	cfg.TimestampField = tsField
	return cfg
}

func TestParseFilters(t *testing.T) {
	cfg := tradeConfig()
	cfg.Filters = []FilterConfig{
		{Field: "symbol", In: []string{"AAPL", "MSFT"}},
		{Field: "venue", NotIn: []string{"DARK"}},
	}
	p := newParser(t, tradeSchema(t), cfg)

	_, err := p.Parse(1, []byte("AAPL,1,1,2024-01-01T09:30:00,XNAS"))
	assert.NoError(t, err)

	_, err = p.Parse(2, []byte("GOOG,1,1,2024-01-01T09:30:00,XNAS"))
	assert.ErrorIs(t, err, ErrFiltered)

	_, err = p.Parse(3, []byte("MSFT,1,1,2024-01-01T09:30:00,DARK"))
	assert.ErrorIs(t, err, ErrFiltered)

	// Filters look at raw tokens, so a filtered line is never reported as malformed.
	_, err = p.Parse(4, []byte("GOOG,not-a-number,1,2024-01-01T09:30:00,XNAS"))
	assert.ErrorIs(t, err, ErrFiltered)
	assert.NotErrorIs(t, err, tickerr.ErrParse)
}

func TestParseHeaderReorders(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())

	assert.True(t, p.Header([]byte("ts, qty,price,symbol,venue,extra")))
	rec, err := p.Parse(2, []byte("2024-01-01T09:30:00,10,100.0,AAPL,XNAS,ignored"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", rec.Values[0].Str)
	assert.Equal(t, 100.0, rec.Values[1].Float)
	assert.Equal(t, int64(10), rec.Values[2].Int)

	_, err = p.Parse(3, []byte("2024-01-01T09:30:00,10,100.0,AAPL,XNAS"))
	assert.ErrorIs(t, err, tickerr.ErrParse)
}

func TestParseHeaderUnknownKeepsPositions(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())

	assert.False(t, p.Header([]byte("a,b,c,d,e")))
	_, err := p.Parse(2, []byte("AAPL,100.0,10,2024-01-01T09:30:00,XNAS"))
	assert.NoError(t, err)
}

func TestParseMultiCharDelimiter(t *testing.T) {
	cfg := tradeConfig()
	cfg.Delimiter = "||"
	p := newParser(t, tradeSchema(t), cfg)

	rec, err := p.Parse(1, []byte("AAPL||100.25||3||2024-01-01T09:30:00||"))
	require.NoError(t, err)
	assert.Equal(t, 100.25, rec.Values[1].Float)
	assert.True(t, rec.Values[4].Null)
}

func TestParseFixedWidth(t *testing.T) {
	s, err := schema.New([]schema.FieldSpec{
		{Name: "symbol", Type: "string", Width: 6},
		{Name: "price", Type: "float", Width: 10},
		{Name: "qty", Type: "int", Width: 6},
		{Name: "time", Type: "timestamp", Format: "tod:150405.000", Width: 10},
	}, true)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Layout = LayoutFixedWidth
	cfg.TimestampField = "time"
	cfg.BaseDatePattern = `(\d{8})`
	p := newParser(t, s, cfg)
	p.SetBaseDate(time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC))

	rec, err := p.Parse(1, []byte("AAPL      100.25    10093000.250"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", rec.Values[0].Str)
	assert.Equal(t, 100.25, rec.Values[1].Float)
	assert.Equal(t, int64(10), rec.Values[2].Int)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 250_000_000, time.UTC).UnixNano(), rec.Timestamp)

	_, err = p.Parse(2, []byte("AAPL      100.25"))
	assert.ErrorIs(t, err, tickerr.ErrParse)

	_, err = p.Parse(3, []byte("AAPL      100.25    10093000.250junk"))
	assert.ErrorIs(t, err, tickerr.ErrParse)

	line, err := p.Format(rec)
	require.NoError(t, err)
	again, err := p.Parse(4, []byte(line))
	require.NoError(t, err)
	assert.Equal(t, rec.Values, again.Values)
}

func TestRoundTrip(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())

	lines := []string{
		"AAPL,100.0,10,2024-01-01T09:30:00,XNAS",
		"MSFT,0.1,-3,2024-02-29T23:59:59.123456789,",
		"BRK.A,612345.6789,1,2024-01-01T09:30:00+05:30,ARCX",
		"X,1e-7,9223372036854775807,1999-12-31 23:59:59,Y",
		"Y,123456789012345680000,0,2024-01-01T09:30:00Z,",
		"Z,0.30000000000000004,42,2024-06-01T12:00:00.5,Z",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			rec, err := p.Parse(1, []byte(line))
			require.NoError(t, err)

			out, err := p.Format(rec)
			require.NoError(t, err)

			again, err := p.Parse(1, []byte(out))
			require.NoError(t, err)
			assert.Equal(t, rec.Values, again.Values)
			assert.Equal(t, rec.Timestamp, again.Timestamp)
		})
	}
}

func TestFloatDecodingIsCorrectlyRounded(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())

	// 0.1 has no exact binary form; the decoded value must be the nearest
	// binary64 and the 2^53+1 case must round to even.
	rec, err := p.Parse(1, []byte("A,0.1,1,2024-01-01T00:00:00,"))
	require.NoError(t, err)
	assert.Equal(t, math.Float64frombits(0x3FB999999999999A), rec.Values[1].Float)

	rec, err = p.Parse(1, []byte("A,9007199254740993,1,2024-01-01T00:00:00,"))
	require.NoError(t, err)
	assert.Equal(t, float64(9007199254740992), rec.Values[1].Float)
}

func TestFormatRejectsDelimiter(t *testing.T) {
	p := newParser(t, tradeSchema(t), tradeConfig())
	rec := &schema.Record{Values: []schema.Value{
		schema.CategoryValue("A,B"), schema.FloatValue(1), schema.IntValue(1),
		schema.TimestampValue(0), schema.StringValue("x"),
	}}
	_, err := p.Format(rec)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	s := tradeSchema(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing timestamp field", func(c *Config) { c.TimestampField = "" }, "timestamp_field is required"},
		{"unknown timestamp field", func(c *Config) { c.TimestampField = "when" }, "not in the schema"},
		{"non timestamp field", func(c *Config) { c.TimestampField = "price" }, "want timestamp"},
		{"valid", func(c *Config) {}, ""},
		{"empty delimiter", func(c *Config) { c.Delimiter = "" }, "delimiter cannot be empty"},
		{"bad layout", func(c *Config) { c.Layout = "xml" }, "input.layout"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "input.timezone"},
		{"filter unknown field", func(c *Config) { c.Filters = []FilterConfig{{Field: "nope", In: []string{"x"}}} }, "not in the schema"},
		{"filter both lists", func(c *Config) {
			c.Filters = []FilterConfig{{Field: "symbol", In: []string{"x"}, NotIn: []string{"y"}}}
		}, "exactly one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tradeConfig()
			tt.mutate(&cfg)
			err := cfg.Validate(s)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tickerr.ErrSchema)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfigValidateTimeOfDayNeedsPattern(t *testing.T) {
	s, err := schema.New([]schema.FieldSpec{
		{Name: "time", Type: "timestamp", Format: "tod:150405"},
	}, false)
	require.NoError(t, err)

	cfg := tradeConfigFor("time")
	err = cfg.Validate(s)
	assert.ErrorIs(t, err, tickerr.ErrSchema)
	assert.Contains(t, err.Error(), "base_date_pattern")
}
