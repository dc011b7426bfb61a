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

// Package lineparser turns one input line into a typed schema.Record.
//
// Floats are decoded with strconv.ParseFloat, which is correctly rounded
// (IEEE-754 binary64, round half to even) and therefore identical on every
// platform. NaN and infinities are rejected. Integers are base-10 int64.
package lineparser

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

// ErrFiltered is returned for lines rejected by a configured filter. Such
// lines are not malformed.
var ErrFiltered = errors.New("line filtered")

type filter struct {
	field  int
	values mapset.Set[string]
	keep   bool // keep when the token is in values, drop otherwise
}

// Parser decodes lines for one file. It holds per-file state (header
// mapping, base date) and is not safe for concurrent use.
type Parser struct {
	schema   *schema.Schema
	loc      *time.Location
	baseDate time.Time
	delim    []byte
	fixed    bool
	trim     bool
	offsets  [][2]int
	minLen   int

	// cols[i] is the token index holding schema field i; ntok is the
	// expected token count.
	cols []int
	ntok int

	tsIdx   int
	filters []filter
	tokens  [][]byte
}

// New returns a Parser for s. cfg must already be validated against s.
func New(s *schema.Schema, cfg Config) (*Parser, error) {
	if err := cfg.Validate(s); err != nil {
		return nil, err
	}
	loc, _ := cfg.Location()

	p := &Parser{
		schema: s,
		loc:    loc,
		delim:  []byte(cfg.Delimiter),
		fixed:  cfg.FixedWidth(),
		trim:   cfg.TrimSpace,
		cols:   make([]int, s.Len()),
		ntok:   s.Len(),
		tsIdx:  s.Index(cfg.TimestampField),
		tokens: make([][]byte, 0, s.Len()),
	}
	for i := range p.cols {
		p.cols[i] = i
	}

	if p.fixed {
		p.offsets = make([][2]int, s.Len())
		pos := 0
		for i := range s.Len() {
			w := s.Field(i).Width
			p.offsets[i] = [2]int{pos, pos + w}
			pos += w
		}
		p.minLen = pos
	}

	for _, fc := range cfg.Filters {
		f := filter{field: s.Index(fc.Field), keep: len(fc.In) > 0}
		if f.keep {
			f.values = mapset.NewThreadUnsafeSet(fc.In...)
		} else {
			f.values = mapset.NewThreadUnsafeSet(fc.NotIn...)
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

// SetBaseDate sets the date used by time-of-day timestamp fields.
func (p *Parser) SetBaseDate(t time.Time) {
	y, m, d := t.Date()
	p.baseDate = time.Date(y, m, d, 0, 0, 0, 0, p.loc)
}

// Header consumes a header line. When every schema field is named in it,
// subsequent lines are decoded by header position and Header returns true.
// Otherwise positional decoding is kept.
func (p *Parser) Header(line []byte) bool {
	if p.fixed {
		return false
	}
	tokens := p.split(line)
	pos := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		pos[string(bytes.TrimSpace(tok))] = i
	}
	cols := make([]int, p.schema.Len())
	for i := range cols {
		j, ok := pos[p.schema.Field(i).Name]
		if !ok {
			return false
		}
		cols[i] = j
	}
	p.cols = cols
	p.ntok = len(tokens)
	return true
}

func (p *Parser) split(line []byte) [][]byte {
	p.tokens = p.tokens[:0]
	for {
		i := bytes.Index(line, p.delim)
		if i < 0 {
			p.tokens = append(p.tokens, line)
			return p.tokens
		}
		p.tokens = append(p.tokens, line[:i])
		line = line[i+len(p.delim):]
	}
}

func (p *Parser) tokenize(lineNo int64, line []byte) ([][]byte, error) {
	if !p.fixed {
		tokens := p.split(line)
		if len(tokens) != p.ntok {
			return nil, tickerr.Parse(lineNo, "got %d fields, want %d", len(tokens), p.ntok)
		}
		if p.trim {
			for i := range tokens {
				tokens[i] = bytes.TrimSpace(tokens[i])
			}
		}
		return tokens, nil
	}

	if len(line) < p.minLen {
		return nil, tickerr.Parse(lineNo, "line has %d characters, want at least %d", len(line), p.minLen)
	}
	if len(bytes.TrimSpace(line[p.minLen:])) > 0 {
		return nil, tickerr.Parse(lineNo, "unexpected data after column %d", p.minLen)
	}
	p.tokens = p.tokens[:0]
	for _, off := range p.offsets {
		p.tokens = append(p.tokens, bytes.TrimSpace(line[off[0]:off[1]]))
	}
	return p.tokens, nil
}

// Parse decodes one line. lineNo is only used for error reporting. Errors
// are ParseErrors, or ErrFiltered for lines dropped by a filter.
func (p *Parser) Parse(lineNo int64, line []byte) (*schema.Record, error) {
	tokens, err := p.tokenize(lineNo, line)
	if err != nil {
		return nil, err
	}

	for _, f := range p.filters {
		if f.values.Contains(string(tokens[p.cols[f.field]])) != f.keep {
			return nil, ErrFiltered
		}
	}

	rec := &schema.Record{
		Line:   lineNo,
		Values: make([]schema.Value, p.schema.Len()),
	}
	for i := range rec.Values {
		field := p.schema.Field(i)
		v, err := p.decode(field, tokens[p.cols[i]])
		if err != nil {
			return nil, tickerr.Parse(lineNo, "field %q: %v", field.Name, err)
		}
		rec.Values[i] = v
	}
	rec.Timestamp = rec.Values[p.tsIdx].Int
	return rec, nil
}

func (p *Parser) decode(f *schema.Field, tok []byte) (schema.Value, error) {
	if len(tok) == 0 {
		if f.Optional {
			return schema.NullValue(f.Type), nil
		}
		return schema.Value{}, errors.New("empty value")
	}

	switch f.Type {
	case schema.TypeInt:
		v, err := strconv.ParseInt(string(tok), 10, 64)
		if err != nil {
			return schema.Value{}, unwrapNumErr(err)
		}
		return schema.IntValue(v), nil
	case schema.TypeFloat:
		v, err := strconv.ParseFloat(string(tok), 64)
		if err != nil {
			return schema.Value{}, unwrapNumErr(err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return schema.Value{}, fmt.Errorf("non-finite value %q", tok)
		}
		return schema.FloatValue(v), nil
	case schema.TypeTimestamp:
		ns, err := f.TimeFmt.Parse(string(tok), p.loc, p.baseDate)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.TimestampValue(ns), nil
	case schema.TypeCategory:
		s := string(tok)
		if !f.Allows(s) {
			return schema.Value{}, fmt.Errorf("unknown category %q", s)
		}
		return schema.CategoryValue(s), nil
	default:
		return schema.StringValue(string(tok)), nil
	}
}

func unwrapNumErr(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return fmt.Errorf("%q: %w", ne.Num, ne.Err)
	}
	return err
}

// Format renders rec as a line in schema order that Parse decodes back to
// the same values.
func (p *Parser) Format(rec *schema.Record) (string, error) {
	var sb strings.Builder
	for i, v := range rec.Values {
		field := p.schema.Field(i)
		tok := p.formatValue(field, v)
		if p.fixed {
			if len(tok) > field.Width {
				return "", fmt.Errorf("field %q: %q does not fit width %d", field.Name, tok, field.Width)
			}
			sb.WriteString(tok)
			sb.WriteString(strings.Repeat(" ", field.Width-len(tok)))
			continue
		}
		if i > 0 {
			sb.Write(p.delim)
		}
		if strings.Contains(tok, string(p.delim)) {
			return "", fmt.Errorf("field %q: %q contains the delimiter", field.Name, tok)
		}
		sb.WriteString(tok)
	}
	return sb.String(), nil
}

func (p *Parser) formatValue(f *schema.Field, v schema.Value) string {
	if v.Null {
		return ""
	}
	switch f.Type {
	case schema.TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case schema.TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case schema.TypeTimestamp:
		return f.TimeFmt.Format(v.Int, p.loc, p.baseDate)
	default:
		return v.Str
	}
}
