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

package processor

import (
	"github.com/cardinalhq/tickrunner/internal/aggregator"
	"github.com/cardinalhq/tickrunner/internal/parquetwriter"
	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

// barColumns returns the bar output layout: the fixed OHLC columns
// followed by one column per configured statistic.
func barColumns(stats []aggregator.Statistic) []parquetwriter.ColumnSpec {
	cols := []parquetwriter.ColumnSpec{
		{Name: "key", Type: parquetwriter.ColumnString},
		{Name: "bucket_start", Type: parquetwriter.ColumnTimestamp},
		{Name: "bucket_end", Type: parquetwriter.ColumnTimestamp},
		{Name: "open", Type: parquetwriter.ColumnFloat64},
		{Name: "high", Type: parquetwriter.ColumnFloat64},
		{Name: "low", Type: parquetwriter.ColumnFloat64},
		{Name: "close", Type: parquetwriter.ColumnFloat64},
		{Name: "count", Type: parquetwriter.ColumnInt64},
		{Name: "volume", Type: parquetwriter.ColumnFloat64},
		{Name: "first_timestamp", Type: parquetwriter.ColumnTimestamp},
		{Name: "last_timestamp", Type: parquetwriter.ColumnTimestamp},
	}
	for _, st := range stats {
		switch st.Kind {
		case aggregator.StatVWAP:
			cols = append(cols, parquetwriter.ColumnSpec{Name: st.Name, Type: parquetwriter.ColumnFloat64, Nullable: true})
		case aggregator.StatQuantile:
			cols = append(cols, parquetwriter.ColumnSpec{Name: st.Name, Type: parquetwriter.ColumnFloat64})
		case aggregator.StatDistinct:
			cols = append(cols, parquetwriter.ColumnSpec{Name: st.Name, Type: parquetwriter.ColumnInt64})
		}
	}
	return cols
}

// recordColumns mirrors the input schema.
func recordColumns(s *schema.Schema) []parquetwriter.ColumnSpec {
	cols := make([]parquetwriter.ColumnSpec, s.Len())
	for i := range s.Len() {
		f := s.Field(i)
		c := parquetwriter.ColumnSpec{Name: f.Name, Nullable: f.Optional}
		switch f.Type {
		case schema.TypeInt:
			c.Type = parquetwriter.ColumnInt64
		case schema.TypeFloat:
			c.Type = parquetwriter.ColumnFloat64
		case schema.TypeTimestamp:
			c.Type = parquetwriter.ColumnTimestamp
		default:
			c.Type = parquetwriter.ColumnString
		}
		cols[i] = c
	}
	return cols
}

// barSink writes bars to a Parquet file.
type barSink struct {
	w     *parquetwriter.Writer
	path  string
	stats []aggregator.Statistic
	row   []any
	count *Counters
}

func (s *barSink) EmitBar(b *aggregator.Bar) error {
	s.row = append(s.row[:0],
		b.Key, b.Start, b.End,
		b.Open, b.High, b.Low, b.Close,
		b.Count, b.Volume,
		b.FirstTimestamp, b.LastTimestamp,
	)
	q := 0
	for _, st := range s.stats {
		switch st.Kind {
		case aggregator.StatVWAP:
			if b.HasVWAP {
				s.row = append(s.row, b.VWAP)
			} else {
				s.row = append(s.row, nil)
			}
		case aggregator.StatQuantile:
			s.row = append(s.row, b.Quantiles[q])
			q++
		case aggregator.StatDistinct:
			s.row = append(s.row, b.Distinct)
		}
	}
	if err := s.w.Append(s.row...); err != nil {
		return tickerr.IO("write", s.path, err)
	}
	s.count.BarsEmitted++
	s.count.RowsEmitted++
	return nil
}

// recordSink writes pass-through records to a Parquet file.
type recordSink struct {
	w     *parquetwriter.Writer
	path  string
	row   []any
	count *Counters
}

func (s *recordSink) EmitRecord(rec *schema.Record) error {
	s.row = s.row[:0]
	for _, v := range rec.Values {
		s.row = append(s.row, v.Any())
	}
	if err := s.w.Append(s.row...); err != nil {
		return tickerr.IO("write", s.path, err)
	}
	s.count.RowsEmitted++
	return nil
}
