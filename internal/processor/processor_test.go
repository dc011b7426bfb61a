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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tickrunner/internal/aggregator"
	"github.com/cardinalhq/tickrunner/internal/lineparser"
	"github.com/cardinalhq/tickrunner/internal/parquetwriter"
	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

const aaplTrades = `symbol,price,qty,ts
AAPL,100.0,10,2024-01-02T09:30:05Z
AAPL,101.0,20,2024-01-02T09:30:40Z
MSFT,400.0,5,2024-01-02T09:30:50Z
AAPL,99.5,10,2024-01-02T09:31:10Z
`

func tradeOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.Schema = []schema.FieldSpec{
		{Name: "symbol", Type: "string"},
		{Name: "price", Type: "float"},
		{Name: "qty", Type: "int"},
		{Name: "ts", Type: "timestamp"},
	}
	opts.Input.HasHeader = true
	opts.Input.TimestampField = "ts"
	opts.Aggregation.GroupingField = "symbol"
	opts.Aggregation.PriceField = "price"
	opts.Aggregation.VolumeField = "qty"
	opts.Writer.OutputDir = filepath.Join(t.TempDir(), "out")
	return opts
}

func newProcessor(t *testing.T, opts Options) *Processor {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func writeInput(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type barRow map[string]parquet.Value

// readBars returns every row of a bars file and the size of each row group.
func readBars(t *testing.T, path string) ([]barRow, []int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)

	var names []string
	for _, col := range pf.Schema().Columns() {
		names = append(names, col[0])
	}

	var rows []barRow
	var groups []int
	for _, rg := range pf.RowGroups() {
		rr := rg.Rows()
		buf := make([]parquet.Row, rg.NumRows())
		n, err := rr.ReadRows(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			require.NoError(t, err)
		}
		require.NoError(t, rr.Close())
		groups = append(groups, n)
		for _, row := range buf[:n] {
			r := barRow{}
			for _, v := range row {
				r[names[v.Column()]] = v
			}
			rows = append(rows, r)
		}
	}
	return rows, groups
}

func outputFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func minute(hh, mm int) int64 {
	return time.Date(2024, 1, 2, hh, mm, 0, 0, time.UTC).UnixNano()
}

func TestRunMinuteBars(t *testing.T) {
	opts := tradeOptions(t)
	in := writeInput(t, t.TempDir(), "trades.csv", []byte(aaplTrades))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{in})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.NotEmpty(t, res.RunID)

	fr := res.Files[0]
	assert.Equal(t, StateClosed, fr.State)
	assert.NoError(t, fr.Err)
	require.Len(t, fr.Outputs, 1)
	assert.Equal(t, filepath.Join(opts.Writer.OutputDir, "trades.bars.parquet"), fr.Outputs[0].Path)
	assert.Equal(t, int64(3), fr.Outputs[0].Rows)

	assert.Equal(t, int64(5), res.Stats.LinesRead)
	assert.Equal(t, int64(1), res.Stats.HeaderLines)
	assert.Equal(t, int64(4), res.Stats.RecordsParsed)
	assert.Equal(t, int64(3), res.Stats.BarsEmitted)
	assert.Equal(t, int64(1), res.Stats.FilesSucceeded)

	rows, _ := readBars(t, fr.Outputs[0].Path)
	require.Len(t, rows, 3)

	type want struct {
		key                     string
		start                   int64
		open, high, low, close_ float64
		count                   int64
		volume, vwap            float64
	}
	wants := []want{
		{"AAPL", minute(9, 30), 100, 101, 100, 101, 2, 30, 3020.0 / 30},
		{"MSFT", minute(9, 30), 400, 400, 400, 400, 1, 5, 400},
		{"AAPL", minute(9, 31), 99.5, 99.5, 99.5, 99.5, 1, 10, 99.5},
	}
	for i, w := range wants {
		r := rows[i]
		assert.Equal(t, w.key, r["key"].String(), "row %d", i)
		assert.Equal(t, w.start, r["bucket_start"].Int64(), "row %d", i)
		assert.Equal(t, w.start+int64(time.Minute), r["bucket_end"].Int64(), "row %d", i)
		assert.Equal(t, w.open, r["open"].Double(), "row %d", i)
		assert.Equal(t, w.high, r["high"].Double(), "row %d", i)
		assert.Equal(t, w.low, r["low"].Double(), "row %d", i)
		assert.Equal(t, w.close_, r["close"].Double(), "row %d", i)
		assert.Equal(t, w.count, r["count"].Int64(), "row %d", i)
		assert.Equal(t, w.volume, r["volume"].Double(), "row %d", i)
		assert.InDelta(t, w.vwap, r["vwap"].Double(), 1e-9, "row %d", i)
	}
}

func TestRunRecordsAndBars(t *testing.T) {
	opts := tradeOptions(t)
	opts.Aggregation.Emit = []string{aggregator.EmitBars, aggregator.EmitRecords}
	in := writeInput(t, t.TempDir(), "trades.csv.gz", gzipped(t, aaplTrades))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{in})
	require.NoError(t, err)

	fr := res.Files[0]
	require.Len(t, fr.Outputs, 2)
	assert.Equal(t, aggregator.EmitBars, fr.Outputs[0].Kind)
	assert.Equal(t, aggregator.EmitRecords, fr.Outputs[1].Kind)
	assert.Equal(t, int64(4), fr.Outputs[1].Rows)
	assert.Equal(t, int64(7), res.Stats.RowsEmitted)
	assert.ElementsMatch(t, []string{"trades.bars.parquet", "trades.records.parquet"}, outputFiles(t, opts.Writer.OutputDir))
}

func TestRunCountsSkippedLines(t *testing.T) {
	opts := tradeOptions(t)
	opts.Input.HasHeader = false
	data := strings.Join([]string{
		"AAPL,100.0,10,2024-01-02T09:30:05Z",
		"",
		"AAPL,abc,10,2024-01-02T09:30:06Z",
		"AAPL,100.0,10",
		"   ",
		"AAPL,101.0,10,2024-01-02T09:30:07Z",
	}, "\n") + "\n"
	in := writeInput(t, t.TempDir(), "trades.csv", []byte(data))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{in})
	require.NoError(t, err)

	c := res.Files[0].Counters
	assert.Equal(t, int64(6), c.LinesRead)
	assert.Equal(t, int64(2), c.EmptyLines)
	assert.Equal(t, int64(2), c.MalformedLines)
	assert.Equal(t, int64(2), c.RecordsParsed)
	assert.Equal(t, int64(1), c.BarsEmitted)
	assert.Equal(t, c.LinesRead, c.EmptyLines+c.MalformedLines+c.RecordsParsed+c.HeaderLines+c.FilteredLines)
}

func TestRunFilters(t *testing.T) {
	opts := tradeOptions(t)
	opts.Input.Filters = []lineparser.FilterConfig{{Field: "symbol", In: []string{"MSFT"}}}
	in := writeInput(t, t.TempDir(), "trades.csv", []byte(aaplTrades))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{in})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Stats.FilteredLines)
	assert.Equal(t, int64(1), res.Stats.BarsEmitted)
}

func TestRunIsolatesCorruptFile(t *testing.T) {
	opts := tradeOptions(t)
	dir := t.TempDir()
	full := gzipped(t, strings.Repeat(aaplTrades, 50))
	bad := writeInput(t, dir, "bad.csv.gz", full[:len(full)/2])
	good := writeInput(t, dir, "good.csv", []byte(aaplTrades))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{bad, good})
	require.NoError(t, err)

	assert.Equal(t, StateErrored, res.Files[0].State)
	assert.True(t, errors.Is(res.Files[0].Err, tickerr.ErrDecode), "got %v", res.Files[0].Err)
	assert.NotEmpty(t, res.Files[0].Error)
	assert.Empty(t, res.Files[0].Outputs)

	assert.Equal(t, StateClosed, res.Files[1].State)
	assert.Equal(t, int64(1), res.Stats.FilesFailed)
	assert.Equal(t, int64(1), res.Stats.FilesSucceeded)

	// No partial or temporary output from the corrupt file.
	assert.Equal(t, []string{"good.bars.parquet"}, outputFiles(t, opts.Writer.OutputDir))
}

func TestRunFailsWhenNothingSucceeds(t *testing.T) {
	opts := tradeOptions(t)
	bad := writeInput(t, t.TempDir(), "bad.csv.gz", []byte("this is not gzip"))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{bad})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateErrored, res.Files[0].State)
	assert.True(t, errors.Is(err, tickerr.ErrDecode))
	assert.Empty(t, outputFiles(t, opts.Writer.OutputDir))
}

func TestRunAbortOnFirstFailure(t *testing.T) {
	opts := tradeOptions(t)
	opts.Run.Concurrency = 1
	opts.Run.AbortOnFirstFailure = true
	dir := t.TempDir()
	bad := writeInput(t, dir, "a.csv.gz", []byte("garbage"))
	good1 := writeInput(t, dir, "b.csv", []byte(aaplTrades))
	good2 := writeInput(t, dir, "c.csv", []byte(aaplTrades))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{bad, good1, good2})
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StateErrored, res.Files[0].State)
	assert.Equal(t, StateSkipped, res.Files[1].State)
	assert.Equal(t, StateSkipped, res.Files[2].State)
	assert.Equal(t, int64(2), res.Stats.FilesSkipped)
	assert.Empty(t, outputFiles(t, opts.Writer.OutputDir))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	opts := tradeOptions(t)
	in := writeInput(t, t.TempDir(), "trades.csv", []byte(aaplTrades))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newProcessor(t, opts).Run(ctx, []string{in})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateSkipped, res.Files[0].State)
	assert.Empty(t, outputFiles(t, opts.Writer.OutputDir))
}

func TestRunRowGroupsFollowBatchCapacity(t *testing.T) {
	opts := tradeOptions(t)
	opts.Writer.BatchRowCapacity = 2
	var sb strings.Builder
	sb.WriteString("symbol,price,qty,ts\n")
	for i := range 5 {
		fmt.Fprintf(&sb, "AAPL,%d,1,2024-01-02T09:3%d:00Z\n", 100+i, i)
	}
	in := writeInput(t, t.TempDir(), "trades.csv", []byte(sb.String()))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{in})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, res.Files[0].Outputs[0].RowGroups)
	assert.Equal(t, int64(3), res.Stats.BatchesWritten)

	_, groups := readBars(t, res.Files[0].Outputs[0].Path)
	assert.Equal(t, []int{2, 2, 1}, groups)
}

func TestRunIsDeterministic(t *testing.T) {
	in := writeInput(t, t.TempDir(), "trades.csv", []byte(strings.Repeat(aaplTrades, 3)))

	var outputs [][]byte
	for range 2 {
		opts := tradeOptions(t)
		opts.Aggregation.Statistics = []string{"vwap", "p50", "p99"}
		opts.Run.Concurrency = 3
		res, err := newProcessor(t, opts).Run(context.Background(), []string{in})
		require.NoError(t, err)
		data, err := os.ReadFile(res.Files[0].Outputs[0].Path)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.True(t, bytes.Equal(outputs[0], outputs[1]), "outputs differ between runs")
}

func TestRunRejectsDuplicateOutputNames(t *testing.T) {
	opts := tradeOptions(t)
	dir := t.TempDir()
	a := writeInput(t, dir, "a/trades.csv", []byte(aaplTrades))
	b := writeInput(t, dir, "b/trades.csv.gz", gzipped(t, aaplTrades))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{a, b})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, tickerr.ErrSchema))
}

func TestRunBaseDateFromFileName(t *testing.T) {
	opts := tradeOptions(t)
	opts.Schema[3].Format = "tod:15:04:05"
	opts.Input.BaseDatePattern = `_(\d{8})\.`
	opts.Input.BaseDateLayout = "20060102"
	data := "symbol,price,qty,ts\nAAPL,100,1,09:30:05\nAAPL,101,1,09:31:05\n"
	in := writeInput(t, t.TempDir(), "trades_20240102.csv", []byte(data))

	res, err := newProcessor(t, opts).Run(context.Background(), []string{in})
	require.NoError(t, err)

	rows, _ := readBars(t, res.Files[0].Outputs[0].Path)
	require.Len(t, rows, 2)
	assert.Equal(t, minute(9, 30), rows[0]["bucket_start"].Int64())
	assert.Equal(t, minute(9, 31), rows[1]["bucket_start"].Int64())
}

func TestRunBaseDatePatternMustMatch(t *testing.T) {
	opts := tradeOptions(t)
	opts.Schema[3].Format = "tod:15:04:05"
	opts.Input.BaseDatePattern = `(\d{8})`
	in := writeInput(t, t.TempDir(), "trades.csv", []byte(aaplTrades))

	_, err := newProcessor(t, opts).Run(context.Background(), []string{in})
	assert.True(t, errors.Is(err, tickerr.ErrSchema))
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no schema", func(o *Options) { o.Schema = nil }},
		{"unknown timestamp field", func(o *Options) { o.Input.TimestampField = "when" }},
		{"bad codec", func(o *Options) { o.Input.Codec = "bzip2" }},
		{"price not numeric", func(o *Options) { o.Aggregation.PriceField = "symbol" }},
		{"unknown statistic", func(o *Options) { o.Aggregation.Statistics = []string{"median"} }},
		{"bad output codec", func(o *Options) { o.Writer.OutputCompression = "brotli" }},
		{"negative concurrency", func(o *Options) { o.Run.Concurrency = -1 }},
		{"bad base date pattern", func(o *Options) { o.Input.BaseDatePattern = "(" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tradeOptions(t)
			tt.mutate(&opts)
			_, err := New(opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tickerr.ErrSchema), "got %v", err)
		})
	}
}

func TestNoInputFiles(t *testing.T) {
	_, err := newProcessor(t, tradeOptions(t)).Run(context.Background(), nil)
	assert.True(t, errors.Is(err, tickerr.ErrSchema))
}

func TestOutputStem(t *testing.T) {
	tests := map[string]string{
		"/data/trades.csv":        "trades",
		"/data/trades.csv.gz":     "trades",
		"trades_20240102.TSV.zst": "trades_20240102",
		"quotes.json":             "quotes.json",
		"/data/nasdaq.itch.lz4":   "nasdaq.itch",
		"relative/dir/ticks":      "ticks",
		"ticks.psv.sz":            "ticks",
	}
	for in, want := range tests {
		assert.Equal(t, want, OutputStem(in), in)
	}
}

func TestFileStateTransitions(t *testing.T) {
	fs := &fileState{path: "x.csv"}
	fs.to(StateReading)
	fs.to(StateAggregating)
	fs.fail()
	assert.Equal(t, StateErrored, fs.state)
	assert.True(t, fs.state.Terminal())

	assert.Panics(t, func() { fs.to(StateReading) })
	assert.Panics(t, func() { (&fileState{}).to(StateClosed) })

	text, err := StateSkipped.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "skipped", string(text))
}

func TestBarColumnsIncludeStatistics(t *testing.T) {
	cfg := aggregator.DefaultConfig()
	cfg.Statistics = []string{"vwap", "p99.9", "distinct"}
	cfg.DistinctField = "venue"
	stats, err := cfg.ParseStatistics()
	require.NoError(t, err)

	bs, err := parquetwriter.NewBatchSchema(barColumns(stats))
	require.NoError(t, err)
	var names []string
	for _, c := range bs.Columns() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"key", "bucket_start", "bucket_end", "open", "high", "low", "close",
		"count", "volume", "first_timestamp", "last_timestamp",
		"vwap", "price_p99_9", "distinct_venue",
	}, names)
	assert.True(t, bs.Column(11).Nullable)
}
