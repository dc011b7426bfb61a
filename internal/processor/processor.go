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

// Package processor runs the read, parse, aggregate and write pipeline
// over a set of files, one sequential pipeline per file with bounded
// parallelism across files.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/tickrunner/internal/aggregator"
	"github.com/cardinalhq/tickrunner/internal/filereader"
	"github.com/cardinalhq/tickrunner/internal/idgen"
	"github.com/cardinalhq/tickrunner/internal/lineparser"
	"github.com/cardinalhq/tickrunner/internal/logctx"
	"github.com/cardinalhq/tickrunner/internal/parquetwriter"
	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

// Metadata keys written to every output file.
const (
	MetadataInputSchema  = "tickrunner.schema"
	MetadataFingerprint  = "tickrunner.schema.fingerprint"
	MetadataBucketSize   = "tickrunner.bucket_size"
	MetadataSourceFile   = "tickrunner.source"
	maxLoggedParseErrors = 5
)

// Output is one published file.
type Output struct {
	Kind        string `yaml:"kind"`
	Path        string `yaml:"path"`
	Rows        int64  `yaml:"rows"`
	RowGroups   []int  `yaml:"row_groups,flow"`
	Bytes       int64  `yaml:"bytes"`
	Fingerprint string `yaml:"fingerprint"`
}

// FileResult is the outcome of one input file.
type FileResult struct {
	Path     string        `yaml:"path"`
	State    State         `yaml:"state"`
	Outputs  []Output      `yaml:"outputs,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Counters Counters      `yaml:"counters"`
	Duration time.Duration `yaml:"duration"`

	Err error `yaml:"-"`
}

// RunResult is the outcome of a run.
type RunResult struct {
	RunID     string        `yaml:"run_id"`
	StartedAt time.Time     `yaml:"started_at"`
	Elapsed   time.Duration `yaml:"elapsed"`
	Stats     Counters      `yaml:"stats"`
	Files     []FileResult  `yaml:"files"`
}

// Processor owns a validated configuration and runs it over files.
type Processor struct {
	opts        Options
	schema      *schema.Schema
	codec       filereader.Codec
	loc         *time.Location
	baseDateRe  *regexp.Regexp
	stats       []aggregator.Statistic
	barSchema   *parquetwriter.BatchSchema
	recSchema   *parquetwriter.BatchSchema
	schemaJSON  string
	fingerprint string
}

// New validates opts. Any configuration problem is a SchemaError.
func New(opts Options) (*Processor, error) {
	s, err := schema.New(opts.Schema, opts.Input.FixedWidth())
	if err != nil {
		return nil, err
	}
	if err := opts.Input.Validate(s); err != nil {
		return nil, err
	}
	codec, err := filereader.ParseCodec(opts.Input.Codec)
	if err != nil {
		return nil, tickerr.Schema("input.codec: %v", err)
	}
	loc, _ := opts.Input.Location()
	if err := opts.Aggregation.Validate(s); err != nil {
		return nil, err
	}
	if err := opts.Writer.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Run.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		opts:        opts,
		schema:      s,
		codec:       codec,
		loc:         loc,
		schemaJSON:  s.JSON(),
		fingerprint: fmt.Sprintf("%016x", s.Fingerprint()),
	}

	if opts.Input.BaseDatePattern != "" {
		if opts.Input.BaseDateLayout == "" {
			return nil, tickerr.Schema("input.base_date_layout is required with input.base_date_pattern")
		}
		re, err := regexp.Compile(opts.Input.BaseDatePattern)
		if err != nil {
			return nil, tickerr.Schema("input.base_date_pattern: %v", err)
		}
		p.baseDateRe = re
	}

	if opts.Aggregation.EmitsBars() {
		p.stats, _ = opts.Aggregation.ParseStatistics()
		p.barSchema, err = parquetwriter.NewBatchSchema(barColumns(p.stats))
		if err != nil {
			return nil, err
		}
	}
	if opts.Aggregation.EmitsRecords() {
		p.recSchema, err = parquetwriter.NewBatchSchema(recordColumns(s))
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Run processes files and returns the run result. The error is non-nil
// when no file succeeded, when a file failed with abort_on_first_failure
// set, or when the configuration cannot be applied to files at all. The
// result is nil only in the last case.
//
// Cancelling ctx stops new files from starting; files already in flight
// finish.
func (p *Processor) Run(ctx context.Context, files []string) (*RunResult, error) {
	plans, err := p.plan(files)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.opts.Writer.OutputDir, 0o755); err != nil {
		return nil, tickerr.IO("mkdir", p.opts.Writer.OutputDir, err)
	}

	started := time.Now()
	res := &RunResult{
		RunID:     idgen.NewRunID(started),
		StartedAt: started,
		Files:     make([]FileResult, len(plans)),
	}
	for i, fp := range plans {
		res.Files[i] = FileResult{Path: fp.path, State: StateIdle}
	}

	ctx = logctx.With(ctx, slog.String("run_id", res.RunID))
	ll := logctx.FromContext(ctx)
	if p.opts.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Run.Timeout)
		defer cancel()
	}
	schedCtx, stopScheduling := context.WithCancel(ctx)
	defer stopScheduling()
	// In-flight files ignore cancellation but keep the logger.
	workCtx := context.WithoutCancel(ctx)

	ll.Info("Starting run",
		slog.Int("files", len(plans)),
		slog.Int("concurrency", p.opts.Run.workers()))

	stats := &RunStats{}
	g := new(errgroup.Group)
	g.SetLimit(p.opts.Run.workers())
	for _, fp := range plans {
		g.Go(func() error {
			fr := &res.Files[fp.index]
			if schedCtx.Err() != nil {
				fr.State = StateSkipped
				stats.filesSkipped.Add(1)
				filesProcessedCounter.Add(workCtx, 1, otelmetric.WithAttributes(attribute.String("outcome", "skipped")))
				return nil
			}
			*fr = p.processFile(workCtx, fp, stats)
			if fr.State == StateErrored && p.opts.Run.AbortOnFirstFailure {
				stopScheduling()
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Elapsed = time.Since(started)
	res.Stats = stats.Snapshot()

	var merr *multierror.Error
	for _, fr := range res.Files {
		if fr.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", fr.Path, fr.Err))
		}
	}
	if res.Stats.FilesSkipped > 0 && ctx.Err() != nil {
		merr = multierror.Append(merr, fmt.Errorf("run stopped early: %w", context.Cause(ctx)))
	}

	ll.Info("Run finished",
		slog.Int64("succeeded", res.Stats.FilesSucceeded),
		slog.Int64("failed", res.Stats.FilesFailed),
		slog.Int64("skipped", res.Stats.FilesSkipped),
		slog.Int64("barsEmitted", res.Stats.BarsEmitted),
		slog.Int64("malformedLines", res.Stats.MalformedLines),
		slog.Duration("elapsed", res.Elapsed))

	switch {
	case res.Stats.FilesSucceeded == 0:
		return res, fmt.Errorf("no file succeeded: %w", orNoFiles(merr))
	case res.Stats.FilesFailed > 0 && p.opts.Run.AbortOnFirstFailure:
		return res, fmt.Errorf("aborted after first failure: %w", merr.ErrorOrNil())
	}
	return res, nil
}

func orNoFiles(merr *multierror.Error) error {
	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	return errors.New("no files were processed")
}

// processFile runs one file to a terminal state. It never returns an
// error; failures are recorded in the result.
func (p *Processor) processFile(ctx context.Context, fp filePlan, run *RunStats) FileResult {
	start := time.Now()
	ctx = logctx.With(ctx, slog.String("file", fp.path))
	ll := logctx.FromContext(ctx)

	fs := &fileState{path: fp.path}
	fr := FileResult{Path: fp.path}
	outputs, err := p.pipeline(ctx, fp, fs, &fr.Counters)
	fr.Duration = time.Since(start)
	run.add(&fr.Counters)

	outcome := "succeeded"
	if err != nil {
		fs.fail()
		fr.Err = err
		fr.Error = err.Error()
		outcome = "failed"
		run.filesFailed.Add(1)
		ll.Error("File failed", slog.Any("error", err), slog.String("kind", tickerr.KindOf(err).String()))
	} else {
		fs.to(StateClosed)
		fr.Outputs = outputs
		run.filesSucceeded.Add(1)
		ll.Info("File processed",
			slog.Int64("lines", fr.Counters.LinesRead),
			slog.Int64("records", fr.Counters.RecordsParsed),
			slog.Int64("malformed", fr.Counters.MalformedLines),
			slog.Int64("bars", fr.Counters.BarsEmitted),
			slog.Duration("duration", fr.Duration))
	}
	fr.State = fs.state

	filesProcessedCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	fileDurationHistogram.Record(ctx, fr.Duration.Seconds(), otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	malformedLinesCounter.Add(ctx, fr.Counters.MalformedLines)
	barsEmittedCounter.Add(ctx, fr.Counters.BarsEmitted)
	return fr
}

type output struct {
	kind string
	path string
	w    *parquetwriter.Writer
}

func (p *Processor) openWriter(kind, path, source string, bs *parquetwriter.BatchSchema) (*output, error) {
	w, err := parquetwriter.NewWriter(path, bs, p.opts.Writer,
		parquetwriter.WithMetadata(MetadataInputSchema, p.schemaJSON),
		parquetwriter.WithMetadata(MetadataFingerprint, p.fingerprint),
		parquetwriter.WithMetadata(MetadataBucketSize, strconv.FormatInt(p.opts.Aggregation.BucketSize.Nanoseconds(), 10)),
		parquetwriter.WithMetadata(MetadataSourceFile, source),
	)
	if err != nil {
		return nil, tickerr.IO("create", path, err)
	}
	return &output{kind: kind, path: path, w: w}, nil
}

// pipeline reads fp to the end, feeding the aggregators, and publishes
// the outputs. On error every output is aborted.
func (p *Processor) pipeline(ctx context.Context, fp filePlan, fs *fileState, c *Counters) (results []Output, err error) {
	ll := logctx.FromContext(ctx)
	fs.to(StateReading)

	r, err := filereader.Open(fp.path, p.codec)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	parser, err := lineparser.New(p.schema, p.opts.Input)
	if err != nil {
		return nil, err
	}
	if fp.hasBaseDate {
		parser.SetBaseDate(fp.baseDate)
	}

	var outs []*output
	defer func() {
		if err != nil {
			for _, o := range outs {
				o.w.Abort()
			}
		}
	}()

	source := OutputStem(fp.path)
	var agg aggregator.Fanout
	var bars *aggregator.BarAggregator
	if p.barSchema != nil {
		o, err := p.openWriter(aggregator.EmitBars, fp.barsPath, source, p.barSchema)
		if err != nil {
			return nil, err
		}
		outs = append(outs, o)
		sink := &barSink{w: o.w, path: o.path, stats: p.stats, count: c}
		bars, err = aggregator.NewBarAggregator(p.schema, p.opts.Aggregation, sink)
		if err != nil {
			return nil, err
		}
		agg = append(agg, bars)
	}
	if p.recSchema != nil {
		o, err := p.openWriter(aggregator.EmitRecords, fp.recordsPath, source, p.recSchema)
		if err != nil {
			return nil, err
		}
		outs = append(outs, o)
		agg = append(agg, aggregator.NewRecordAggregator(&recordSink{w: o.w, path: o.path, count: c}))
	}

	headerPending := p.opts.Input.HasHeader
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		c.LinesRead++

		if headerPending {
			headerPending = false
			c.HeaderLines++
			if !parser.Header(line) && !p.opts.Input.FixedWidth() {
				ll.Warn("Header does not name every schema field, using positional columns")
			}
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			c.EmptyLines++
			continue
		}

		rec, err := parser.Parse(r.LineNumber(), line)
		if errors.Is(err, lineparser.ErrFiltered) {
			c.FilteredLines++
			continue
		}
		if err != nil {
			c.MalformedLines++
			if c.MalformedLines <= maxLoggedParseErrors {
				ll.Warn("Skipping malformed line", slog.Any("error", err))
			}
			continue
		}
		c.RecordsParsed++
		if err := agg.Add(rec); err != nil {
			return nil, err
		}
	}
	if c.MalformedLines > maxLoggedParseErrors {
		ll.Warn("Malformed lines not logged individually", slog.Int64("count", c.MalformedLines-maxLoggedParseErrors))
	}

	fs.to(StateAggregating)
	if err := agg.Close(); err != nil {
		return nil, err
	}
	if bars != nil {
		c.LateRecords = bars.Stats().LateRecords
	}

	fs.to(StateFlushing)
	for i, o := range outs {
		res, err := o.w.Close(ctx)
		if err != nil {
			// Outputs already published stay consistent with each other
			// only if every one of them publishes; remove the earlier ones.
			for _, prev := range outs[:i] {
				_ = os.Remove(prev.path)
			}
			for _, rest := range outs[i+1:] {
				rest.w.Abort()
			}
			outs = nil
			return nil, tickerr.IO("publish", o.path, err)
		}
		c.BatchesWritten += int64(len(res.BatchSizes))
		c.BytesWritten += res.FileSize
		results = append(results, Output{
			Kind:        o.kind,
			Path:        res.FileName,
			Rows:        res.RecordCount,
			RowGroups:   res.BatchSizes,
			Bytes:       res.FileSize,
			Fingerprint: res.Fingerprint,
		})
	}
	return results, nil
}
