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

// Package aggregator folds parsed records into time-bucketed bars.
//
// A key's bar for bucket B is sealed and emitted when the first record of
// that key with a bucket later than B arrives. Records older than the
// key's current bucket are late: they are folded into a bar for their own
// bucket, which may produce a supplementary bar for a bucket that was
// already emitted. Every accepted record lands in exactly one emitted bar.
package aggregator

import (
	"cmp"
	"errors"
	"slices"

	"github.com/cardinalhq/tickrunner/internal/schema"
)

// Aggregator consumes records in arrival order. Close flushes whatever is
// still buffered; Add must not be called after Close.
type Aggregator interface {
	Add(rec *schema.Record) error
	Close() error
}

// BarEmitter receives sealed bars.
type BarEmitter interface {
	EmitBar(b *Bar) error
}

// RecordEmitter receives pass-through records.
type RecordEmitter interface {
	EmitRecord(rec *schema.Record) error
}

// Stats counts aggregator activity.
type Stats struct {
	Records     int64
	BarsEmitted int64
	LateRecords int64
	OpenBars    int
}

type recordView struct {
	ts       int64
	price    float64
	volume   float64
	distinct string
}

// keyState holds the open bars of one grouping key, sorted by start.
// Outside of late data there is exactly one.
type keyState struct {
	current int64
	open    []*openBar
}

// BarAggregator builds bars per grouping key.
type BarAggregator struct {
	size        int64
	groupIdx    int
	priceIdx    int
	volumeIdx   int
	distinctIdx int
	quantiles   []float64
	emit        BarEmitter

	keys   map[string]*keyState
	stats  Stats
	closed bool
}

var _ Aggregator = (*BarAggregator)(nil)

// NewBarAggregator returns a BarAggregator for s. cfg is validated here.
func NewBarAggregator(s *schema.Schema, cfg Config, emit BarEmitter) (*BarAggregator, error) {
	if err := cfg.Validate(s); err != nil {
		return nil, err
	}
	if !cfg.EmitsBars() {
		return nil, errors.New("bar output is not enabled")
	}
	stats, _ := cfg.ParseStatistics()

	a := &BarAggregator{
		size:        cfg.BucketSize.Nanoseconds(),
		groupIdx:    s.Index(cfg.GroupingField),
		priceIdx:    s.Index(cfg.PriceField),
		volumeIdx:   s.Index(cfg.VolumeField),
		distinctIdx: -1,
		emit:        emit,
		keys:        make(map[string]*keyState),
	}
	for _, st := range stats {
		switch st.Kind {
		case StatQuantile:
			a.quantiles = append(a.quantiles, st.Quantile)
		case StatDistinct:
			a.distinctIdx = s.Index(cfg.DistinctField)
		}
	}
	return a, nil
}

// Add folds rec into the bar for its key and bucket, emitting any bars it
// seals.
func (a *BarAggregator) Add(rec *schema.Record) error {
	if a.closed {
		return errors.New("aggregator is closed")
	}
	key := rec.Values[a.groupIdx].Key()
	view := recordView{ts: rec.Timestamp}
	view.price, _ = rec.Values[a.priceIdx].Float64()
	view.volume, _ = rec.Values[a.volumeIdx].Float64()
	if a.distinctIdx >= 0 {
		view.distinct = rec.Values[a.distinctIdx].Key()
	}
	start := BucketStart(rec.Timestamp, a.size)
	a.stats.Records++

	ks, ok := a.keys[key]
	if !ok {
		b, err := a.newOpenBar(key, start, view)
		if err != nil {
			return err
		}
		a.keys[key] = &keyState{current: start, open: []*openBar{b}}
		a.stats.OpenBars++
		return nil
	}

	if start > ks.current {
		for _, b := range ks.open {
			if err := a.sealAndEmit(b); err != nil {
				return err
			}
		}
		a.stats.OpenBars -= len(ks.open)
		clear(ks.open)
		b, err := a.newOpenBar(key, start, view)
		if err != nil {
			return err
		}
		ks.open = append(ks.open[:0], b)
		ks.current = start
		a.stats.OpenBars++
		return nil
	}

	if start < ks.current {
		a.stats.LateRecords++
	}
	i, found := slices.BinarySearchFunc(ks.open, start, func(b *openBar, t int64) int {
		return cmp.Compare(b.Start, t)
	})
	if found {
		return ks.open[i].fold(view)
	}
	b, err := a.newOpenBar(key, start, view)
	if err != nil {
		return err
	}
	ks.open = slices.Insert(ks.open, i, b)
	a.stats.OpenBars++
	return nil
}

func (a *BarAggregator) sealAndEmit(b *openBar) error {
	bar, err := b.seal(a.quantiles)
	if err != nil {
		return err
	}
	a.stats.BarsEmitted++
	return a.emit.EmitBar(bar)
}

// Close emits every open bar ordered by (start, key), so that identical
// input always produces identical output.
func (a *BarAggregator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	pending := make([]*openBar, 0, a.stats.OpenBars)
	for _, ks := range a.keys {
		pending = append(pending, ks.open...)
	}
	slices.SortFunc(pending, func(x, y *openBar) int {
		if c := cmp.Compare(x.Start, y.Start); c != 0 {
			return c
		}
		return cmp.Compare(x.Key, y.Key)
	})
	a.keys = nil
	a.stats.OpenBars = 0

	for _, b := range pending {
		if err := a.sealAndEmit(b); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the current counters.
func (a *BarAggregator) Stats() Stats { return a.stats }

// RecordAggregator passes every record through unchanged.
type RecordAggregator struct {
	emit  RecordEmitter
	count int64
}

var _ Aggregator = (*RecordAggregator)(nil)

// NewRecordAggregator returns a pass-through aggregator.
func NewRecordAggregator(emit RecordEmitter) *RecordAggregator {
	return &RecordAggregator{emit: emit}
}

func (a *RecordAggregator) Add(rec *schema.Record) error {
	a.count++
	return a.emit.EmitRecord(rec)
}

func (a *RecordAggregator) Close() error { return nil }

// Count returns the number of records passed through.
func (a *RecordAggregator) Count() int64 { return a.count }

// Fanout feeds every record to each aggregator in order.
type Fanout []Aggregator

func (f Fanout) Add(rec *schema.Record) error {
	for _, a := range f {
		if err := a.Add(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every aggregator and joins their errors.
func (f Fanout) Close() error {
	var errs []error
	for _, a := range f {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
