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
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/mapping"
	"github.com/DataDog/sketches-go/ddsketch/store"
	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"
)

// Bar summarizes the records of one grouping key inside one time bucket
// [Start, End). Open and Close follow arrival order.
type Bar struct {
	Key            string
	Start          int64 // Unix nanoseconds, inclusive
	End            int64 // Unix nanoseconds, exclusive
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Count          int64
	Volume         float64
	FirstTimestamp int64
	LastTimestamp  int64

	// VWAP is valid only when HasVWAP is set; a bar with zero volume has
	// no VWAP.
	VWAP    float64
	HasVWAP bool

	// Quantiles holds one price quantile per configured pNN statistic, in
	// configuration order.
	Quantiles []float64
	Distinct  int64
}

const sketchRelativeAccuracy = 0.01

var (
	mappingOnce   sync.Once
	sharedMapping mapping.IndexMapping
	mappingErr    error
)

func priceMapping() (mapping.IndexMapping, error) {
	mappingOnce.Do(func() {
		sharedMapping, mappingErr = mapping.NewLogarithmicMapping(sketchRelativeAccuracy)
	})
	return sharedMapping, mappingErr
}

// openBar is a bar still accepting records.
type openBar struct {
	Bar
	notional float64
	prices   *ddsketch.DDSketch
	distinct *hyperloglog.Sketch
}

func (a *BarAggregator) newOpenBar(key string, start int64, rec recordView) (*openBar, error) {
	b := &openBar{
		Bar: Bar{
			Key:            key,
			Start:          start,
			End:            start + a.size,
			Open:           rec.price,
			High:           rec.price,
			Low:            rec.price,
			Close:          rec.price,
			Count:          1,
			Volume:         rec.volume,
			FirstTimestamp: rec.ts,
			LastTimestamp:  rec.ts,
		},
		notional: rec.price * rec.volume,
	}
	if len(a.quantiles) > 0 {
		m, err := priceMapping()
		if err != nil {
			return nil, fmt.Errorf("price sketch mapping: %w", err)
		}
		b.prices = ddsketch.NewDDSketch(m, store.NewDenseStore(), store.NewDenseStore())
		if err := b.prices.Add(rec.price); err != nil {
			return nil, fmt.Errorf("price sketch: %w", err)
		}
	}
	if a.distinctIdx >= 0 {
		b.distinct = hyperloglog.New14()
		b.distinct.InsertHash(xxhash.Sum64String(rec.distinct))
	}
	return b, nil
}

func (b *openBar) fold(rec recordView) error {
	b.High = math.Max(b.High, rec.price)
	b.Low = math.Min(b.Low, rec.price)
	b.Close = rec.price
	b.Count++
	b.Volume += rec.volume
	b.notional += rec.price * rec.volume
	b.LastTimestamp = rec.ts
	if b.prices != nil {
		if err := b.prices.Add(rec.price); err != nil {
			return fmt.Errorf("price sketch: %w", err)
		}
	}
	if b.distinct != nil {
		b.distinct.InsertHash(xxhash.Sum64String(rec.distinct))
	}
	return nil
}

// seal finalizes derived statistics and drops the sketches.
func (b *openBar) seal(quantiles []float64) (*Bar, error) {
	out := b.Bar
	if b.Volume != 0 {
		out.VWAP = b.notional / b.Volume
		out.HasVWAP = true
	}
	if b.prices != nil {
		out.Quantiles = make([]float64, len(quantiles))
		for i, q := range quantiles {
			v, err := b.prices.GetValueAtQuantile(q)
			if err != nil {
				return nil, fmt.Errorf("price quantile %g: %w", q, err)
			}
			out.Quantiles[i] = v
		}
	}
	if b.distinct != nil {
		out.Distinct = int64(b.distinct.Estimate())
	}
	b.prices = nil
	b.distinct = nil
	return &out, nil
}

// BucketStart returns the start of the bucket of width size holding ts,
// rounding toward negative infinity. Buckets are half-open, so a timestamp
// exactly on a boundary starts the later bucket.
func BucketStart(ts, size int64) int64 {
	q := ts / size
	if ts%size != 0 && ts < 0 {
		q--
	}
	return q * size
}
