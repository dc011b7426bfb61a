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
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	malformedLinesCounter otelmetric.Int64Counter
	barsEmittedCounter    otelmetric.Int64Counter
	filesProcessedCounter otelmetric.Int64Counter
	fileDurationHistogram otelmetric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/tickrunner/internal/processor")

	var err error
	malformedLinesCounter, err = meter.Int64Counter(
		"tickrunner.processor.lines.malformed",
		otelmetric.WithDescription("Number of input lines that failed to parse"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lines.malformed counter: %w", err))
	}

	barsEmittedCounter, err = meter.Int64Counter(
		"tickrunner.processor.bars.emitted",
		otelmetric.WithDescription("Number of bars emitted"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bars.emitted counter: %w", err))
	}

	filesProcessedCounter, err = meter.Int64Counter(
		"tickrunner.processor.files",
		otelmetric.WithDescription("Number of input files by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create files counter: %w", err))
	}

	fileDurationHistogram, err = meter.Float64Histogram(
		"tickrunner.processor.file.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("Time spent processing one input file"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create file.duration histogram: %w", err))
	}
}
