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

package parquetwriter

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	rowsWrittenCounter    otelmetric.Int64Counter
	batchesWrittenCounter otelmetric.Int64Counter
	bytesWrittenCounter   otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/tickrunner/internal/parquetwriter")

	var err error
	rowsWrittenCounter, err = meter.Int64Counter(
		"tickrunner.writer.rows.written",
		otelmetric.WithDescription("Number of rows written to output files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.written counter: %w", err))
	}

	batchesWrittenCounter, err = meter.Int64Counter(
		"tickrunner.writer.batches.written",
		otelmetric.WithDescription("Number of column batches flushed as row groups"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create batches.written counter: %w", err))
	}

	bytesWrittenCounter, err = meter.Int64Counter(
		"tickrunner.writer.bytes.written",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Size of published output files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bytes.written counter: %w", err))
	}
}
