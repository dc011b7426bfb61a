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

package filereader

import (
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	bytesReadCounter otelmetric.Int64Counter
	linesReadCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/tickrunner/internal/filereader")

	var err error
	bytesReadCounter, err = meter.Int64Counter(
		"tickrunner.reader.bytes.read",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Number of raw bytes read from input files before decompression"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bytes.read counter: %w", err))
	}

	linesReadCounter, err = meter.Int64Counter(
		"tickrunner.reader.lines.read",
		otelmetric.WithDescription("Number of lines read from input files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lines.read counter: %w", err))
	}
}
