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
	"runtime"
	"time"

	"github.com/cardinalhq/tickrunner/internal/aggregator"
	"github.com/cardinalhq/tickrunner/internal/lineparser"
	"github.com/cardinalhq/tickrunner/internal/parquetwriter"
	"github.com/cardinalhq/tickrunner/internal/schema"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

// Config controls run scheduling.
type Config struct {
	// Concurrency is the number of files processed at once. Zero means
	// GOMAXPROCS.
	Concurrency int `mapstructure:"concurrency"`

	// AbortOnFirstFailure fails the run as soon as one file fails. Files
	// not yet started are skipped.
	AbortOnFirstFailure bool `mapstructure:"abort_on_first_failure"`

	// Timeout bounds how long new files keep being scheduled. Zero means
	// no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{Concurrency: 4}
}

func (c Config) workers() int {
	if c.Concurrency == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Concurrency
}

func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return tickerr.Schema("processor.concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Timeout < 0 {
		return tickerr.Schema("processor.timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// Options is the complete configuration of a run.
type Options struct {
	Schema      []schema.FieldSpec
	Input       lineparser.Config
	Aggregation aggregator.Config
	Writer      parquetwriter.Config
	Run         Config
}

// DefaultOptions returns every section at its default. Schema and the
// field names used by aggregation still need to be filled in.
func DefaultOptions() Options {
	return Options{
		Input:       lineparser.DefaultConfig(),
		Aggregation: aggregator.DefaultConfig(),
		Writer:      parquetwriter.DefaultConfig(),
		Run:         DefaultConfig(),
	}
}
