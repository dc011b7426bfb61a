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

import "sync/atomic"

// Counters is a plain snapshot of pipeline counters. Per-file results use
// it without the file counts.
type Counters struct {
	FilesSucceeded int64 `yaml:"files_succeeded,omitempty"`
	FilesFailed    int64 `yaml:"files_failed,omitempty"`
	FilesSkipped   int64 `yaml:"files_skipped,omitempty"`
	LinesRead      int64 `yaml:"lines_read"`
	EmptyLines     int64 `yaml:"empty_lines"`
	HeaderLines    int64 `yaml:"header_lines"`
	RecordsParsed  int64 `yaml:"records_parsed"`
	MalformedLines int64 `yaml:"malformed_lines"`
	FilteredLines  int64 `yaml:"filtered_lines"`
	LateRecords    int64 `yaml:"late_records"`
	BarsEmitted    int64 `yaml:"bars_emitted"`
	RowsEmitted    int64 `yaml:"rows_emitted"`
	BatchesWritten int64 `yaml:"batches_written"`
	BytesWritten   int64 `yaml:"bytes_written"`
}

// RunStats are the run-wide counters. Workers add their per-file counters
// when a file finishes, so values only grow while the run is active.
type RunStats struct {
	filesSucceeded atomic.Int64
	filesFailed    atomic.Int64
	filesSkipped   atomic.Int64
	linesRead      atomic.Int64
	emptyLines     atomic.Int64
	headerLines    atomic.Int64
	recordsParsed  atomic.Int64
	malformedLines atomic.Int64
	filteredLines  atomic.Int64
	lateRecords    atomic.Int64
	barsEmitted    atomic.Int64
	rowsEmitted    atomic.Int64
	batchesWritten atomic.Int64
	bytesWritten   atomic.Int64
}

func (s *RunStats) add(c *Counters) {
	s.linesRead.Add(c.LinesRead)
	s.emptyLines.Add(c.EmptyLines)
	s.headerLines.Add(c.HeaderLines)
	s.recordsParsed.Add(c.RecordsParsed)
	s.malformedLines.Add(c.MalformedLines)
	s.filteredLines.Add(c.FilteredLines)
	s.lateRecords.Add(c.LateRecords)
	s.barsEmitted.Add(c.BarsEmitted)
	s.rowsEmitted.Add(c.RowsEmitted)
	s.batchesWritten.Add(c.BatchesWritten)
	s.bytesWritten.Add(c.BytesWritten)
}

// Snapshot returns the current values.
func (s *RunStats) Snapshot() Counters {
	return Counters{
		FilesSucceeded: s.filesSucceeded.Load(),
		FilesFailed:    s.filesFailed.Load(),
		FilesSkipped:   s.filesSkipped.Load(),
		LinesRead:      s.linesRead.Load(),
		EmptyLines:     s.emptyLines.Load(),
		HeaderLines:    s.headerLines.Load(),
		RecordsParsed:  s.recordsParsed.Load(),
		MalformedLines: s.malformedLines.Load(),
		FilteredLines:  s.filteredLines.Load(),
		LateRecords:    s.lateRecords.Load(),
		BarsEmitted:    s.barsEmitted.Load(),
		RowsEmitted:    s.rowsEmitted.Load(),
		BatchesWritten: s.batchesWritten.Load(),
		BytesWritten:   s.bytesWritten.Load(),
	}
}
