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
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cardinalhq/tickrunner/internal/filereader"
	"github.com/cardinalhq/tickrunner/internal/tickerr"
)

const (
	barsSuffix    = ".bars.parquet"
	recordsSuffix = ".records.parquet"
)

// formatExtensions are stripped from input names, after any compression
// extension, to form output names.
var formatExtensions = map[string]bool{
	".csv": true,
	".tsv": true,
	".psv": true,
	".txt": true,
	".dat": true,
	".prn": true,
}

// filePlan is the resolved work for one input file.
type filePlan struct {
	index       int
	path        string
	barsPath    string
	recordsPath string
	baseDate    time.Time
	hasBaseDate bool
}

// OutputStem returns the name outputs derive from: the base name without
// compression and format extensions.
func OutputStem(path string) string {
	name := filereader.TrimCodecExtension(filepath.Base(path))
	if ext := filepath.Ext(name); formatExtensions[strings.ToLower(ext)] {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// baseDateFromName applies pattern to the base name of path. The first
// capture group is used when the pattern has one, else the whole match.
func baseDateFromName(re *regexp.Regexp, layout string, loc *time.Location, path string) (time.Time, error) {
	name := filepath.Base(path)
	m := re.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, tickerr.Schema("input.base_date_pattern %q does not match %q", re.String(), name)
	}
	s := m[0]
	if len(m) > 1 {
		s = m[1]
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, tickerr.Schema("base date %q in %q: %v", s, name, err)
	}
	return t, nil
}

// plan resolves output names and base dates for files. Two inputs that
// map to the same output are rejected before any work starts.
func (p *Processor) plan(files []string) ([]filePlan, error) {
	if len(files) == 0 {
		return nil, tickerr.Schema("no input files")
	}
	owner := make(map[string]string, len(files))
	plans := make([]filePlan, len(files))
	for i, path := range files {
		stem := OutputStem(path)
		if stem == "" {
			return nil, tickerr.Schema("cannot derive an output name from %q", path)
		}
		fp := filePlan{index: i, path: path}
		if p.opts.Aggregation.EmitsBars() {
			fp.barsPath = filepath.Join(p.opts.Writer.OutputDir, stem+barsSuffix)
		}
		if p.opts.Aggregation.EmitsRecords() {
			fp.recordsPath = filepath.Join(p.opts.Writer.OutputDir, stem+recordsSuffix)
		}
		if prev, dup := owner[stem]; dup {
			return nil, tickerr.Schema("inputs %q and %q produce the same output name %q", prev, path, stem)
		}
		owner[stem] = path

		if p.baseDateRe != nil {
			t, err := baseDateFromName(p.baseDateRe, p.opts.Input.BaseDateLayout, p.loc, path)
			if err != nil {
				return nil, err
			}
			fp.baseDate = t
			fp.hasBaseDate = true
		}
		plans[i] = fp
	}
	return plans, nil
}
