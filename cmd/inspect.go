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

package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the schema, metadata and row groups of an output file",
		RunE: func(c *cobra.Command, _ []string) error {
			filename, err := c.Flags().GetString("file")
			if err != nil {
				return fmt.Errorf("failed to get file flag: %w", err)
			}
			return runInspect(c.OutOrStdout(), filename)
		},
	}

	rootCmd.AddCommand(cmd)

	cmd.Flags().String("file", "", "Parquet file to read")
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Errorf("failed to mark file flag as required: %w", err))
	}
}

func runInspect(out io.Writer, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer func() {
		_ = f.Close()
	}()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filename, err)
	}
	pf, err := parquet.OpenFile(f, st.Size(), parquet.SkipPageIndex(true), parquet.SkipBloomFilters(true))
	if err != nil {
		return fmt.Errorf("failed to read parquet footer of %s: %w", filename, err)
	}

	fmt.Fprintln(out, pf.Schema().String())

	md := pf.Metadata()
	fmt.Fprintf(out, "\ncreated_by: %s\nrows: %d\n", md.CreatedBy, pf.NumRows())

	kv := slices.Clone(md.KeyValueMetadata)
	slices.SortFunc(kv, func(a, b format.KeyValue) int { return strings.Compare(a.Key, b.Key) })
	if len(kv) > 0 {
		fmt.Fprintln(out, "metadata:")
		for _, e := range kv {
			// The arrow backend stores its serialized schema; it is not readable.
			if e.Key == "ARROW:schema" {
				fmt.Fprintf(out, "  %s: <%d bytes>\n", e.Key, len(e.Value))
				continue
			}
			fmt.Fprintf(out, "  %s: %s\n", e.Key, e.Value)
		}
	}

	fmt.Fprintln(out, "row_groups:")
	for i, rg := range pf.RowGroups() {
		fmt.Fprintf(out, "  %d: %d rows\n", i, rg.NumRows())
	}
	return nil
}
