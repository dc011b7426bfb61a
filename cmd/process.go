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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/tickrunner/config"
	"github.com/cardinalhq/tickrunner/internal/debugging"
	"github.com/cardinalhq/tickrunner/internal/parquetwriter"
	"github.com/cardinalhq/tickrunner/internal/processor"
)

type processFlags struct {
	configFile          string
	outputDir           string
	concurrency         int
	abortOnFirstFailure bool
	timeout             time.Duration
	backend             string
	reportFile          string
	pprofAddr           string
}

func init() {
	var flags processFlags

	cmd := &cobra.Command{
		Use:   "process [files...]",
		Short: "Aggregate input files into Parquet",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, doneFx, err := setupTelemetry("tickrunner", nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			opts, err := loadOptions(c, flags)
			if err != nil {
				return err
			}

			if flags.pprofAddr != "" {
				if _, err := debugging.ServePprof(ctx, flags.pprofAddr); err != nil {
					return fmt.Errorf("failed to start pprof server: %w", err)
				}
			}

			start := time.Now()
			err = runProcess(ctx, c.OutOrStdout(), opts, flags.reportFile, args)
			recordRun(ctx, time.Since(start), err)
			return err
		},
	}

	flags.bind(cmd)

	rootCmd.AddCommand(cmd)
}

func (f *processFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "Directory for output files")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Number of files processed at once (0 means GOMAXPROCS)")
	cmd.Flags().BoolVar(&f.abortOnFirstFailure, "abort-on-first-failure", false, "Fail the run as soon as one file fails")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Stop starting new files after this long")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Parquet writer backend (arrow or go-parquet)")
	cmd.Flags().StringVar(&f.reportFile, "report", "", "Write the run result as YAML to this file")
	cmd.Flags().StringVar(&f.pprofAddr, "pprof", "", "Serve pprof on this address during the run (for example localhost:6060)")
}

// loadOptions loads the configuration file and applies the flags that were
// set explicitly on the command line.
func loadOptions(c *cobra.Command, flags processFlags) (processor.Options, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return processor.Options{}, err
	}

	set := c.Flags().Changed
	if set("output-dir") {
		cfg.Writer.OutputDir = flags.outputDir
	}
	if set("concurrency") {
		cfg.Processor.Concurrency = flags.concurrency
	}
	if set("abort-on-first-failure") {
		cfg.Processor.AbortOnFirstFailure = flags.abortOnFirstFailure
	}
	if set("timeout") {
		cfg.Processor.Timeout = flags.timeout
	}
	if set("backend") {
		cfg.Writer.Backend = parquetwriter.BackendType(flags.backend)
	}
	return cfg.Options(), nil
}

// runProcess runs the processor over files, prints a summary to out and
// optionally writes the YAML report. The report is written even when the
// run fails.
func runProcess(ctx context.Context, out io.Writer, opts processor.Options, reportFile string, files []string) error {
	p, err := processor.New(opts)
	if err != nil {
		return err
	}

	res, runErr := p.Run(ctx, files)
	if res == nil {
		return runErr
	}

	if err := printSummary(out, res); err != nil {
		return err
	}
	if reportFile != "" {
		if err := writeReport(reportFile, res); err != nil {
			return err
		}
		slog.Info("Wrote run report", slog.String("path", reportFile))
	}
	return runErr
}

func printSummary(out io.Writer, res *processor.RunResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATE\tRECORDS\tMALFORMED\tBARS\tOUTPUT\tERROR")
	for _, fr := range res.Files {
		output := "-"
		if len(fr.Outputs) > 0 {
			output = fr.Outputs[0].Path
			if n := len(fr.Outputs); n > 1 {
				output = fmt.Sprintf("%s (+%d)", output, n-1)
			}
		}
		errMsg := fr.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			fr.Path, fr.State, fr.Counters.RecordsParsed, fr.Counters.MalformedLines,
			fr.Counters.BarsEmitted, output, errMsg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := res.Stats
	_, err := fmt.Fprintf(out, "\nrun %s: %d succeeded, %d failed, %d skipped; %d records, %d bars, %d bytes in %s\n",
		res.RunID, s.FilesSucceeded, s.FilesFailed, s.FilesSkipped,
		s.RecordsParsed, s.BarsEmitted, s.BytesWritten, res.Elapsed.Round(time.Millisecond))
	return err
}

func writeReport(path string, res *processor.RunResult) error {
	data, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
