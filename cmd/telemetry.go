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
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tickrunner/internal/idgen"
)

var (
	commonAttributes attribute.Set

	meter = otel.Meter("github.com/cardinalhq/tickrunner")

	myInstanceID string

	runDurationHistogram metric.Float64Histogram
	runsCounter          metric.Int64Counter
)

func setupTelemetry(servicename string, addlAttrs *attribute.Set) (context.Context, func() error, error) {
	myInstanceID = idgen.NewRunID(time.Now())

	// Catch signals to stop the process as gracefully as possible.
	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	setupGlobalMetrics()

	attrs := []attribute.KeyValue{
		attribute.String("instanceID", myInstanceID),
	}
	if addlAttrs != nil {
		iter := addlAttrs.Iter()
		for iter.Next() {
			attrs = append(attrs, iter.Attribute())
		}
	}
	commonAttributes = attribute.NewSet(attrs...)

	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("TICKRUNNER_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	// Logs go to stderr so stdout carries only command output.
	if os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true" {
		slog.Info("OpenTelemetry exporting enabled")
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stderr, opts),
			otelslog.NewHandler(servicename),
		)).With(
			slog.String("service", servicename),
			slog.String("instanceID", myInstanceID),
		))

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			return doneCtx, f, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(time.Second * 10)); err != nil {
			slog.Warn("failed to start runtime metrics", "error", err.Error())
		}

		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", "error", err.Error())
		}

		f = func() error {
			defer doneCancel()
			slog.Info("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)).With(
			slog.String("service", servicename),
			slog.String("instanceID", myInstanceID),
		))
	}

	return doneCtx, f, nil
}

func setupGlobalMetrics() {
	h, err := meter.Float64Histogram(
		"tickrunner.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("The duration in seconds of a processing run"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.duration histogram: %w", err))
	}
	runDurationHistogram = h

	c, err := meter.Int64Counter(
		"tickrunner.runs",
		metric.WithDescription("Number of processing runs by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create runs counter: %w", err))
	}
	runsCounter = c
}

func recordRun(ctx context.Context, elapsed time.Duration, err error) {
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	attrs := metric.WithAttributeSet(commonAttributes)
	outcomeAttr := metric.WithAttributes(attribute.String("outcome", outcome))
	runDurationHistogram.Record(ctx, elapsed.Seconds(), attrs, outcomeAttr)
	runsCounter.Add(ctx, 1, attrs, outcomeAttr)
}
