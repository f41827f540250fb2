/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package coordinator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/carverauto/observatory/pkg/coordinator"

	metricCommandsTotal   = "coordinator_commands_total"
	metricCommandFailures = "coordinator_command_failures_total"
	metricAgentStart      = "coordinator_agent_start_seconds"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	commandCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	failureCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	startHistogram metric.Float64Histogram
)

func initMeter() {
	meter := otel.Meter(meterName)

	counter, err := meter.Int64Counter(
		metricCommandsTotal,
		metric.WithDescription("Agent commands issued by the coordinator"),
	)
	if err != nil {
		otel.Handle(err)
	}
	commandCounter = counter

	failures, err := meter.Int64Counter(
		metricCommandFailures,
		metric.WithDescription("Agent commands that failed or were not confirmed"),
	)
	if err != nil {
		otel.Handle(err)
	}
	failureCounter = failures

	hist, err := meter.Float64Histogram(
		metricAgentStart,
		metric.WithDescription("Time from launch to confirmed agent startup"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	startHistogram = hist
}

func recordCommand(ctx context.Context, command string, err error) {
	meterOnce.Do(initMeter)

	attrs := metric.WithAttributes(attribute.String("command", command))

	if commandCounter != nil {
		commandCounter.Add(ctx, 1, attrs)
	}

	if err != nil && failureCounter != nil {
		failureCounter.Add(ctx, 1, attrs)
	}
}

func recordAgentStart(ctx context.Context, kind string, duration time.Duration, ok bool) {
	meterOnce.Do(initMeter)
	if startHistogram == nil {
		return
	}

	startHistogram.Record(
		ctx,
		duration.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("confirmed", ok),
		),
	)
}
