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

// Command observatory provisions a platform subtree and drives its agents
// through a full lifecycle, exiting once the tree is shut down.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/carverauto/observatory/pkg/config"
	"github.com/carverauto/observatory/pkg/lifecycle"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/observatory"
	"github.com/carverauto/observatory/pkg/version"
)

const serviceName = "observatory"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Observatory run failed: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/observatory/observatory.json", "Path to config file")
	reportPath := flag.String("report", "", "Write the run report as JSON to this path")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())

		return nil
	}

	ctx := context.Background()

	var cfg observatory.ServiceConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, serviceName, cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(context.Background()); err != nil {
			log.Printf("Failed to shut down logger: %v", err)
		}
	}()

	var otelCfg *logger.OTelConfig
	if cfg.Logging != nil {
		otelCfg = &cfg.Logging.OTel
	}

	mp, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           otelCfg,
	})

	switch {
	case errors.Is(err, logger.ErrOTelMetricsDisabled):
		mainLogger.Debug().Msg("OTel metrics export disabled")
	case err != nil:
		return fmt.Errorf("failed to initialize metrics: %w", err)
	default:
		defer func() { _ = mp.Shutdown(context.Background()) }()
	}

	tp, ctx, rootSpan, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Logger:         mainLogger,
		OTel:           otelCfg,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	defer func() { _ = tp.Shutdown(context.Background()) }()
	defer rootSpan.End()

	svc := observatory.NewService(&cfg, mainLogger, observatory.WithConfigPath(*configPath))

	if err := lifecycle.Run(ctx, &lifecycle.ServiceOptions{
		ServiceName:     serviceName,
		Service:         svc,
		Logger:          mainLogger,
		ShutdownTimeout: 30 * time.Second,
	}); err != nil {
		return err
	}

	if *reportPath != "" {
		data, err := json.MarshalIndent(svc.Report(), "", "  ")
		if err != nil {
			return err
		}

		if err := os.WriteFile(*reportPath, data, 0o600); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	return nil
}
