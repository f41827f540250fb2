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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		want    zerolog.Level
		wantErr bool
	}{
		{name: "debug flag wins", config: &Config{Level: "error", Debug: true}, want: zerolog.DebugLevel},
		{name: "explicit level", config: &Config{Level: "warn"}, want: zerolog.WarnLevel},
		{name: "empty level", config: &Config{}, want: zerolog.InfoLevel},
		{name: "bad level", config: &Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(context.Background(), tt.config)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)

			zl, ok := l.(*zerologLogger)
			require.True(t, ok)
			assert.Equal(t, tt.want, zl.logger.GetLevel())
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer

	l := NewFromZerolog(zerolog.New(&buf))
	l.WithComponent("coordinator").Info().Str("node", "LJ01D").Msg("started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "LJ01D", entry["node"])
	assert.Equal(t, "started", entry["message"])
}

func TestSetDebug(t *testing.T) {
	l := NewFromZerolog(zerolog.New(&bytes.Buffer{}).Level(zerolog.InfoLevel))

	l.SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, l.(*zerologLogger).logger.GetLevel())

	l.SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, l.(*zerologLogger).logger.GetLevel())
}

func TestTestLoggerIsSilent(t *testing.T) {
	l := NewTestLogger()
	assert.False(t, l.Info().Enabled())
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "a=1, b = 2")

	cfg := DefaultConfig()

	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.OTel.Enabled)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, cfg.OTel.Headers)
	assert.Equal(t, defaultServiceName, cfg.OTel.ServiceName)
}

func TestNewOTelWriterValidation(t *testing.T) {
	_, err := NewOTelWriter(context.Background(), OTelConfig{})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)

	_, err = NewOTelWriter(context.Background(), OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)

	_, err = InitializeMetrics(context.Background(), MetricsConfig{})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)
}

func TestFormatAttributeValue(t *testing.T) {
	assert.Equal(t, "null", formatAttributeValue(nil))
	assert.Equal(t, "true", formatAttributeValue(true))
	assert.Equal(t, "3", formatAttributeValue(float64(3)))
	assert.Equal(t, `{"a":1}`, formatAttributeValue(map[string]interface{}{"a": 1}))

	long := formatAttributeValue(strings.Repeat("x", maxAttributeValueLength*2))
	assert.Len(t, long, maxAttributeValueLength)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestMapZerologLevel(t *testing.T) {
	assert.Equal(t, otellog.SeverityWarn, mapZerologLevelToOTel("warning"))
	assert.Equal(t, otellog.SeverityFatal, mapZerologLevelToOTel("panic"))
	assert.Equal(t, otellog.SeverityInfo, mapZerologLevelToOTel("whatever"))
}
