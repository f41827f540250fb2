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

package models

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Duration is a time.Duration that decodes from either a Go duration string ("25s")
// or a number of nanoseconds.
type Duration time.Duration

// MarshalJSON encodes the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))

		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

// Or returns d, or fallback when d is not positive.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}

	return time.Duration(d)
}

// SecurityMode selects how a client authenticates to NATS.
type SecurityMode string

const (
	SecurityModeNone SecurityMode = "none"
	SecurityModeTLS  SecurityMode = "tls"
	SecurityModeMTLS SecurityMode = "mtls"
)

// TLSConfig holds certificate paths. Relative paths are resolved against SecurityConfig.CertDir.
type TLSConfig struct {
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`
}

type SecurityConfig struct {
	Mode       SecurityMode `json:"mode"`
	CertDir    string       `json:"cert_dir"`
	ServerName string       `json:"server_name,omitempty"`
	TLS        TLSConfig    `json:"tls"`
}

// ResolvedTLS returns the TLS paths with CertDir applied to relative entries.
func (s *SecurityConfig) ResolvedTLS() TLSConfig {
	resolve := func(path string) string {
		if path == "" || filepath.IsAbs(path) || s.CertDir == "" {
			return path
		}

		return filepath.Join(s.CertDir, path)
	}

	return TLSConfig{
		CertFile: resolve(s.TLS.CertFile),
		KeyFile:  resolve(s.TLS.KeyFile),
		CAFile:   resolve(s.TLS.CAFile),
	}
}

// NATSConfig configures NATS connectivity.
type NATSConfig struct {
	URL      string          `json:"url"`
	Domain   string          `json:"domain,omitempty"`
	Name     string          `json:"name,omitempty"`
	Security *SecurityConfig `json:"security,omitempty"`
	// Embedded starts an in-process NATS server with JetStream instead of dialing URL.
	Embedded bool `json:"embedded,omitempty"`
}

// Validate ensures the NATS configuration is valid.
func (c *NATSConfig) Validate() error {
	if c.URL == "" && !c.Embedded {
		return errNATSURLRequired
	}

	return nil
}

// EventsConfig configures the persistent agent event stream.
type EventsConfig struct {
	Enabled    bool     `json:"enabled"`
	StreamName string   `json:"stream_name"`
	Subjects   []string `json:"subjects"`
}

// Validate fills defaults for an enabled events stream.
func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.StreamName == "" {
		c.StreamName = "AGENT_EVENTS"
	}

	if len(c.Subjects) == 0 {
		c.Subjects = []string{"events.agent.>"}
	}

	return nil
}
