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

package natsutil

import "errors"

var (
	// ErrTLSRequired is returned when a TLS config is requested for a non-TLS security mode.
	ErrTLSRequired = errors.New("tls or mtls security mode required")
	// ErrCAParsingFailed is returned when CA certificate cannot be parsed
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
	// ErrAgentUnavailable is returned when no agent answers on the RPC subject.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrDataTimeout is returned when no data sample arrives in time.
	ErrDataTimeout = errors.New("timed out waiting for data sample")
	// ErrEmbeddedNotReady is returned when the embedded server fails to start.
	ErrEmbeddedNotReady = errors.New("embedded NATS server not ready")

	errNilEvent    = errors.New("event is nil")
	errNilSample   = errors.New("sample is nil")
	errNoEventData = errors.New("cloud event carries no data")
)
