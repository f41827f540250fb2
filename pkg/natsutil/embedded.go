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

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const defaultEmbeddedReadyTimeout = 10 * time.Second

// EmbeddedOptions configures an in-process NATS server with JetStream.
type EmbeddedOptions struct {
	Host string
	// Port 0 picks a random free port.
	Port         int
	StoreDir     string
	ReadyTimeout time.Duration
}

// RunEmbedded starts a JetStream enabled NATS server in this process and waits
// until it accepts connections. Callers own Shutdown.
func RunEmbedded(opts EmbeddedOptions) (*server.Server, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}

	port := opts.Port
	if port == 0 {
		port = server.RANDOM_PORT
	}

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultEmbeddedReadyTimeout
	}

	srv, err := server.NewServer(&server.Options{
		Host:      host,
		Port:      port,
		JetStream: true,
		StoreDir:  opts.StoreDir,
		NoSigs:    true,
		NoLog:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(timeout) {
		srv.Shutdown()

		return nil, fmt.Errorf("%w: no client listener after %s", ErrEmbeddedNotReady, timeout)
	}

	deadline := time.Now().Add(timeout)
	for !srv.JetStreamEnabled() {
		if time.Now().After(deadline) {
			srv.Shutdown()

			return nil, fmt.Errorf("%w: JetStream disabled after %s", ErrEmbeddedNotReady, timeout)
		}

		time.Sleep(20 * time.Millisecond)
	}

	return srv, nil
}
