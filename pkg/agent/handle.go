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

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/observatory/pkg/models"
)

var (
	// ErrEmptyResult is returned when a resource command yields no result.
	ErrEmptyResult = errors.New("resource command returned an empty result")
	// ErrAgentFailure wraps agent-side failures without a more specific mapping.
	ErrAgentFailure = errors.New("agent reported a failure")
	// ErrNoState is returned when an agent reply carries no state.
	ErrNoState = errors.New("agent reply carries no state")
)

// DefaultCallTimeout bounds a single agent call when no timeout is configured.
const DefaultCallTimeout = 30 * time.Second

const pong = "PONG"

// Handle is a proxy to one running agent.
type Handle struct {
	origin    string
	processID string
	client    Client
	timeout   time.Duration
}

// NewHandle returns a handle for the agent serving origin in process processID.
// A non-positive timeout uses DefaultCallTimeout.
func NewHandle(origin, processID string, client Client, timeout time.Duration) *Handle {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Handle{
		origin:    origin,
		processID: processID,
		client:    client,
		timeout:   timeout,
	}
}

// Origin is the device id the agent drives.
func (h *Handle) Origin() string { return h.origin }

// ProcessID is the launcher process the agent runs in.
func (h *Handle) ProcessID() string { return h.processID }

// ExecuteAgent runs a lifecycle command and returns the state the agent reports afterwards.
func (h *Handle) ExecuteAgent(ctx context.Context, cmd *models.AgentCommand) (models.AgentState, error) {
	resp, err := h.call(ctx, &models.AgentRequest{Op: models.OpExecuteAgent, Command: cmd})
	if err != nil {
		return "", fmt.Errorf("execute_agent %s on %s: %w", cmd.Command, h.origin, err)
	}

	return resp.State, nil
}

// ExecuteResource runs a resource command and returns its result.
func (h *Handle) ExecuteResource(ctx context.Context, cmd *models.AgentCommand) (json.RawMessage, error) {
	resp, err := h.call(ctx, &models.AgentRequest{Op: models.OpExecuteResource, Command: cmd})
	if err != nil {
		return nil, fmt.Errorf("execute_resource %s on %s: %w", cmd.Command, h.origin, err)
	}

	if isFalsy(resp.Result) {
		return nil, fmt.Errorf("%w: %s on %s", ErrEmptyResult, cmd.Command, h.origin)
	}

	return resp.Result, nil
}

// GetState returns the agent's current lifecycle state.
func (h *Handle) GetState(ctx context.Context) (models.AgentState, error) {
	resp, err := h.call(ctx, &models.AgentRequest{Op: models.OpGetAgentState})
	if err != nil {
		return "", fmt.Errorf("get_agent_state on %s: %w", h.origin, err)
	}

	if resp.State == "" {
		return "", fmt.Errorf("%w: %s", ErrNoState, h.origin)
	}

	return resp.State, nil
}

// PingAgent checks the agent answers. It fails while the agent is uninitialized.
func (h *Handle) PingAgent(ctx context.Context) (string, error) {
	resp, err := h.call(ctx, &models.AgentRequest{Op: models.OpPingAgent})
	if err != nil {
		return "", fmt.Errorf("ping_agent on %s: %w", h.origin, err)
	}

	var reply string
	if err := json.Unmarshal(resp.Result, &reply); err != nil || reply != pong {
		return "", fmt.Errorf("%w: unexpected ping reply %s", ErrAgentFailure, string(resp.Result))
	}

	return reply, nil
}

func (h *Handle) call(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.client.Call(ctx, h.origin, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, mapError(resp.Error)
	}

	return resp, nil
}

func mapError(e *models.RPCError) error {
	switch e.Code {
	case models.ErrorCodeInvalidState:
		return fmt.Errorf("%w: %s", models.ErrInvalidState, e.Message)
	case models.ErrorCodeUnknownCommand:
		return fmt.Errorf("%w: %s", models.ErrUnknownCommand, e.Message)
	default:
		return fmt.Errorf("%w: %w", ErrAgentFailure, e)
	}
}

//nolint:gochecknoglobals // falsy JSON literals
var falsyResults = [][]byte{
	[]byte("null"), []byte("false"), []byte("0"), []byte(`""`), []byte("[]"), []byte("{}"),
}

func isFalsy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}

	for _, f := range falsyResults {
		if bytes.Equal(trimmed, f) {
			return true
		}
	}

	return false
}

// Dialer builds handles over one transport.
type Dialer struct {
	client  Client
	timeout time.Duration
}

func NewDialer(client Client, timeout time.Duration) *Dialer {
	return &Dialer{client: client, timeout: timeout}
}

// Dial returns a handle for the agent serving origin.
func (d *Dialer) Dial(_ context.Context, origin, processID string) (*Handle, error) {
	return NewHandle(origin, processID, d.client, d.timeout), nil
}
