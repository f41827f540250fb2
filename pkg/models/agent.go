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
)

const recursionKwarg = "recursion"

// AgentCommand is a command sent to an agent, with optional positional and keyword arguments.
type AgentCommand struct {
	Command Command                `json:"command"`
	Args    []interface{}          `json:"args,omitempty"`
	Kwargs  map[string]interface{} `json:"kwargs,omitempty"`
}

// NewAgentCommand builds a command carrying the given recursion.
func NewAgentCommand(cmd Command, recursion Recursion) *AgentCommand {
	return &AgentCommand{
		Command: cmd,
		Kwargs:  map[string]interface{}{recursionKwarg: recursion.Value()},
	}
}

// Recursion returns the recursion carried in kwargs. An absent value takes the
// command's default; a malformed one is an ErrInvalidRecursion.
func (c *AgentCommand) Recursion() (Recursion, error) {
	v, ok := c.Kwargs[recursionKwarg]
	if !ok {
		return DefaultRecursion(c.Command), nil
	}

	r, err := ParseRecursion(v)
	if err != nil {
		return Recursion{}, fmt.Errorf("%s: %w", c.Command, err)
	}

	return r, nil
}

// WithRecursion returns a copy of the command carrying r.
func (c *AgentCommand) WithRecursion(r Recursion) *AgentCommand {
	kwargs := make(map[string]interface{}, len(c.Kwargs)+1)
	for k, v := range c.Kwargs {
		kwargs[k] = v
	}

	kwargs[recursionKwarg] = r.Value()

	return &AgentCommand{Command: c.Command, Args: c.Args, Kwargs: kwargs}
}

// RPCOp names the agent RPC operation.
type RPCOp string

const (
	OpExecuteAgent    RPCOp = "execute_agent"
	OpExecuteResource RPCOp = "execute_resource"
	OpGetAgentState   RPCOp = "get_agent_state"
	OpPingAgent       RPCOp = "ping_agent"
)

// Error codes returned by agents.
const (
	ErrorCodeInvalidState   = "invalid_state"
	ErrorCodeUnknownCommand = "unknown_command"
	ErrorCodeInternal       = "internal"
)

// AgentRequest is the JSON body of an agent RPC.
type AgentRequest struct {
	Op      RPCOp         `json:"op"`
	Command *AgentCommand `json:"command,omitempty"`
}

// AgentResponse is the JSON reply of an agent RPC.
type AgentResponse struct {
	State  AgentState      `json:"state,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError carries an agent-side failure.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Code + ": " + e.Message
}
