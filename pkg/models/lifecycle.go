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
	"fmt"
	"strings"
)

// AgentState is the lifecycle state reported by a device agent.
type AgentState string

const (
	StateUninitialized AgentState = "RESOURCE_AGENT_STATE_UNINITIALIZED"
	StateInactive      AgentState = "RESOURCE_AGENT_STATE_INACTIVE"
	StateIdle          AgentState = "RESOURCE_AGENT_STATE_IDLE"
	StateCommand       AgentState = "RESOURCE_AGENT_STATE_COMMAND"
	StateMonitoring    AgentState = "RESOURCE_AGENT_STATE_MONITORING"
	StateStopped       AgentState = "RESOURCE_AGENT_STATE_STOPPED"
)

// Short returns the state without its wire prefix, e.g. "IDLE".
func (s AgentState) Short() string {
	return strings.TrimPrefix(string(s), "RESOURCE_AGENT_STATE_")
}

// Command names a lifecycle or resource operation understood by agents.
type Command string

const (
	CommandInitialize      Command = "INITIALIZE"
	CommandGoActive        Command = "GO_ACTIVE"
	CommandRun             Command = "RUN"
	CommandStartMonitoring Command = "START_MONITORING"
	CommandStopMonitoring  Command = "STOP_MONITORING"
	CommandPause           Command = "PAUSE"
	CommandResume          Command = "RESUME"
	CommandClear           Command = "CLEAR"
	CommandGoInactive      Command = "GO_INACTIVE"
	CommandReset           Command = "RESET"
	CommandShutdown        Command = "SHUTDOWN"

	CommandPingResource    Command = "PING_RESOURCE"
	CommandGetResource     Command = "GET_RESOURCE"
	CommandSetResource     Command = "SET_RESOURCE"
	CommandExecuteResource Command = "EXECUTE_RESOURCE"
)

type edge struct {
	from AgentState
	to   AgentState
}

// transitions lists the state-changing commands. An empty from-state means "any state".
//
//nolint:gochecknoglobals // immutable lookup table
var transitions = map[Command]edge{
	CommandInitialize:      {from: StateUninitialized, to: StateInactive},
	CommandGoActive:        {from: StateInactive, to: StateIdle},
	CommandRun:             {from: StateIdle, to: StateCommand},
	CommandStartMonitoring: {from: StateCommand, to: StateMonitoring},
	CommandStopMonitoring:  {from: StateMonitoring, to: StateCommand},
	CommandPause:           {from: StateCommand, to: StateStopped},
	CommandResume:          {from: StateStopped, to: StateCommand},
	CommandClear:           {from: StateStopped, to: StateIdle},
	CommandGoInactive:      {from: StateIdle, to: StateInactive},
	CommandReset:           {to: StateUninitialized},
	CommandShutdown:        {to: StateUninitialized},
}

//nolint:gochecknoglobals // immutable lookup table
var resourceCommands = map[Command]struct{}{
	CommandPingResource:    {},
	CommandGetResource:     {},
	CommandSetResource:     {},
	CommandExecuteResource: {},
}

// IsTransition reports whether cmd moves the agent to a new lifecycle state.
func (c Command) IsTransition() bool {
	_, ok := transitions[c]

	return ok
}

// Transition returns the state an agent in state `from` ends up in after cmd.
// Resource commands leave the state unchanged but are rejected while uninitialized.
func Transition(from AgentState, cmd Command) (AgentState, error) {
	if e, ok := transitions[cmd]; ok {
		if e.from != "" && e.from != from {
			return from, fmt.Errorf("%w: %s from %s", ErrInvalidState, cmd, from.Short())
		}

		return e.to, nil
	}

	if _, ok := resourceCommands[cmd]; ok {
		if from == StateUninitialized {
			return from, fmt.Errorf("%w: %s from %s", ErrInvalidState, cmd, from.Short())
		}

		return from, nil
	}

	return from, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

// DefaultRecursion is the recursion applied when a caller does not specify one:
// monitoring commands reach three levels, everything else the whole subtree.
func DefaultRecursion(cmd Command) Recursion {
	switch cmd {
	case CommandStartMonitoring, CommandStopMonitoring:
		return RecurseDepth(3)
	case CommandPingResource, CommandGetResource, CommandSetResource, CommandExecuteResource:
		return RecurseSelf()
	default:
		return RecurseAll()
	}
}
