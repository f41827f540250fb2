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

import "errors"

var (
	// ErrInvalidState is returned when a lifecycle command is not permitted in the agent's current state.
	ErrInvalidState = errors.New("command not permitted in current agent state")
	// ErrUnknownCommand is returned for commands outside the agent command vocabulary.
	ErrUnknownCommand = errors.New("unknown agent command")
	// ErrProcessNotFound is returned by launchers when no live process matches.
	ErrProcessNotFound = errors.New("process not found")

	// ErrInvalidRecursion is returned for a recursion value that is neither a boolean nor an integer.
	ErrInvalidRecursion = errors.New("recursion must be a boolean or an integer")

	errInvalidDuration = errors.New("invalid duration")
	errNATSURLRequired = errors.New("nats url is required")
)
