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
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrLaunchTimeout is returned when a launched process does not come up in time.
	ErrLaunchTimeout = errors.New("agent process did not start in time")
	// ErrStartupConfirmationTimeout is returned when a started agent never reports UNINITIALIZED.
	ErrStartupConfirmationTimeout = errors.New("agent startup was not confirmed")
	// ErrStateConfirmationTimeout is returned when an agent does not confirm the state a command leads to.
	ErrStateConfirmationTimeout = errors.New("agent state change was not confirmed")
	// ErrNotRunning is returned for commands sent to a node without a running agent.
	ErrNotRunning = errors.New("agent not running")
	// ErrUnknownNode is returned for node ids that were never registered.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNodeExists is returned when registering a node id twice.
	ErrNodeExists = errors.New("node already registered")
	// ErrBusy is returned when a node already has an operation in flight.
	ErrBusy = errors.New("node busy")
)

// AggregateError collects the failures of a fan-out, keyed by node id.
type AggregateError struct {
	Failures map[string]error
}

func newAggregateError() *AggregateError {
	return &AggregateError{Failures: make(map[string]error)}
}

// add records err for nodeID. Failures reported by a nested fan-out are merged
// so every failed node appears once under its own id.
func (e *AggregateError) add(nodeID string, err error) {
	if nested, ok := err.(*AggregateError); ok {
		for id, failure := range nested.Failures {
			e.Failures[id] = failure
		}

		return
	}

	e.Failures[nodeID] = err
}

func (e *AggregateError) orNil() error {
	if len(e.Failures) == 0 {
		return nil
	}

	return e
}

// NodeIDs returns the failed node ids in sorted order.
func (e *AggregateError) NodeIDs() []string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, id := range e.NodeIDs() {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}

	return fmt.Sprintf("%d node(s) failed: %s", len(parts), strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, id := range e.NodeIDs() {
		errs = append(errs, e.Failures[id])
	}

	return errs
}
