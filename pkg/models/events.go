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
	"time"
)

// EventType classifies agent events.
type EventType string

const (
	EventTypeAgentState     EventType = "ResourceAgentStateEvent"
	EventTypeAgentLifecycle EventType = "ResourceAgentLifecycleEvent"
	EventTypeAgentCommand   EventType = "ResourceAgentCommandEvent"
)

// AgentEvent is published by agents on state changes and other notable occurrences.
type AgentEvent struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Origin     string                 `json:"origin"`
	OriginType string                 `json:"origin_type,omitempty"`
	SubType    string                 `json:"sub_type,omitempty"`
	State      AgentState             `json:"state,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Values     map[string]interface{} `json:"values,omitempty"`
}

// EventFilter selects events by type and origin. Empty fields match anything.
type EventFilter struct {
	Type   EventType
	Origin string
}

// Matches reports whether ev passes the filter.
func (f EventFilter) Matches(ev *AgentEvent) bool {
	if ev == nil {
		return false
	}

	if f.Type != "" && f.Type != ev.Type {
		return false
	}

	return f.Origin == "" || f.Origin == ev.Origin
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// DataSample is one granule published on a device data stream.
type DataSample struct {
	StreamID   string                 `json:"stream_id"`
	StreamName string                 `json:"stream_name"`
	Origin     string                 `json:"origin"`
	Timestamp  time.Time              `json:"timestamp"`
	Values     map[string]interface{} `json:"values"`
}
