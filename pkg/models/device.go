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

import "time"

// DeviceKind distinguishes platform devices from instrument devices.
type DeviceKind string

const (
	DeviceKindPlatform   DeviceKind = "PlatformDevice"
	DeviceKindInstrument DeviceKind = "InstrumentDevice"
)

// ResourceType names the kinds of records held in the resource registry.
type ResourceType string

const (
	ResourcePlatformDevice          ResourceType = "PlatformDevice"
	ResourceInstrumentDevice        ResourceType = "InstrumentDevice"
	ResourcePlatformModel           ResourceType = "PlatformModel"
	ResourceInstrumentModel         ResourceType = "InstrumentModel"
	ResourcePlatformAgent           ResourceType = "PlatformAgent"
	ResourceInstrumentAgent         ResourceType = "InstrumentAgent"
	ResourcePlatformAgentInstance   ResourceType = "PlatformAgentInstance"
	ResourceInstrumentAgentInstance ResourceType = "InstrumentAgentInstance"
	ResourceDataProduct             ResourceType = "DataProduct"
)

// Predicate names an association between two registry records.
type Predicate string

const (
	PredicateHasModel           Predicate = "hasModel"
	PredicateHasAgentInstance   Predicate = "hasAgentInstance"
	PredicateHasAgentDefinition Predicate = "hasAgentDefinition"
	PredicateHasDevice          Predicate = "hasDevice"
	PredicateHasOutputProduct   Predicate = "hasOutputProduct"
)

// Resource is the common header of registry records.
type Resource struct {
	ID        string       `json:"id"`
	Type      ResourceType `json:"type"`
	Name      string       `json:"name"`
	AltIDs    []string     `json:"alt_ids,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// DeviceRecord describes a physical platform or instrument.
type DeviceRecord struct {
	Resource
	Kind         DeviceKind        `json:"kind"`
	ModelID      string            `json:"model_id,omitempty"`
	SerialNumber string            `json:"serial_number,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ModelRecord describes a platform or instrument model.
type ModelRecord struct {
	Resource
	Manufacturer string `json:"manufacturer,omitempty"`
}

// AgentDefinition describes the agent implementation that drives a device.
type AgentDefinition struct {
	Resource
	DriverModule         string         `json:"driver_module,omitempty"`
	DriverClass          string         `json:"driver_class,omitempty"`
	StreamConfigurations []StreamConfig `json:"stream_configurations"`
}

// AgentInstance is the per-device deployment record of an agent.
type AgentInstance struct {
	Resource
	DeviceID        string                 `json:"device_id"`
	DefinitionID    string                 `json:"definition_id"`
	DriverConfig    map[string]interface{} `json:"driver_config,omitempty"`
	PortAgentConfig *PortAgentConfig       `json:"port_agent_config,omitempty"`
	Alerts          []AlertDefinition      `json:"alerts,omitempty"`
	AgentConfig     map[string]interface{} `json:"agent_config,omitempty"`
}

// DataProduct is an output stream of a device.
type DataProduct struct {
	Resource
	StreamID            string `json:"stream_id"`
	StreamName          string `json:"stream_name"`
	ParameterDictionary string `json:"parameter_dictionary"`
}

// AttributeDefinition describes a platform attribute exposed by its driver.
type AttributeDefinition struct {
	AttrID              string  `json:"attr_id" yaml:"attr_id"`
	Type                string  `json:"type" yaml:"type"`
	Units               string  `json:"units,omitempty" yaml:"units"`
	MinVal              float64 `json:"min_val,omitempty" yaml:"min_val"`
	MaxVal              float64 `json:"max_val,omitempty" yaml:"max_val"`
	ReadWrite           string  `json:"read_write" yaml:"read_write"`
	Group               string  `json:"group,omitempty" yaml:"group"`
	MonitorCycleSeconds float64 `json:"monitor_cycle_seconds,omitempty" yaml:"monitor_cycle_seconds"`
}

// Port is a platform port and the instruments attached to it.
type Port struct {
	PortID        string   `json:"port_id" yaml:"port_id"`
	InstrumentIDs []string `json:"instrument_ids" yaml:"instrument_ids"`
}
