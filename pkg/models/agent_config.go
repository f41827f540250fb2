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

// RequiredConfigKeys are the top-level keys every agent launch configuration must carry.
//
//nolint:gochecknoglobals // fixed key set
var RequiredConfigKeys = []string{
	"org_name",
	"device_type",
	"agent",
	"driver_config",
	"stream_config",
	"startup_config",
	"alert_config",
	"children",
}

// AgentRef identifies the device an agent drives.
type AgentRef struct {
	ResourceID string `json:"resource_id"`
}

// PlatformConfig places a platform within the network.
type PlatformConfig struct {
	PlatformID       string `json:"platform_id"`
	ParentPlatformID string `json:"parent_platform_id,omitempty"`
}

// StreamConfig describes one output stream of a device.
type StreamConfig struct {
	StreamName          string `json:"stream_name"`
	StreamID            string `json:"stream_id,omitempty"`
	RoutingKey          string `json:"routing_key,omitempty"`
	StreamDefinitionRef string `json:"stream_definition_ref,omitempty"`
	ParameterDictionary string `json:"parameter_dictionary_name"`
}

// AlertDefinition configures an alert evaluated on a device stream.
type AlertDefinition struct {
	Name        string   `json:"name"`
	StreamName  string   `json:"stream_name"`
	Description string   `json:"description,omitempty"`
	AlertType   string   `json:"alert_type"`
	Aggregate   string   `json:"aggregate_type,omitempty"`
	ValueID     string   `json:"value_id,omitempty"`
	LowerBound  *float64 `json:"lower_bound,omitempty"`
	LowerRelOp  string   `json:"lower_rel_op,omitempty"`
	UpperBound  *float64 `json:"upper_bound,omitempty"`
	UpperRelOp  string   `json:"upper_rel_op,omitempty"`
	TimeDelta   float64  `json:"time_delta,omitempty"`
	AlertClass  string   `json:"alert_class"`
}

// PortAgentConfig configures the port agent fronting an instrument.
type PortAgentConfig struct {
	DeviceAddr    string `json:"device_addr"`
	DevicePort    int    `json:"device_port"`
	DataPort      int    `json:"data_port"`
	CommandPort   int    `json:"command_port"`
	BinaryPath    string `json:"binary_path"`
	ProcessType   string `json:"process_type"`
	PortAgentAddr string `json:"port_agent_addr"`
	LogLevel      int    `json:"log_level"`
	Type          string `json:"type"`
}

// AgentInstanceConfig is the nested launch configuration of a device agent.
// Platform configurations carry one child configuration per sub-platform and
// attached instrument, keyed by the child's device id.
type AgentInstanceConfig struct {
	OrgName         string                          `json:"org_name"`
	DeviceType      DeviceKind                      `json:"device_type"`
	Agent           AgentRef                        `json:"agent"`
	DriverConfig    map[string]interface{}          `json:"driver_config"`
	StreamConfig    map[string]StreamConfig         `json:"stream_config"`
	StartupConfig   map[string]interface{}          `json:"startup_config"`
	AlertConfig     []AlertDefinition               `json:"alert_config"`
	Children        map[string]*AgentInstanceConfig `json:"children"`
	PlatformConfig  *PlatformConfig                 `json:"platform_config,omitempty"`
	PortAgentConfig *PortAgentConfig                `json:"port_agent_config,omitempty"`
}

// NewAgentInstanceConfig returns a configuration with every required section present and empty.
func NewAgentInstanceConfig(orgName string, kind DeviceKind, deviceID string) *AgentInstanceConfig {
	return &AgentInstanceConfig{
		OrgName:       orgName,
		DeviceType:    kind,
		Agent:         AgentRef{ResourceID: deviceID},
		DriverConfig:  map[string]interface{}{},
		StreamConfig:  map[string]StreamConfig{},
		StartupConfig: map[string]interface{}{},
		AlertConfig:   []AlertDefinition{},
		Children:      map[string]*AgentInstanceConfig{},
	}
}

// Walk visits the configuration and every nested child configuration, parents first.
func (c *AgentInstanceConfig) Walk(fn func(cfg *AgentInstanceConfig)) {
	if c == nil {
		return
	}

	fn(c)

	for _, child := range c.Children {
		child.Walk(fn)
	}
}
