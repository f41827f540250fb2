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

// Package agentconfig assembles the nested launch configuration of device agents.
package agentconfig

import (
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/observatory/pkg/models"
	"github.com/carverauto/observatory/pkg/topology"
)

// ErrConfig is returned when a launch configuration cannot be assembled or fails verification.
var ErrConfig = errors.New("agent configuration error")

const (
	driverKeyAttributes = "attributes"
	driverKeyPorts      = "ports"

	// DefaultOrgName is used when no organization is configured.
	DefaultOrgName = "observatory"
)

// DefaultDriverTemplate returns the base platform driver configuration.
func DefaultDriverTemplate() map[string]interface{} {
	return map[string]interface{}{
		"oms_uri": "launchsimulator",
	}
}

// Topology is the read-only view of the platform network used for assembly.
type Topology interface {
	Node(id string) (*topology.Node, bool)
}

// Resolver supplies ids and bindings resolved by the registry ahead of assembly.
type Resolver interface {
	PlatformDevice(nodeID string) (string, bool)
	Instruments(platformDeviceID string) []InstrumentBinding
	Streams(deviceID string) ([]models.StreamConfig, bool)
}

// ExtraFields override parts of the next configuration built for one platform.
// They are consumed by that build.
type ExtraFields struct {
	DriverConfig map[string]interface{}
	AlertConfig  []models.AlertDefinition
}

// Assembler builds AgentInstanceConfig trees. It does no I/O.
type Assembler struct {
	net            Topology
	dir            Resolver
	orgName        string
	driverTemplate map[string]interface{}

	mu    sync.Mutex
	extra map[string]ExtraFields
}

type Option func(*Assembler)

// WithOrgName sets the org_name written into every configuration.
func WithOrgName(name string) Option {
	return func(a *Assembler) { a.orgName = name }
}

// WithDriverTemplate replaces the base platform driver configuration.
func WithDriverTemplate(tmpl map[string]interface{}) Option {
	return func(a *Assembler) { a.driverTemplate = deepCopyMap(tmpl) }
}

func NewAssembler(net Topology, dir Resolver, opts ...Option) *Assembler {
	a := &Assembler{
		net:            net,
		dir:            dir,
		orgName:        DefaultOrgName,
		driverTemplate: DefaultDriverTemplate(),
		extra:          make(map[string]ExtraFields),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// DriverTemplateKeys lists the keys every platform driver_config inherits from the template.
func (a *Assembler) DriverTemplateKeys() []string {
	keys := make([]string, 0, len(a.driverTemplate))
	for k := range a.driverTemplate {
		keys = append(keys, k)
	}

	return keys
}

// SetExtraFields registers one-shot overrides for the next build of nodeID.
func (a *Assembler) SetExtraFields(nodeID string, fields ExtraFields) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.extra[nodeID] = fields
}

func (a *Assembler) takeExtraFields(nodeID string) (ExtraFields, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fields, ok := a.extra[nodeID]
	if ok {
		delete(a.extra, nodeID)
	}

	return fields, ok
}

// Build assembles the configuration of the platform agent for nodeID, driving
// deviceID, nested with the configurations of its sub-platforms and attached
// instruments. parentDeviceID, when set, must be the device of the node's parent.
func (a *Assembler) Build(nodeID, deviceID, parentDeviceID string) (*models.AgentInstanceConfig, error) {
	node, ok := a.net.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrConfig, nodeID)
	}

	if deviceID == "" {
		return nil, fmt.Errorf("%w: no device for platform %q", ErrConfig, nodeID)
	}

	var parentNodeID string

	if parentDeviceID != "" {
		parentNodeID = node.ParentID

		resolved, ok := a.dir.PlatformDevice(parentNodeID)
		if parentNodeID == "" || !ok || resolved != parentDeviceID {
			return nil, fmt.Errorf("%w: device %q is not the parent of platform %q", ErrConfig, parentDeviceID, nodeID)
		}
	}

	cfg := models.NewAgentInstanceConfig(a.orgName, models.DeviceKindPlatform, deviceID)
	cfg.PlatformConfig = &models.PlatformConfig{PlatformID: nodeID, ParentPlatformID: parentNodeID}
	cfg.DriverConfig = a.platformDriverConfig(node)

	if err := a.fillStreams(cfg, deviceID); err != nil {
		return nil, fmt.Errorf("platform %q: %w", nodeID, err)
	}

	if extra, ok := a.takeExtraFields(nodeID); ok {
		for k, v := range extra.DriverConfig {
			cfg.DriverConfig[k] = deepCopyValue(v)
		}

		if extra.AlertConfig != nil {
			cfg.AlertConfig = append([]models.AlertDefinition(nil), extra.AlertConfig...)
		}
	}

	for _, childID := range node.Children {
		childDeviceID, ok := a.dir.PlatformDevice(childID)
		if !ok {
			return nil, fmt.Errorf("%w: no device for sub-platform %q of %q", ErrConfig, childID, nodeID)
		}

		child, err := a.Build(childID, childDeviceID, deviceID)
		if err != nil {
			return nil, err
		}

		cfg.Children[childDeviceID] = child
	}

	for _, binding := range a.dir.Instruments(deviceID) {
		child, err := a.buildInstrument(binding)
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", nodeID, err)
		}

		cfg.Children[binding.DeviceID] = child
	}

	return cfg, nil
}

// BuildInstrument assembles a standalone instrument agent configuration.
func (a *Assembler) BuildInstrument(binding InstrumentBinding) (*models.AgentInstanceConfig, error) {
	return a.buildInstrument(binding)
}

// BuildAgent assembles the configuration of one agent: the platform tree rooted at
// nodeID, or the instrument deviceID attached to the platform parentDeviceID.
func (a *Assembler) BuildAgent(kind models.DeviceKind, nodeID, deviceID, parentDeviceID string) (*models.AgentInstanceConfig, error) {
	if kind == models.DeviceKindPlatform {
		return a.Build(nodeID, deviceID, parentDeviceID)
	}

	for _, binding := range a.dir.Instruments(parentDeviceID) {
		if binding.DeviceID == deviceID {
			return a.buildInstrument(binding)
		}
	}

	return nil, fmt.Errorf("%w: instrument %q is not attached to %q", ErrConfig, deviceID, parentDeviceID)
}

func (a *Assembler) buildInstrument(binding InstrumentBinding) (*models.AgentInstanceConfig, error) {
	if binding.DeviceID == "" {
		return nil, fmt.Errorf("%w: instrument binding without device id", ErrConfig)
	}

	cfg := models.NewAgentInstanceConfig(a.orgName, models.DeviceKindInstrument, binding.DeviceID)
	cfg.DriverConfig = deepCopyMap(binding.DriverConfig)
	cfg.AlertConfig = append(cfg.AlertConfig, binding.Alerts...)

	if binding.PortAgentConfig != nil {
		pac := *binding.PortAgentConfig
		cfg.PortAgentConfig = &pac
	}

	if err := a.fillStreams(cfg, binding.DeviceID); err != nil {
		return nil, fmt.Errorf("instrument %q: %w", binding.DeviceID, err)
	}

	return cfg, nil
}

func (a *Assembler) fillStreams(cfg *models.AgentInstanceConfig, deviceID string) error {
	streams, ok := a.dir.Streams(deviceID)
	if !ok || len(streams) == 0 {
		return fmt.Errorf("%w: missing stream definition for device %q", ErrConfig, deviceID)
	}

	for _, s := range streams {
		if s.StreamName == "" {
			return fmt.Errorf("%w: unnamed stream for device %q", ErrConfig, deviceID)
		}

		cfg.StreamConfig[s.StreamName] = s
	}

	return nil
}

func (a *Assembler) platformDriverConfig(node *topology.Node) map[string]interface{} {
	driver := deepCopyMap(a.driverTemplate)

	attrs := make(map[string]interface{}, len(node.Attributes))
	for _, attr := range node.Attributes {
		attrs[attr.AttrID] = attr
	}

	ports := make(map[string]interface{}, len(node.Ports))
	for _, port := range node.Ports {
		ports[port.PortID] = models.Port{
			PortID:        port.PortID,
			InstrumentIDs: append([]string{}, port.InstrumentIDs...),
		}
	}

	driver[driverKeyAttributes] = attrs
	driver[driverKeyPorts] = ports

	return driver
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}

	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(value)
	case []interface{}:
		out := make([]interface{}, len(value))
		for i := range value {
			out[i] = deepCopyValue(value[i])
		}

		return out
	case []string:
		return append([]string(nil), value...)
	default:
		return value
	}
}
