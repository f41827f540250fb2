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

package deployment

import (
	"context"
	"fmt"
	"sync"

	"github.com/carverauto/observatory/pkg/agentconfig"
	"github.com/carverauto/observatory/pkg/coordinator"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
	"github.com/carverauto/observatory/pkg/registry"
	"github.com/carverauto/observatory/pkg/topology"
)

// Platform is a provisioned platform node.
type Platform struct {
	NodeID            string
	ParentNodeID      string
	DeviceID          string
	AgentDefinitionID string
	AgentInstanceID   string
	Streams           []models.StreamConfig
}

// InstrumentDeployment is a provisioned instrument.
type InstrumentDeployment struct {
	Key               string
	DeviceID          string
	AgentDefinitionID string
	AgentInstanceID   string
	PlatformNodeID    string
	Streams           []models.StreamConfig
}

// NodeRegistrar accepts agent nodes for lifecycle coordination.
type NodeRegistrar interface {
	Register(spec coordinator.NodeSpec) error
}

// Provisioner creates registry records for platforms and instruments and keeps
// the assembler's directory in step with them.
type Provisioner struct {
	reg     *registry.Registry
	net     *topology.Network
	dir     *agentconfig.Directory
	catalog Catalog
	alerts  []models.AlertDefinition
	logger  logger.Logger

	mu              sync.Mutex
	platformModelID string
	instrModelID    string
	platforms       map[string]*Platform
	platformOrder   []string
	instruments     map[string]*InstrumentDeployment
	instrOrder      []string
}

type Option func(*Provisioner)

// WithAlerts replaces the alert definitions configured on instruments.
func WithAlerts(alerts []models.AlertDefinition) Option {
	return func(p *Provisioner) { p.alerts = alerts }
}

func NewProvisioner(reg *registry.Registry, net *topology.Network, dir *agentconfig.Directory,
	catalog Catalog, log logger.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		reg:         reg,
		net:         net,
		dir:         dir,
		catalog:     catalog,
		alerts:      DefaultAlerts(),
		logger:      log,
		platforms:   make(map[string]*Platform),
		instruments: make(map[string]*InstrumentDeployment),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Provisioner) modelID(ctx context.Context, kind models.DeviceKind) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, name, maker := &p.platformModelID, "RSNPlatformModel", "OOI"
	if kind == models.DeviceKindInstrument {
		slot, name, maker = &p.instrModelID, "SBE37IMModel", "Sea-Bird"
	}

	if *slot != "" {
		return *slot, nil
	}

	id, err := p.reg.CreateModel(ctx, kind, &models.ModelRecord{
		Resource:     models.Resource{Name: name},
		Manufacturer: maker,
	})
	if err != nil {
		return "", err
	}

	*slot = id

	return id, nil
}

// createDataProducts stores one data product per stream and returns the
// streams with their assigned stream ids.
func (p *Provisioner) createDataProducts(ctx context.Context, deviceID string, streams []models.StreamConfig) ([]models.StreamConfig, error) {
	out := make([]models.StreamConfig, 0, len(streams))

	for _, s := range streams {
		dp := &models.DataProduct{
			Resource:            models.Resource{Name: s.StreamName + "_" + deviceID},
			StreamName:          s.StreamName,
			ParameterDictionary: s.ParameterDictionary,
		}

		if _, err := p.reg.CreateDataProduct(ctx, deviceID, dp); err != nil {
			return nil, err
		}

		s.StreamID = dp.StreamID
		s.RoutingKey = s.StreamName + "." + dp.StreamID
		out = append(out, s)
	}

	return out, nil
}

// CreatePlatform provisions the platform nodeID. parentNodeID, when set, must
// already be provisioned; the new platform is linked as its child.
func (p *Provisioner) CreatePlatform(ctx context.Context, nodeID, parentNodeID string) (*Platform, error) {
	if _, ok := p.net.Node(nodeID); !ok {
		return nil, fmt.Errorf("%w: %s", topology.ErrTopology, nodeID)
	}

	p.mu.Lock()
	_, exists := p.platforms[nodeID]
	parent := p.platforms[parentNodeID]
	p.mu.Unlock()

	if exists {
		return nil, fmt.Errorf("%w: platform %s", ErrAlreadyProvisioned, nodeID)
	}

	if parentNodeID != "" && parent == nil {
		return nil, fmt.Errorf("%w: parent platform %s", ErrNotProvisioned, parentNodeID)
	}

	modelID, err := p.modelID(ctx, models.DeviceKindPlatform)
	if err != nil {
		return nil, err
	}

	deviceID, err := p.reg.CreateDevice(ctx, &models.DeviceRecord{
		Resource: models.Resource{Name: "PlatformDevice_" + nodeID, AltIDs: []string{"PRE:" + nodeID}},
		Kind:     models.DeviceKindPlatform,
		ModelID:  modelID,
	})
	if err != nil {
		return nil, err
	}

	defID, err := p.reg.CreateAgentDefinition(ctx, models.DeviceKindPlatform, &models.AgentDefinition{
		Resource:             models.Resource{Name: "PlatformAgent_" + nodeID},
		DriverModule:         PlatformDriverModule,
		DriverClass:          PlatformDriverClass,
		StreamConfigurations: PlatformStreams(),
	})
	if err != nil {
		return nil, err
	}

	instID, err := p.reg.CreateAgentInstance(ctx, &models.AgentInstance{
		Resource:     models.Resource{Name: "PlatformAgentInstance_" + nodeID},
		DeviceID:     deviceID,
		DefinitionID: defID,
		AgentConfig: map[string]interface{}{
			"platform_config": models.PlatformConfig{PlatformID: nodeID, ParentPlatformID: parentNodeID},
		},
	})
	if err != nil {
		return nil, err
	}

	streams, err := p.createDataProducts(ctx, deviceID, PlatformStreams())
	if err != nil {
		return nil, err
	}

	if parent != nil {
		if err := p.reg.AssignChildPlatform(ctx, deviceID, parent.DeviceID); err != nil {
			return nil, err
		}
	}

	p.dir.SetPlatformDevice(nodeID, deviceID)
	p.dir.SetStreams(deviceID, streams)

	plat := &Platform{
		NodeID:            nodeID,
		ParentNodeID:      parentNodeID,
		DeviceID:          deviceID,
		AgentDefinitionID: defID,
		AgentInstanceID:   instID,
		Streams:           streams,
	}

	p.mu.Lock()
	p.platforms[nodeID] = plat
	p.platformOrder = append(p.platformOrder, nodeID)
	p.mu.Unlock()

	p.logger.Debug().Str("platform_id", nodeID).Str("device_id", deviceID).Msg("Provisioned platform")

	return plat, nil
}

// CreateHierarchy provisions every platform of the subtree rooted at rootID,
// parents before children.
func (p *Provisioner) CreateHierarchy(ctx context.Context, rootID string) ([]*Platform, error) {
	ids, err := p.net.Subtree(rootID)
	if err != nil {
		return nil, err
	}

	out := make([]*Platform, 0, len(ids))

	for _, id := range ids {
		parent := ""
		if id != rootID {
			parent = p.net.ParentOf(id)
		}

		plat, err := p.CreatePlatform(ctx, id, parent)
		if err != nil {
			return nil, err
		}

		out = append(out, plat)
	}

	return out, nil
}

// CreateInstrument provisions the catalog instrument key.
func (p *Provisioner) CreateInstrument(ctx context.Context, key string) (*InstrumentDeployment, error) {
	instr, err := p.catalog.Lookup(key)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	_, exists := p.instruments[key]
	p.mu.Unlock()

	if exists {
		return nil, fmt.Errorf("%w: instrument %s", ErrAlreadyProvisioned, key)
	}

	modelID, err := p.modelID(ctx, models.DeviceKindInstrument)
	if err != nil {
		return nil, err
	}

	deviceID, err := p.reg.CreateDevice(ctx, &models.DeviceRecord{
		Resource:     models.Resource{Name: "SBE37IMDevice_" + key, AltIDs: []string{instr.AltID()}},
		Kind:         models.DeviceKindInstrument,
		ModelID:      modelID,
		SerialNumber: InstrumentSerialNumber,
	})
	if err != nil {
		return nil, err
	}

	defID, err := p.reg.CreateAgentDefinition(ctx, models.DeviceKindInstrument, &models.AgentDefinition{
		Resource:             models.Resource{Name: "SBE37IMAgent_" + key},
		DriverModule:         InstrumentDriverModule,
		DriverClass:          InstrumentDriverClass,
		StreamConfigurations: InstrumentStreams(),
	})
	if err != nil {
		return nil, err
	}

	instID, err := p.reg.CreateAgentInstance(ctx, &models.AgentInstance{
		Resource:        models.Resource{Name: "SBE37IMAgentInstance_" + key},
		DeviceID:        deviceID,
		DefinitionID:    defID,
		DriverConfig:    instr.DriverConfig(),
		PortAgentConfig: instr.PortAgentConfig(),
		Alerts:          p.alerts,
	})
	if err != nil {
		return nil, err
	}

	streams, err := p.createDataProducts(ctx, deviceID, InstrumentStreams())
	if err != nil {
		return nil, err
	}

	p.dir.SetStreams(deviceID, streams)

	d := &InstrumentDeployment{
		Key:               key,
		DeviceID:          deviceID,
		AgentDefinitionID: defID,
		AgentInstanceID:   instID,
		Streams:           streams,
	}

	p.mu.Lock()
	p.instruments[key] = d
	p.instrOrder = append(p.instrOrder, key)
	p.mu.Unlock()

	p.logger.Debug().Str("instrument", key).Str("device_id", deviceID).Msg("Provisioned instrument")

	return d, nil
}

// AssignInstrument attaches the provisioned instrument key to the platform nodeID.
func (p *Provisioner) AssignInstrument(ctx context.Context, key, nodeID string) error {
	p.mu.Lock()
	instr := p.instruments[key]
	plat := p.platforms[nodeID]
	p.mu.Unlock()

	if instr == nil {
		return fmt.Errorf("%w: instrument %s", ErrNotProvisioned, key)
	}

	if plat == nil {
		return fmt.Errorf("%w: platform %s", ErrNotProvisioned, nodeID)
	}

	if err := p.reg.AssignInstrumentToPlatform(ctx, instr.DeviceID, plat.DeviceID); err != nil {
		return err
	}

	entry, err := p.catalog.Lookup(key)
	if err != nil {
		return err
	}

	p.dir.AddInstrument(plat.DeviceID, agentconfig.InstrumentBinding{
		DeviceID:        instr.DeviceID,
		DriverConfig:    entry.DriverConfig(),
		PortAgentConfig: entry.PortAgentConfig(),
		Alerts:          append([]models.AlertDefinition(nil), p.alerts...),
	})

	p.mu.Lock()
	instr.PlatformNodeID = nodeID
	p.mu.Unlock()

	return nil
}

// Platform returns the provisioned platform nodeID.
func (p *Provisioner) Platform(nodeID string) (*Platform, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	plat, ok := p.platforms[nodeID]

	return plat, ok
}

// Instrument returns the provisioned instrument key.
func (p *Provisioner) Instrument(key string) (*InstrumentDeployment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.instruments[key]

	return d, ok
}

// Register hands the provisioned subtree rooted at rootID to r: platforms in
// topology order, each followed by the instruments attached to it.
func (p *Provisioner) Register(r NodeRegistrar, rootID string) error {
	ids, err := p.net.Subtree(rootID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	byPlatform := make(map[string][]*InstrumentDeployment)

	for _, key := range p.instrOrder {
		d := p.instruments[key]
		if d.PlatformNodeID != "" {
			byPlatform[d.PlatformNodeID] = append(byPlatform[d.PlatformNodeID], d)
		}
	}

	for _, id := range ids {
		plat, ok := p.platforms[id]
		if !ok {
			return fmt.Errorf("%w: platform %s", ErrNotProvisioned, id)
		}

		parent := plat.ParentNodeID
		if id == rootID {
			parent = ""
		}

		if err := r.Register(coordinator.NodeSpec{
			NodeID:     id,
			DeviceID:   plat.DeviceID,
			InstanceID: plat.AgentInstanceID,
			Kind:       models.DeviceKindPlatform,
			ParentID:   parent,
		}); err != nil {
			return err
		}

		for _, d := range byPlatform[id] {
			if err := r.Register(coordinator.NodeSpec{
				NodeID:     d.Key,
				DeviceID:   d.DeviceID,
				InstanceID: d.AgentInstanceID,
				Kind:       models.DeviceKindInstrument,
				ParentID:   id,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}
