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

package agentconfig

import (
	"sync"

	"github.com/carverauto/observatory/pkg/models"
)

// InstrumentBinding is everything needed to configure one instrument agent.
type InstrumentBinding struct {
	DeviceID        string
	DriverConfig    map[string]interface{}
	PortAgentConfig *models.PortAgentConfig
	Alerts          []models.AlertDefinition
}

// Directory is an in-memory Resolver filled by provisioning.
type Directory struct {
	mu          sync.RWMutex
	platforms   map[string]string
	instruments map[string][]InstrumentBinding
	streams     map[string][]models.StreamConfig
}

var _ Resolver = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		platforms:   make(map[string]string),
		instruments: make(map[string][]InstrumentBinding),
		streams:     make(map[string][]models.StreamConfig),
	}
}

// SetPlatformDevice records the device that realizes a platform node.
func (d *Directory) SetPlatformDevice(nodeID, deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.platforms[nodeID] = deviceID
}

// AddInstrument attaches an instrument to a platform device. Re-adding the
// same instrument device replaces its binding.
func (d *Directory) AddInstrument(platformDeviceID string, binding InstrumentBinding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.instruments[platformDeviceID]
	for i := range list {
		if list[i].DeviceID == binding.DeviceID {
			list[i] = binding

			return
		}
	}

	d.instruments[platformDeviceID] = append(list, binding)
}

// SetStreams records the output streams of a device.
func (d *Directory) SetStreams(deviceID string, streams []models.StreamConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.streams[deviceID] = append([]models.StreamConfig(nil), streams...)
}

func (d *Directory) PlatformDevice(nodeID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.platforms[nodeID]

	return id, ok
}

func (d *Directory) Instruments(platformDeviceID string) []InstrumentBinding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]InstrumentBinding(nil), d.instruments[platformDeviceID]...)
}

func (d *Directory) Streams(deviceID string) ([]models.StreamConfig, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.streams[deviceID]

	return append([]models.StreamConfig(nil), s...), ok
}
