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

// Package deployment provisions platforms and instruments in the registry and
// resolves them for configuration assembly and the coordinator.
package deployment

import (
	"fmt"
	"sort"

	"github.com/carverauto/observatory/pkg/models"
)

const (
	// PlatformDriverModule and PlatformDriverClass name the RSN platform driver.
	PlatformDriverModule = "ion.agents.platform.rsn.rsn_platform_driver"
	PlatformDriverClass  = "RSNPlatformDriver"

	// InstrumentDriverModule and InstrumentDriverClass name the SBE37 CTD driver.
	InstrumentDriverModule = "mi.instrument.seabird.sbe37smb.ooicore.driver"
	InstrumentDriverClass  = "SBE37Driver"

	InstrumentSerialNumber = "12345"

	defaultDeviceAddr   = "sbe37-simulator.oceanobservatories.org"
	defaultDevicePort   = 4001
	defaultBinaryPath   = "port_agent"
	defaultWorkDir      = "/tmp/"
	firstDataPort       = 5001
	firstCommandPort    = 6001
	simulatedInstrCount = 8

	streamParsed = "parsed"
	streamRaw    = "raw"
)

// InstrumentDefaults are the connection settings shared by simulated instruments.
type InstrumentDefaults struct {
	DeviceAddr string `json:"device_addr"`
	DevicePort int    `json:"device_port"`
	BinaryPath string `json:"binary_path"`
}

func (d InstrumentDefaults) withDefaults() InstrumentDefaults {
	if d.DeviceAddr == "" {
		d.DeviceAddr = defaultDeviceAddr
	}

	if d.DevicePort == 0 {
		d.DevicePort = defaultDevicePort
	}

	if d.BinaryPath == "" {
		d.BinaryPath = defaultBinaryPath
	}

	return d
}

// Instrument is one catalog entry: a simulated SBE37 CTD behind a port agent.
type Instrument struct {
	Key         string
	DeviceAddr  string
	DevicePort  int
	DataPort    int
	CommandPort int
	BinaryPath  string
}

// AltID is the pre-registered alternate id of the instrument device.
func (i Instrument) AltID() string {
	return "PRE:" + i.Key
}

func (i Instrument) PortAgentConfig() *models.PortAgentConfig {
	return &models.PortAgentConfig{
		DeviceAddr:    i.DeviceAddr,
		DevicePort:    i.DevicePort,
		DataPort:      i.DataPort,
		CommandPort:   i.CommandPort,
		BinaryPath:    i.BinaryPath,
		ProcessType:   "UNIX",
		PortAgentAddr: "localhost",
		LogLevel:      5,
		Type:          "ETHERNET",
	}
}

// DriverConfig is the instrument driver configuration, pointing the driver at
// its port agent.
func (i Instrument) DriverConfig() map[string]interface{} {
	return map[string]interface{}{
		"dvr_mod":      InstrumentDriverModule,
		"dvr_cls":      InstrumentDriverClass,
		"workdir":      defaultWorkDir,
		"process_type": []interface{}{"EGG"},
		"comms_config": map[string]interface{}{
			"addr":     "localhost",
			"port":     i.DataPort,
			"cmd_port": i.CommandPort,
		},
	}
}

// Catalog holds the instruments available for deployment, by key.
type Catalog map[string]Instrument

// DefaultCatalog returns SBE37_SIM_01 through SBE37_SIM_08, each with its own
// data and command port.
func DefaultCatalog(defaults InstrumentDefaults) Catalog {
	defaults = defaults.withDefaults()
	c := make(Catalog, simulatedInstrCount)

	for n := 1; n <= simulatedInstrCount; n++ {
		key := fmt.Sprintf("SBE37_SIM_%02d", n)
		c[key] = Instrument{
			Key:         key,
			DeviceAddr:  defaults.DeviceAddr,
			DevicePort:  defaults.DevicePort,
			DataPort:    firstDataPort + n - 1,
			CommandPort: firstCommandPort + n - 1,
			BinaryPath:  defaults.BinaryPath,
		}
	}

	return c
}

// Keys lists the catalog keys in order.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Lookup returns the instrument for key.
func (c Catalog) Lookup(key string) (Instrument, error) {
	instr, ok := c[key]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, key)
	}

	return instr, nil
}

// DefaultAlerts are the alert definitions configured on every instrument.
func DefaultAlerts() []models.AlertDefinition {
	lower := 50.0

	return []models.AlertDefinition{
		{
			Name:        "temperature_warning_interval",
			StreamName:  streamParsed,
			Description: "Temperature is below the normal range of 50.0 and above.",
			AlertType:   "WARNING",
			ValueID:     "temp",
			LowerBound:  &lower,
			LowerRelOp:  "<",
			AlertClass:  "IntervalAlert",
		},
		{
			Name:        "late_data_warning",
			StreamName:  streamParsed,
			Description: "Expected data has not arrived.",
			AlertType:   "WARNING",
			TimeDelta:   2,
			AlertClass:  "LateDataAlert",
		},
	}
}

// PlatformStreams are the output streams of a platform agent.
func PlatformStreams() []models.StreamConfig {
	return []models.StreamConfig{
		{StreamName: streamParsed, ParameterDictionary: "platform_eng_parsed"},
	}
}

// InstrumentStreams are the output streams of an instrument agent.
func InstrumentStreams() []models.StreamConfig {
	return []models.StreamConfig{
		{StreamName: streamRaw, ParameterDictionary: "ctd_raw_param_dict"},
		{StreamName: streamParsed, ParameterDictionary: "ctd_parsed_param_dict"},
	}
}
