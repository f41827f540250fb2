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
	"encoding/json"
	"fmt"

	"github.com/carverauto/observatory/pkg/models"
)

// Verifier checks assembled configurations against the launch contract.
type Verifier struct {
	driverKeys []string
}

// NewVerifier returns a verifier requiring the given driver template keys in platform driver configs.
func NewVerifier(driverKeys ...string) *Verifier {
	return &Verifier{driverKeys: driverKeys}
}

// Verify checks one configuration (not its children) for deviceID.
func (v *Verifier) Verify(cfg *models.AgentInstanceConfig, deviceID string, isPlatform bool) error {
	raw, err := encode(cfg)
	if err != nil {
		return err
	}

	for _, key := range models.RequiredConfigKeys {
		if _, ok := raw[key]; !ok {
			return fmt.Errorf("%w: device %q: missing key %q", ErrConfig, deviceID, key)
		}
	}

	if cfg.Agent.ResourceID != deviceID {
		return fmt.Errorf("%w: agent.resource_id is %q, want %q", ErrConfig, cfg.Agent.ResourceID, deviceID)
	}

	if isPlatform {
		return v.verifyPlatform(cfg, raw, deviceID)
	}

	if cfg.DeviceType != models.DeviceKindInstrument {
		return fmt.Errorf("%w: device %q: device_type is %q, want %q",
			ErrConfig, deviceID, cfg.DeviceType, models.DeviceKindInstrument)
	}

	if !isEmptyObject(raw["children"]) {
		return fmt.Errorf("%w: instrument %q must have no children", ErrConfig, deviceID)
	}

	return nil
}

func (v *Verifier) verifyPlatform(cfg *models.AgentInstanceConfig, raw map[string]interface{}, deviceID string) error {
	if cfg.DeviceType != models.DeviceKindPlatform {
		return fmt.Errorf("%w: device %q: device_type is %q, want %q",
			ErrConfig, deviceID, cfg.DeviceType, models.DeviceKindPlatform)
	}

	for _, key := range v.driverKeys {
		if _, ok := cfg.DriverConfig[key]; !ok {
			return fmt.Errorf("%w: platform %q: driver_config lacks %q", ErrConfig, deviceID, key)
		}
	}

	if !isEmptyObject(raw["startup_config"]) {
		return fmt.Errorf("%w: platform %q: startup_config must be empty", ErrConfig, deviceID)
	}

	return nil
}

// VerifyParent checks a platform configuration and the nested configuration of one child.
func (v *Verifier) VerifyParent(cfg *models.AgentInstanceConfig, parentDeviceID, childDeviceID string, childIsPlatform bool) error {
	if err := v.Verify(cfg, parentDeviceID, true); err != nil {
		return err
	}

	child, ok := cfg.Children[childDeviceID]
	if !ok {
		return fmt.Errorf("%w: platform %q has no child %q", ErrConfig, parentDeviceID, childDeviceID)
	}

	return v.Verify(child, childDeviceID, childIsPlatform)
}

// VerifyTree verifies cfg and every nested child configuration.
func (v *Verifier) VerifyTree(cfg *models.AgentInstanceConfig) error {
	if err := v.Verify(cfg, cfg.Agent.ResourceID, cfg.DeviceType == models.DeviceKindPlatform); err != nil {
		return err
	}

	for childID, child := range cfg.Children {
		if child == nil || child.Agent.ResourceID != childID {
			return fmt.Errorf("%w: child entry %q does not match its configuration", ErrConfig, childID)
		}

		if err := v.VerifyTree(child); err != nil {
			return err
		}
	}

	return nil
}

func encode(cfg *models.AgentInstanceConfig) (map[string]interface{}, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", ErrConfig)
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	raw := make(map[string]interface{})
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return raw, nil
}

func isEmptyObject(v interface{}) bool {
	m, ok := v.(map[string]interface{})

	return ok && len(m) == 0
}
