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

package observatory

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/observatory/pkg/coordinator"
	"github.com/carverauto/observatory/pkg/deployment"
	"github.com/carverauto/observatory/pkg/kv"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
	"github.com/carverauto/observatory/pkg/topology"
)

const (
	// DefaultDataTimeout bounds the wait for the first data sample once monitoring.
	DefaultDataTimeout = 90 * time.Second
	// DefaultRPCTimeout bounds each agent request.
	DefaultRPCTimeout = 30 * time.Second
	// DefaultSampleInterval paces simulated data samples.
	DefaultSampleInterval = time.Second
)

var (
	errNATSRequired    = errors.New("nats configuration is required")
	errInvalidDuration = errors.New("durations must not be negative")
)

// ServiceConfig configures one run of the coordinator against a platform subtree.
type ServiceConfig struct {
	NATS     *models.NATSConfig   `json:"nats"`
	Events   *models.EventsConfig `json:"events,omitempty"`
	Registry *kv.Config           `json:"registry,omitempty"`
	// StoreDir holds JetStream data of the embedded server; empty uses a temporary directory.
	StoreDir string `json:"store_dir,omitempty"`

	NetworkFile  string `json:"network_file,omitempty"`
	RootPlatform string `json:"root_platform"`
	OrgName      string `json:"org_name,omitempty"`
	// Instruments maps platform ids to catalog keys. Unset uses the default
	// instrument layout of the root platform.
	Instruments        map[string][]string           `json:"instruments,omitempty"`
	InstrumentDefaults deployment.InstrumentDefaults `json:"instrument_defaults"`

	ReceiveTimeout models.Duration `json:"receive_timeout,omitempty"`
	StartupTimeout models.Duration `json:"startup_timeout,omitempty"`
	DataTimeout    models.Duration `json:"data_timeout,omitempty"`
	RPCTimeout     models.Duration `json:"rpc_timeout,omitempty"`
	SampleInterval models.Duration `json:"sample_interval,omitempty"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// Validate fills defaults and checks the configuration.
func (c *ServiceConfig) Validate() error {
	if c.NATS == nil {
		return errNATSRequired
	}

	if err := c.NATS.Validate(); err != nil {
		return err
	}

	if c.Events == nil {
		c.Events = &models.EventsConfig{}
	}

	if err := c.Events.Validate(); err != nil {
		return err
	}

	if c.Registry == nil {
		c.Registry = &kv.Config{}
	}

	if c.Registry.Domain == "" {
		c.Registry.Domain = c.NATS.Domain
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	if c.RootPlatform == "" {
		c.RootPlatform = topology.SmallHierarchyRoot
	}

	for _, d := range []models.Duration{c.DataTimeout, c.RPCTimeout, c.SampleInterval} {
		if d < 0 {
			return errInvalidDuration
		}
	}

	return c.coordinatorConfig().Validate()
}

func (c *ServiceConfig) coordinatorConfig() *coordinator.Config {
	return &coordinator.Config{
		ReceiveTimeout: c.ReceiveTimeout,
		StartupTimeout: c.StartupTimeout,
	}
}

// Plan returns the deployment plan for the configured root platform.
func (c *ServiceConfig) Plan(catalog deployment.Catalog) deployment.Plan {
	if c.Instruments != nil {
		return deployment.Plan{Root: c.RootPlatform, Instruments: c.Instruments}
	}

	switch c.RootPlatform {
	case topology.FullHierarchyRoot:
		return deployment.FullHierarchyPlan(catalog)
	case topology.SmallHierarchyRoot:
		return deployment.SmallHierarchyPlan(catalog.Keys()[0])
	case topology.SinglePlatform:
		return deployment.SinglePlatformPlan(catalog.Keys()[0])
	default:
		return deployment.Plan{Root: c.RootPlatform}
	}
}
