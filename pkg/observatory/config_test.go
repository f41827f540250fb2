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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/observatory/pkg/deployment"
	"github.com/carverauto/observatory/pkg/kv"
	"github.com/carverauto/observatory/pkg/models"
	"github.com/carverauto/observatory/pkg/topology"
)

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
	}{
		{name: "missing nats", cfg: ServiceConfig{}, wantErr: true},
		{name: "nats without url", cfg: ServiceConfig{NATS: &models.NATSConfig{}}, wantErr: true},
		{name: "embedded", cfg: ServiceConfig{NATS: &models.NATSConfig{Embedded: true}}},
		{name: "remote", cfg: ServiceConfig{NATS: &models.NATSConfig{URL: "nats://127.0.0.1:4222", Domain: "edge"}}},
		{
			name:    "negative data timeout",
			cfg:     ServiceConfig{NATS: &models.NATSConfig{Embedded: true}, DataTimeout: models.Duration(-time.Second)},
			wantErr: true,
		},
		{
			name:    "negative receive timeout",
			cfg:     ServiceConfig{NATS: &models.NATSConfig{Embedded: true}, ReceiveTimeout: models.Duration(-time.Second)},
			wantErr: true,
		},
		{
			name:    "registry history too deep",
			cfg:     ServiceConfig{NATS: &models.NATSConfig{Embedded: true}, Registry: &kv.Config{BucketHistory: 1000}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, topology.SmallHierarchyRoot, tt.cfg.RootPlatform)
			assert.Equal(t, kv.DefaultBucket, tt.cfg.Registry.Bucket)
			assert.Equal(t, tt.cfg.NATS.Domain, tt.cfg.Registry.Domain)
			assert.NotNil(t, tt.cfg.Events)
		})
	}
}

func TestServiceConfigPlan(t *testing.T) {
	catalog := deployment.DefaultCatalog(deployment.InstrumentDefaults{})
	first := catalog.Keys()[0]

	tests := []struct {
		root string
		want map[string][]string
	}{
		{root: topology.SinglePlatform, want: map[string][]string{"LJ01D": {first}}},
		{root: topology.SmallHierarchyRoot, want: map[string][]string{"LJ01D": {first}}},
		{root: "MJ01C"},
	}

	for _, tt := range tests {
		t.Run(tt.root, func(t *testing.T) {
			cfg := ServiceConfig{RootPlatform: tt.root}
			plan := cfg.Plan(catalog)

			assert.Equal(t, tt.root, plan.Root)
			assert.Equal(t, len(tt.want), len(plan.Instruments))

			for host, keys := range tt.want {
				assert.Equal(t, keys, plan.Instruments[host])
			}
		})
	}

	fullCfg := ServiceConfig{RootPlatform: topology.FullHierarchyRoot}
	full := fullCfg.Plan(catalog)
	assert.Equal(t, topology.FullHierarchyRoot, full.Root)
	assert.Len(t, full.Instruments, len(topology.InstrumentHostPlatforms))

	explicit := ServiceConfig{RootPlatform: "MJ01C", Instruments: map[string][]string{"LJ01D": {first}}}
	assert.Equal(t, map[string][]string{"LJ01D": {first}}, explicit.Plan(catalog).Instruments)
}
