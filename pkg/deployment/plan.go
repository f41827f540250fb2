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

	"github.com/carverauto/observatory/pkg/topology"
)

// Plan describes a deployment: the platform subtree to provision and the
// instruments to attach, keyed by platform node id.
type Plan struct {
	Root        string              `json:"root_platform"`
	Instruments map[string][]string `json:"instruments"`
}

// SinglePlatformPlan attaches keys to the leaf platform LJ01D.
func SinglePlatformPlan(keys ...string) Plan {
	return Plan{
		Root:        topology.SinglePlatform,
		Instruments: map[string][]string{topology.SinglePlatform: keys},
	}
}

// SmallHierarchyPlan provisions Node1D -> MJ01C -> LJ01D with keys attached to LJ01D.
func SmallHierarchyPlan(keys ...string) Plan {
	return Plan{
		Root:        topology.SmallHierarchyRoot,
		Instruments: map[string][]string{topology.SinglePlatform: keys},
	}
}

// FullHierarchyPlan provisions the Node1B subtree with one catalog instrument
// on each instrument host platform.
func FullHierarchyPlan(catalog Catalog) Plan {
	keys := catalog.Keys()
	plan := Plan{Root: topology.FullHierarchyRoot, Instruments: make(map[string][]string)}

	for i, host := range topology.InstrumentHostPlatforms {
		if i >= len(keys) {
			break
		}

		plan.Instruments[host] = []string{keys[i]}
	}

	return plan
}

// Deploy provisions the plan: the platform subtree, then each instrument,
// created once and assigned to its platform.
func (p *Provisioner) Deploy(ctx context.Context, plan Plan) ([]*Platform, error) {
	ids, err := p.net.Subtree(plan.Root)
	if err != nil {
		return nil, err
	}

	inTree := make(map[string]bool, len(ids))
	for _, id := range ids {
		inTree[id] = true
	}

	for nodeID := range plan.Instruments {
		if !inTree[nodeID] {
			return nil, fmt.Errorf("%w: instrument host %s is outside %s", topology.ErrTopology, nodeID, plan.Root)
		}
	}

	platforms, err := p.CreateHierarchy(ctx, plan.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to provision platforms under %s: %w", plan.Root, err)
	}

	for _, plat := range platforms {
		for _, key := range plan.Instruments[plat.NodeID] {
			if _, ok := p.Instrument(key); !ok {
				if _, err := p.CreateInstrument(ctx, key); err != nil {
					return nil, fmt.Errorf("failed to provision instrument %s: %w", key, err)
				}
			}

			if err := p.AssignInstrument(ctx, key, plat.NodeID); err != nil {
				return nil, fmt.Errorf("failed to assign %s to %s: %w", key, plat.NodeID, err)
			}
		}
	}

	p.logger.Info().Str("root_platform", plan.Root).Int("platforms", len(platforms)).Msg("Deployment provisioned")

	return platforms, nil
}
