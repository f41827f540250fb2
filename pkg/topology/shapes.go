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

package topology

import (
	"bytes"
	_ "embed"
)

// Well-known subtrees of the default network.
const (
	// SinglePlatform is a leaf platform.
	SinglePlatform = "LJ01D"
	// SmallHierarchyRoot roots the three-level chain Node1D -> MJ01C -> LJ01D.
	SmallHierarchyRoot = "Node1D"
	// FullHierarchyRoot roots the thirteen-platform Node1B subtree.
	FullHierarchyRoot = "Node1B"
)

// InstrumentHostPlatforms are the platforms of the Node1B subtree that get an
// instrument attached: four leaves and four intermediate platforms.
//
//nolint:gochecknoglobals // fixture
var InstrumentHostPlatforms = []string{
	"LJ01D", "SF01B", "LJ01B", "MJ01B",
	"MJ01C", "Node1D", "LV01B", "Node1C",
}

//go:embed network.yml
var defaultNetwork []byte

// DefaultNetwork returns the network served by the platform simulator.
func DefaultNetwork() (*Network, error) {
	return Load(bytes.NewReader(defaultNetwork))
}
