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

// Package topology loads the platform network definition and answers
// structural queries over it.
package topology

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/carverauto/observatory/pkg/models"
)

// ErrTopology is returned for malformed or inconsistent network definitions.
var ErrTopology = errors.New("invalid topology")

// Definition is one platform entry of a network definition file.
type Definition struct {
	PlatformID       string                       `yaml:"platform_id" json:"platform_id"`
	ParentPlatformID string                       `yaml:"parent_platform_id,omitempty" json:"parent_platform_id,omitempty"`
	Subplatforms     []string                     `yaml:"subplatforms,omitempty" json:"subplatforms,omitempty"`
	Attrs            []models.AttributeDefinition `yaml:"attrs,omitempty" json:"attrs,omitempty"`
	Ports            []models.Port                `yaml:"ports,omitempty" json:"ports,omitempty"`
}

type document struct {
	Network []Definition `yaml:"network"`
}

// Node is a platform in the network. Nodes returned by Network are shared and
// must be treated as read-only.
type Node struct {
	ID         string
	ParentID   string
	Children   []string
	Attributes []models.AttributeDefinition
	Ports      []models.Port
}

// IsLeaf reports whether the node has no sub-platforms.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Network is an immutable forest of platforms.
type Network struct {
	nodes map[string]*Node
	order []string
	roots []string
}

// LoadFile reads a network definition from path.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTopology, err)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

// Load parses a YAML (or JSON) network definition.
func Load(r io.Reader) (*Network, error) {
	var doc document

	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty definition", ErrTopology)
		}

		return nil, fmt.Errorf("%w: %w", ErrTopology, err)
	}

	return Build(doc.Network)
}

// Build validates the definitions and assembles the network.
func Build(defs []Definition) (*Network, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no platforms defined", ErrTopology)
	}

	n := &Network{nodes: make(map[string]*Node, len(defs))}

	for i := range defs {
		def := &defs[i]

		if def.PlatformID == "" {
			return nil, fmt.Errorf("%w: entry %d has no platform_id", ErrTopology, i)
		}

		if _, dup := n.nodes[def.PlatformID]; dup {
			return nil, fmt.Errorf("%w: duplicate platform %q", ErrTopology, def.PlatformID)
		}

		n.nodes[def.PlatformID] = &Node{
			ID:         def.PlatformID,
			Attributes: append([]models.AttributeDefinition(nil), def.Attrs...),
			Ports:      append([]models.Port(nil), def.Ports...),
		}
		n.order = append(n.order, def.PlatformID)
	}

	for i := range defs {
		if err := n.link(&defs[i]); err != nil {
			return nil, err
		}
	}

	for i := range defs {
		if err := n.linkDeclaredParent(&defs[i]); err != nil {
			return nil, err
		}
	}

	for _, id := range n.order {
		if n.nodes[id].ParentID == "" {
			n.roots = append(n.roots, id)
		}
	}

	if err := n.checkAcyclic(); err != nil {
		return nil, err
	}

	return n, nil
}

func (n *Network) link(def *Definition) error {
	parent := n.nodes[def.PlatformID]

	for _, childID := range def.Subplatforms {
		child, ok := n.nodes[childID]
		if !ok {
			return fmt.Errorf("%w: platform %q lists unknown sub-platform %q", ErrTopology, def.PlatformID, childID)
		}

		if childID == def.PlatformID {
			return fmt.Errorf("%w: platform %q lists itself as a sub-platform", ErrTopology, childID)
		}

		if child.ParentID != "" {
			return fmt.Errorf("%w: platform %q has two parents (%q and %q)",
				ErrTopology, childID, child.ParentID, def.PlatformID)
		}

		child.ParentID = def.PlatformID
		parent.Children = append(parent.Children, childID)
	}

	return nil
}

// linkDeclaredParent reconciles parent_platform_id with the sub-platform lists.
// A declared parent that does not list the node adopts it as its last child.
func (n *Network) linkDeclaredParent(def *Definition) error {
	if def.ParentPlatformID == "" {
		return nil
	}

	node := n.nodes[def.PlatformID]

	parent, ok := n.nodes[def.ParentPlatformID]
	if !ok {
		return fmt.Errorf("%w: platform %q declares unknown parent %q", ErrTopology, def.PlatformID, def.ParentPlatformID)
	}

	switch node.ParentID {
	case def.ParentPlatformID:
		return nil
	case "":
		if def.ParentPlatformID == def.PlatformID {
			return fmt.Errorf("%w: platform %q declares itself as parent", ErrTopology, def.PlatformID)
		}

		node.ParentID = parent.ID
		parent.Children = append(parent.Children, node.ID)

		return nil
	default:
		return fmt.Errorf("%w: platform %q declares parent %q but is listed under %q",
			ErrTopology, def.PlatformID, def.ParentPlatformID, node.ParentID)
	}
}

// checkAcyclic relies on every node having at most one parent: any node not
// reachable from a root sits on a cycle.
func (n *Network) checkAcyclic() error {
	seen := make(map[string]struct{}, len(n.nodes))

	for _, root := range n.roots {
		n.walk(root, func(id string) { seen[id] = struct{}{} })
	}

	for _, id := range n.order {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("%w: platform %q is part of a cycle", ErrTopology, id)
		}
	}

	return nil
}

func (n *Network) walk(id string, visit func(id string)) {
	visit(id)

	for _, child := range n.nodes[id].Children {
		n.walk(child, visit)
	}
}

// Subtree returns rootID and all its descendants in depth-first preorder:
// every node appears once and always after its parent.
func (n *Network) Subtree(rootID string) ([]string, error) {
	if _, ok := n.nodes[rootID]; !ok {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrTopology, rootID)
	}

	var ids []string

	n.walk(rootID, func(id string) { ids = append(ids, id) })

	return ids, nil
}

// Node returns the platform with the given id.
func (n *Network) Node(id string) (*Node, bool) {
	node, ok := n.nodes[id]

	return node, ok
}

// Roots returns the platforms without a parent, in definition order.
func (n *Network) Roots() []string {
	return append([]string(nil), n.roots...)
}

// Len is the number of platforms in the network.
func (n *Network) Len() int {
	return len(n.nodes)
}

// ChildrenOf returns the ordered sub-platform ids of id.
func (n *Network) ChildrenOf(id string) []string {
	if node, ok := n.nodes[id]; ok {
		return append([]string(nil), node.Children...)
	}

	return nil
}

// ParentOf returns the parent id of id, or "" for roots and unknown ids.
func (n *Network) ParentOf(id string) string {
	if node, ok := n.nodes[id]; ok {
		return node.ParentID
	}

	return ""
}

// AttributesFor returns a copy of the attribute definitions of a platform.
func (n *Network) AttributesFor(id string) []models.AttributeDefinition {
	if node, ok := n.nodes[id]; ok {
		return slices.Clone(node.Attributes)
	}

	return nil
}

// PortsFor returns a copy of the port definitions of a platform.
func (n *Network) PortsFor(id string) []models.Port {
	node, ok := n.nodes[id]
	if !ok {
		return nil
	}

	out := slices.Clone(node.Ports)
	for i := range out {
		out[i].InstrumentIDs = slices.Clone(out[i].InstrumentIDs)
	}

	return out
}

// Height is the number of levels in the subtree rooted at id (1 for a leaf).
func (n *Network) Height(id string) int {
	node, ok := n.nodes[id]
	if !ok {
		return 0
	}

	h := 0

	for _, child := range node.Children {
		if ch := n.Height(child); ch > h {
			h = ch
		}
	}

	return h + 1
}
