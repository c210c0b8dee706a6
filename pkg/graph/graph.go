// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Quorum Labs
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graph is a typed in-memory knowledge graph over services,
// environment variables, and incidents. Mutations are serialized per
// graph; reads observe a consistent snapshot. The ingestor extracts
// entities and relations from free text with deterministic rules, and
// the planner answers operational queries with evidence.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quorumhq/quorum/pkg/fault"
)

// NodeType tags a node.
type NodeType string

const (
	NodeService  NodeType = "service"
	NodeEnvVar   NodeType = "envvar"
	NodeIncident NodeType = "incident"
)

// EdgeType tags a relation.
type EdgeType string

const (
	EdgeServiceRequiresEnvVar  EdgeType = "SERVICE_REQUIRES_ENVVAR"
	EdgeIncidentImpactsService EdgeType = "INCIDENT_IMPACTS_SERVICE"
)

// SourceInfo records where a node or edge came from.
type SourceInfo struct {
	Source    string    `json:"source" yaml:"source"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Node is one graph entity. ID is canonical: svc:{name}, env:{KEY},
// inc:{ID}.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Type       NodeType       `json:"type" yaml:"type"`
	Name       string         `json:"name" yaml:"name"`
	Props      map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
	SourceInfo SourceInfo     `json:"source_info" yaml:"source_info"`
}

// Edge is a typed directed relation. An edge is unique per
// (type, from, to); re-upserting merges props.
type Edge struct {
	Type       EdgeType       `json:"type" yaml:"type"`
	From       string         `json:"from" yaml:"from"`
	To         string         `json:"to" yaml:"to"`
	Props      map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
	SourceInfo SourceInfo     `json:"source_info" yaml:"source_info"`
}

// ID is the canonical edge identifier.
func (e Edge) ID() string {
	return fmt.Sprintf("%s:%s->%s", e.Type, e.From, e.To)
}

// ServiceID, EnvVarID, IncidentID build canonical node ids.
func ServiceID(name string) string { return "svc:" + name }

func EnvVarID(key string) string { return "env:" + key }

func IncidentID(id string) string { return "inc:" + id }

// Graph holds nodes and edges with per-node adjacency indexes.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges []*Edge
	out   map[string][]*Edge
	in    map[string][]*Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		out:   make(map[string][]*Edge),
		in:    make(map[string][]*Edge),
	}
}

// UpsertNode inserts or updates a node by id, merging props. Returns
// true when the node was created.
func (g *Graph) UpsertNode(n Node) (bool, error) {
	if n.ID == "" || n.Type == "" {
		return false, fault.Validation("node needs an id and a type")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[n.ID]; ok {
		if existing.Type != n.Type {
			return false, fault.Conflict("node %s already exists with type %s", n.ID, existing.Type)
		}
		for k, v := range n.Props {
			if existing.Props == nil {
				existing.Props = make(map[string]any)
			}
			existing.Props[k] = v
		}
		existing.SourceInfo = n.SourceInfo
		return false, nil
	}

	cp := n
	cp.Props = cloneProps(n.Props)
	g.nodes[n.ID] = &cp
	return true, nil
}

// UpsertEdge inserts or updates an edge. Both endpoints must already
// exist. Returns true when the edge was created.
func (g *Graph) UpsertEdge(e Edge) (bool, error) {
	if e.Type == "" || e.From == "" || e.To == "" {
		return false, fault.Validation("edge needs a type and both endpoints")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[e.From]; !ok {
		return false, fault.Validation("edge endpoint %s does not exist", e.From)
	}
	if _, ok := g.nodes[e.To]; !ok {
		return false, fault.Validation("edge endpoint %s does not exist", e.To)
	}

	for _, existing := range g.out[e.From] {
		if existing.Type == e.Type && existing.To == e.To {
			for k, v := range e.Props {
				if existing.Props == nil {
					existing.Props = make(map[string]any)
				}
				existing.Props[k] = v
			}
			existing.SourceInfo = e.SourceInfo
			return false, nil
		}
	}

	cp := e
	cp.Props = cloneProps(e.Props)
	g.edges = append(g.edges, &cp)
	g.out[e.From] = append(g.out[e.From], &cp)
	g.in[e.To] = append(g.in[e.To], &cp)
	return true, nil
}

// SetNodeProp sets one property on an existing node.
func (g *Graph) SetNodeProp(id, key string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fault.NotFound("node %s", id)
	}
	if n.Props == nil {
		n.Props = make(map[string]any)
	}
	n.Props[key] = value
	return nil
}

// Node returns a snapshot copy of the node.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.Props = cloneProps(n.Props)
	return cp, true
}

// Out returns outgoing edges of the given type; empty type matches all.
func (g *Graph) Out(id string, et EdgeType) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return snapshotEdges(g.out[id], et)
}

// In returns incoming edges of the given type; empty type matches all.
func (g *Graph) In(id string, et EdgeType) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return snapshotEdges(g.in[id], et)
}

// NodesByType returns snapshot copies of all nodes of a type, sorted
// by id.
func (g *Graph) NodesByType(t NodeType) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Node
	for _, n := range g.nodes {
		if n.Type == t {
			cp := *n
			cp.Props = cloneProps(n.Props)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns (node count, edge count).
func (g *Graph) Len() (int, int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// Dict is the export shape shared by JSON, YAML, and SQL persistence.
type Dict struct {
	Nodes    []Node         `json:"nodes" yaml:"nodes"`
	Edges    []Edge         `json:"edges" yaml:"edges"`
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
}

// ToDict snapshots the graph into its export shape. Nodes are sorted
// by id and edges by canonical edge id, so exports are canonical.
func (g *Graph) ToDict() Dict {
	g.mu.RLock()
	defer g.mu.RUnlock()

	d := Dict{
		Nodes: make([]Node, 0, len(g.nodes)),
		Edges: make([]Edge, 0, len(g.edges)),
		Metadata: map[string]any{
			"node_count": len(g.nodes),
			"edge_count": len(g.edges),
		},
	}
	for _, n := range g.nodes {
		cp := *n
		cp.Props = cloneProps(n.Props)
		d.Nodes = append(d.Nodes, cp)
	}
	for _, e := range g.edges {
		cp := *e
		cp.Props = cloneProps(e.Props)
		d.Edges = append(d.Edges, cp)
	}
	sort.Slice(d.Nodes, func(i, j int) bool { return d.Nodes[i].ID < d.Nodes[j].ID })
	sort.Slice(d.Edges, func(i, j int) bool { return d.Edges[i].ID() < d.Edges[j].ID() })
	return d
}

// FromDict rebuilds a graph from its export shape.
func FromDict(d Dict) (*Graph, error) {
	g := New()
	for _, n := range d.Nodes {
		if _, err := g.UpsertNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range d.Edges {
		if _, err := g.UpsertEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ExportJSON serializes the canonical export shape.
func (g *Graph) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(g.ToDict(), "", "  ")
}

// ExportYAML serializes the canonical export shape.
func (g *Graph) ExportYAML() ([]byte, error) {
	return yaml.Marshal(g.ToDict())
}

// ImportJSON rebuilds a graph from ExportJSON output.
func ImportJSON(raw []byte) (*Graph, error) {
	var d Dict
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fault.Validation("malformed graph export: %v", err).WithCause(err)
	}
	return FromDict(d)
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return cp
}

func snapshotEdges(edges []*Edge, et EdgeType) []Edge {
	var out []Edge
	for _, e := range edges {
		if et != "" && e.Type != et {
			continue
		}
		cp := *e
		cp.Props = cloneProps(e.Props)
		out = append(out, cp)
	}
	return out
}
