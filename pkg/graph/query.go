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

package graph

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/observability"
)

// QueryType selects the planner's analysis.
type QueryType string

const (
	QueryAuto             QueryType = "auto"
	QueryBlockingAnalysis QueryType = "blocking_analysis"
	QueryMissingEnvVars   QueryType = "missing_envvars"
	QueryImpactAnalysis   QueryType = "impact_analysis"
	QueryRelatedIncidents QueryType = "related_incidents"
)

// Evidence is one supporting item behind an answer.
type Evidence struct {
	Type        string   `json:"type"`
	Ref         string   `json:"ref"`
	Description string   `json:"description"`
	NodeIDs     []string `json:"node_ids,omitempty"`
	EdgeIDs     []string `json:"edge_ids,omitempty"`
}

// QueryResult is the planner's output contract.
type QueryResult struct {
	Query           string     `json:"query"`
	QueryType       QueryType  `json:"query_type"`
	ServiceName     string     `json:"service_name,omitempty"`
	Answer          string     `json:"answer"`
	Evidence        []Evidence `json:"evidence"`
	GraphOperations []string   `json:"graph_operations"`
}

// Planner answers operational queries against a graph.
type Planner struct {
	graph *Graph
}

// NewPlanner creates a planner over g.
func NewPlanner(g *Graph) *Planner {
	return &Planner{graph: g}
}

// Query runs one analysis. With QueryAuto the type is detected from
// the query text.
func (p *Planner) Query(ctx context.Context, query string, qt QueryType) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fault.Validation("query cannot be empty")
	}

	_, span := observability.Tracer("quorum.graph").Start(
		ctx, observability.SpanGraphQuery,
		trace.WithAttributes(attribute.String("graph.query_type", string(qt))),
	)
	defer span.End()

	if qt == "" || qt == QueryAuto {
		qt = detectQueryType(query)
	}

	res := &QueryResult{Query: query, QueryType: qt, Evidence: []Evidence{}}

	switch qt {
	case QueryBlockingAnalysis:
		p.blockingAnalysis(query, res)
	case QueryMissingEnvVars:
		p.missingEnvVars(query, res)
	case QueryImpactAnalysis:
		p.impactAnalysis(query, res)
	case QueryRelatedIncidents:
		p.relatedIncidents(res)
	default:
		return nil, fault.Validation("unknown query type %q", qt)
	}
	return res, nil
}

// detectQueryType maps query keywords onto an analysis.
func detectQueryType(query string) QueryType {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "missing env") || strings.Contains(lower, "envvar"):
		return QueryMissingEnvVars
	case strings.Contains(lower, "impact"):
		return QueryImpactAnalysis
	case strings.Contains(lower, "related incident") || strings.Contains(lower, "incidents"):
		return QueryRelatedIncidents
	default:
		return QueryBlockingAnalysis
	}
}

// focusService extracts the service named in the query, if any.
func focusService(query string) string {
	if names := matchServices(query); len(names) > 0 {
		return names[0]
	}
	return ""
}

// focusIncident extracts the incident named in the query, if any.
func focusIncident(query string) string {
	return incidentRe.FindString(query)
}

// blockingAnalysis lists what blocks a service: required env vars with
// no value, plus unresolved incidents impacting it.
func (p *Planner) blockingAnalysis(query string, res *QueryResult) {
	name := focusService(query)
	res.ServiceName = name
	if name == "" {
		res.Answer = "No service name found in the query."
		return
	}

	id := ServiceID(name)
	res.GraphOperations = append(res.GraphOperations, "lookup_node "+id)
	if _, ok := p.graph.Node(id); !ok {
		res.Answer = fmt.Sprintf("Service %s is not in the graph.", name)
		res.Evidence = append(res.Evidence, Evidence{
			Type:        "not_found",
			Ref:         name,
			Description: fmt.Sprintf("no node for service %s", name),
		})
		return
	}

	missing := p.collectMissingEnvVars(id, res)
	incidents := p.collectOpenIncidents(id, res)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing env vars: %s", strings.Join(missing, ", ")))
	}
	if len(incidents) > 0 {
		parts = append(parts, fmt.Sprintf("open incidents: %s", strings.Join(incidents, ", ")))
	}
	if len(parts) == 0 {
		res.Answer = fmt.Sprintf("Nothing is blocking %s.", name)
		return
	}
	res.Answer = fmt.Sprintf("%s is blocked by %s.", name, strings.Join(parts, " and "))
}

// missingEnvVars lists required env vars whose value prop is absent or
// empty.
func (p *Planner) missingEnvVars(query string, res *QueryResult) {
	name := focusService(query)
	res.ServiceName = name
	if name == "" {
		res.Answer = "No service name found in the query."
		return
	}
	id := ServiceID(name)
	res.GraphOperations = append(res.GraphOperations, "lookup_node "+id)
	if _, ok := p.graph.Node(id); !ok {
		res.Answer = fmt.Sprintf("Service %s is not in the graph.", name)
		res.Evidence = append(res.Evidence, Evidence{
			Type: "not_found", Ref: name,
			Description: fmt.Sprintf("no node for service %s", name),
		})
		return
	}

	missing := p.collectMissingEnvVars(id, res)
	if len(missing) == 0 {
		res.Answer = fmt.Sprintf("All required env vars for %s have values.", name)
		return
	}
	res.Answer = fmt.Sprintf("%s is missing: %s.", name, strings.Join(missing, ", "))
}

// impactAnalysis lists services a given incident impacts.
func (p *Planner) impactAnalysis(query string, res *QueryResult) {
	inc := focusIncident(query)
	if inc == "" {
		res.Answer = "No incident id found in the query."
		return
	}
	id := IncidentID(inc)
	res.GraphOperations = append(res.GraphOperations, "lookup_node "+id)
	if _, ok := p.graph.Node(id); !ok {
		res.Answer = fmt.Sprintf("Incident %s is not in the graph.", inc)
		res.Evidence = append(res.Evidence, Evidence{
			Type: "not_found", Ref: inc,
			Description: fmt.Sprintf("no node for incident %s", inc),
		})
		return
	}

	res.GraphOperations = append(res.GraphOperations,
		fmt.Sprintf("out_edges %s %s", id, EdgeIncidentImpactsService))
	var impacted []string
	for _, e := range p.graph.Out(id, EdgeIncidentImpactsService) {
		svc, _ := p.graph.Node(e.To)
		impacted = append(impacted, svc.Name)
		res.Evidence = append(res.Evidence, Evidence{
			Type:        "impacted_service",
			Ref:         svc.Name,
			Description: fmt.Sprintf("%s impacts %s", inc, svc.Name),
			NodeIDs:     []string{id, e.To},
			EdgeIDs:     []string{e.ID()},
		})
	}
	if len(impacted) == 0 {
		res.Answer = fmt.Sprintf("%s impacts no known services.", inc)
		return
	}
	res.Answer = fmt.Sprintf("%s impacts: %s.", inc, strings.Join(impacted, ", "))
}

// relatedIncidents unions impact analysis over every currently blocked
// service.
func (p *Planner) relatedIncidents(res *QueryResult) {
	res.GraphOperations = append(res.GraphOperations, "scan_nodes service")

	seen := make(map[string]bool)
	var ids []string
	for _, svc := range p.graph.NodesByType(NodeService) {
		scratch := &QueryResult{}
		missing := p.collectMissingEnvVars(svc.ID, scratch)
		incidents := p.collectOpenIncidents(svc.ID, scratch)
		if len(missing) == 0 && len(incidents) == 0 {
			continue
		}
		res.GraphOperations = append(res.GraphOperations, scratch.GraphOperations...)
		for _, ev := range scratch.Evidence {
			if ev.Type != "related_incident" {
				continue
			}
			if seen[ev.Ref] {
				continue
			}
			seen[ev.Ref] = true
			ids = append(ids, ev.Ref)
			res.Evidence = append(res.Evidence, ev)
		}
	}
	if len(ids) == 0 {
		res.Answer = "No incidents are related to blocked services."
		return
	}
	res.Answer = fmt.Sprintf("Related incidents: %s.", strings.Join(ids, ", "))
}

// collectMissingEnvVars appends missing_envvar evidence for the
// service node and returns the missing keys.
func (p *Planner) collectMissingEnvVars(serviceID string, res *QueryResult) []string {
	res.GraphOperations = append(res.GraphOperations,
		fmt.Sprintf("out_edges %s %s", serviceID, EdgeServiceRequiresEnvVar))

	var missing []string
	for _, e := range p.graph.Out(serviceID, EdgeServiceRequiresEnvVar) {
		env, ok := p.graph.Node(e.To)
		if !ok {
			continue
		}
		if hasValue(env) {
			continue
		}
		missing = append(missing, env.Name)
		res.Evidence = append(res.Evidence, Evidence{
			Type:        "missing_envvar",
			Ref:         env.Name,
			Description: fmt.Sprintf("required env var %s has no value", env.Name),
			NodeIDs:     []string{serviceID, e.To},
			EdgeIDs:     []string{e.ID()},
		})
	}
	return missing
}

// collectOpenIncidents appends related_incident evidence for incidents
// impacting the service that are not marked resolved.
func (p *Planner) collectOpenIncidents(serviceID string, res *QueryResult) []string {
	res.GraphOperations = append(res.GraphOperations,
		fmt.Sprintf("in_edges %s %s", serviceID, EdgeIncidentImpactsService))

	var open []string
	for _, e := range p.graph.In(serviceID, EdgeIncidentImpactsService) {
		inc, ok := p.graph.Node(e.From)
		if !ok {
			continue
		}
		if resolved, _ := inc.Props["resolved"].(bool); resolved {
			continue
		}
		open = append(open, inc.Name)
		res.Evidence = append(res.Evidence, Evidence{
			Type:        "related_incident",
			Ref:         inc.Name,
			Description: fmt.Sprintf("incident %s impacts this service and is unresolved", inc.Name),
			NodeIDs:     []string{e.From, serviceID},
			EdgeIDs:     []string{e.ID()},
		})
	}
	return open
}

func hasValue(n Node) bool {
	v, ok := n.Props["value"]
	if !ok {
		return false
	}
	s, isStr := v.(string)
	if isStr {
		return strings.TrimSpace(s) != ""
	}
	return v != nil
}
