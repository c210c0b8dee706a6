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
	"regexp"
	"strings"
	"time"

	"github.com/quorumhq/quorum/pkg/fault"
)

var (
	// incidentRe matches incident ids like INC-101.
	incidentRe = regexp.MustCompile(`\bINC-\d+\b`)

	// envVarRe matches ALL_CAPS identifiers with at least one
	// underscore, which keeps plain acronyms out.
	envVarRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+\b`)

	// serviceNameRe matches lowercase names with a digit suffix, the
	// common deploy-unit naming shape (crm7, api2).
	serviceNameRe = regexp.MustCompile(`\b[a-z][a-z0-9-]*\d\b`)

	// serviceSuffixRe matches names carrying an explicit service
	// marker.
	serviceSuffixRe = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:-service|-svc|-api|-app|-worker)\b`)

	sentenceRe = regexp.MustCompile(`[.!?;\n]+`)

	requiresRe = regexp.MustCompile(`(?i)\b(requires|needs|depends\s+on)\b`)
	impactsRe  = regexp.MustCompile(`(?i)\b(affects|impacts|caused\s+by|causing|broke|degrades)\b`)
)

// knownServices is the heuristic allowlist for names that carry no
// structural marker.
var knownServices = map[string]bool{
	"gateway":  true,
	"frontend": true,
	"backend":  true,
	"billing":  true,
	"checkout": true,
	"auth":     true,
	"search":   true,
	"ingest":   true,
}

// IngestResult summarizes one ingest call.
type IngestResult struct {
	NodesCreated int      `json:"nodes_created"`
	EdgesCreated int      `json:"edges_created"`
	Services     []string `json:"services"`
	EnvVars      []string `json:"envvars"`
	Incidents    []string `json:"incidents"`
	Nodes        []string `json:"nodes"`
	Edges        []string `json:"edges"`
}

// Ingestor extracts entities and relations from text fragments into a
// graph using deterministic rules.
type Ingestor struct {
	graph *Graph
	now   func() time.Time
}

// NewIngestor creates an ingestor writing into g.
func NewIngestor(g *Graph) *Ingestor {
	return &Ingestor{graph: g, now: time.Now}
}

// Ingest extracts services, env vars, and incidents from the text,
// upserts them, and applies the relation rules sentence by sentence.
// source tags the resulting source_info.
func (ig *Ingestor) Ingest(text, source string) (*IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fault.Validation("cannot ingest empty text")
	}
	if source == "" {
		source = "ingest"
	}
	src := SourceInfo{Source: source, Timestamp: ig.now()}
	res := &IngestResult{}

	for _, sentence := range sentenceRe.Split(text, -1) {
		if strings.TrimSpace(sentence) == "" {
			continue
		}
		if err := ig.ingestSentence(sentence, src, res); err != nil {
			return nil, err
		}
	}

	res.Services = dedupe(res.Services)
	res.EnvVars = dedupe(res.EnvVars)
	res.Incidents = dedupe(res.Incidents)
	res.Nodes = dedupe(res.Nodes)
	res.Edges = dedupe(res.Edges)
	return res, nil
}

func (ig *Ingestor) ingestSentence(sentence string, src SourceInfo, res *IngestResult) error {
	incidents := incidentRe.FindAllString(sentence, -1)
	envVars := envVarRe.FindAllString(sentence, -1)
	services := matchServices(sentence)

	for _, name := range services {
		if err := ig.upsertNode(Node{
			ID: ServiceID(name), Type: NodeService, Name: name, SourceInfo: src,
		}, res); err != nil {
			return err
		}
		res.Services = append(res.Services, name)
	}
	for _, key := range envVars {
		if err := ig.upsertNode(Node{
			ID: EnvVarID(key), Type: NodeEnvVar, Name: key, SourceInfo: src,
		}, res); err != nil {
			return err
		}
		res.EnvVars = append(res.EnvVars, key)
	}
	for _, id := range incidents {
		if err := ig.upsertNode(Node{
			ID: IncidentID(id), Type: NodeIncident, Name: id, SourceInfo: src,
		}, res); err != nil {
			return err
		}
		res.Incidents = append(res.Incidents, id)
	}

	if requiresRe.MatchString(sentence) {
		for _, svc := range services {
			for _, key := range envVars {
				if err := ig.upsertEdge(Edge{
					Type: EdgeServiceRequiresEnvVar,
					From: ServiceID(svc), To: EnvVarID(key),
					SourceInfo: src,
				}, res); err != nil {
					return err
				}
			}
		}
	}

	if impactsRe.MatchString(sentence) {
		for _, inc := range incidents {
			for _, svc := range services {
				if err := ig.upsertEdge(Edge{
					Type: EdgeIncidentImpactsService,
					From: IncidentID(inc), To: ServiceID(svc),
					SourceInfo: src,
				}, res); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (ig *Ingestor) upsertNode(n Node, res *IngestResult) error {
	created, err := ig.graph.UpsertNode(n)
	if err != nil {
		return err
	}
	if created {
		res.NodesCreated++
	}
	res.Nodes = append(res.Nodes, n.ID)
	return nil
}

func (ig *Ingestor) upsertEdge(e Edge, res *IngestResult) error {
	created, err := ig.graph.UpsertEdge(e)
	if err != nil {
		return err
	}
	if created {
		res.EdgesCreated++
	}
	res.Edges = append(res.Edges, e.ID())
	return nil
}

// matchServices applies the three service heuristics: digit-suffixed
// names, explicit service suffixes, and the allowlist.
func matchServices(sentence string) []string {
	var out []string
	out = append(out, serviceNameRe.FindAllString(sentence, -1)...)
	out = append(out, serviceSuffixRe.FindAllString(sentence, -1)...)
	for _, word := range strings.Fields(strings.ToLower(sentence)) {
		word = strings.Trim(word, ".,!?;:()\"'")
		if knownServices[word] {
			out = append(out, word)
		}
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
