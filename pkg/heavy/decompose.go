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

package heavy

import (
	"context"
	"fmt"
	"strings"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/gateway"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/prompt"
)

// perspectiveTemplates produce the canonical sub-queries when no
// provider is available. Order matters: it is the fallback's contract.
var perspectiveTemplates = []string{
	"Research the background and context of: %s",
	"Analyze the key components and structure of: %s",
	"Verify the assumptions and claims behind: %s",
	"Explore alternative viewpoints on: %s",
	"Identify risks and failure modes in: %s",
	"Compare possible approaches to: %s",
	"Summarize the strongest evidence about: %s",
	"Project the future implications of: %s",
}

// deterministicDecompose emits n canonical perspectives, each carrying
// the original query verbatim.
func deterministicDecompose(query string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf(perspectiveTemplates[i%len(perspectiveTemplates)], query))
	}
	return out
}

// decompose produces n sub-queries. With a live provider it asks the
// decomposer template; any shortfall in the LLM output falls back to
// the deterministic set so the fan-out always gets exactly n inputs.
func (o *Orchestrator) decompose(ctx context.Context, query string, n int) ([]string, error) {
	if o.deterministic {
		return deterministicDecompose(query, n), nil
	}

	tpl, err := o.templates.Get("decomposer")
	if err != nil {
		return nil, err
	}

	rendered, err := prompt.Render(tpl, map[string]any{"count": n, "query": query}, nil, nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.gw.Generate(ctx, &gateway.Request{
		Capabilities: []model.Capability{model.CapTextGeneration},
		System:       rendered.System,
		Messages:     rendered.Messages,
		MaxTokens:    512,
		TaskType:     "decompose",
	})
	if err != nil {
		if fault.IsRetriable(err) {
			return deterministicDecompose(query, n), nil
		}
		return nil, err
	}

	subs := parseSubQueries(resp.Content, n)
	if len(subs) < n {
		return deterministicDecompose(query, n), nil
	}
	return subs[:n], nil
}

func parseSubQueries(content string, n int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. \t")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
