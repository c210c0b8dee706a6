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

// Package tools provides the local tool contract and registry.
package tools

import (
	"context"
	"sort"
	"time"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/registry"
)

// ToolInfo describes a tool to callers and to LLM tool declarations.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

// ToolParameter describes one tool argument.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolResult is the uniform tool output. Tool-level failures are
// carried in Error with Success=false, not as Go errors.
type ToolResult struct {
	Success       bool           `json:"success"`
	Output        any            `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolName      string         `json:"tool_name"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Tool is one callable capability.
type Tool interface {
	Info() ToolInfo
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// Registry holds the locally available tools.
type Registry struct {
	reg *registry.BaseRegistry[Tool]
}

// NewRegistry creates a registry preloaded with the built-in tools.
func NewRegistry() *Registry {
	r := &Registry{reg: registry.NewBaseRegistry[Tool]()}
	_ = r.Register(NewCalculator())
	return r
}

// Register adds a tool under its declared name.
func (r *Registry) Register(t Tool) error {
	return r.reg.Register(t.Info().Name, t)
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.reg.Get(name)
	if !ok {
		return nil, fault.NotFound("tool %s", name)
	}
	return t, nil
}

// Call executes a named tool.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	t, err := r.Get(name)
	if err != nil {
		return ToolResult{}, err
	}
	start := time.Now()
	res, err := t.Execute(ctx, args)
	res.ToolName = name
	res.ExecutionTime = time.Since(start)
	return res, err
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	names := r.reg.Names()
	sort.Strings(names)
	return names
}
