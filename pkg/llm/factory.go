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

package llm

import (
	"fmt"
	"log/slog"

	"github.com/quorumhq/quorum/pkg/config"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/registry"
)

// Registry holds the configured provider adapters by name.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// ForModel returns the provider serving the given descriptor.
func (r *Registry) ForModel(d *model.Descriptor) (Provider, error) {
	p, ok := r.Get(d.Provider)
	if !ok {
		return nil, fmt.Errorf("no provider configured for %s", d.Provider)
	}
	return p, nil
}

// BuildProviders constructs an adapter for every provider that has an
// API key in cfg and at least one model in the catalog. With no keys at
// all, a deterministic fake serving the whole catalog is registered so
// the runtime stays usable offline.
func BuildProviders(cfg *config.ProvidersConfig, models *model.Registry) (*Registry, error) {
	reg := NewRegistry()

	type entry struct {
		vendor string
		key    string
		build  func(key string, ms []model.Descriptor) (Provider, error)
	}

	openaiCompat := func(vendor string) func(string, []model.Descriptor) (Provider, error) {
		return func(key string, ms []model.Descriptor) (Provider, error) {
			return NewOpenAICompat(vendor, key, ms)
		}
	}

	entries := []entry{
		{"openai", cfg.OpenAIAPIKey, openaiCompat("openai")},
		{"groq", cfg.GroqAPIKey, openaiCompat("groq")},
		{"xai", cfg.XAIAPIKey, openaiCompat("xai")},
		{"moonshot", cfg.MoonshotAPIKey, openaiCompat("moonshot")},
		{"qwen", cfg.QwenAPIKey, openaiCompat("qwen")},
		{"perplexity", cfg.PerplexityAPIKey, openaiCompat("perplexity")},
		{"anthropic", cfg.AnthropicAPIKey, func(key string, ms []model.Descriptor) (Provider, error) {
			return NewAnthropic(key, ms)
		}},
		{"google", cfg.GoogleAPIKey, func(key string, ms []model.Descriptor) (Provider, error) {
			return NewGemini(key, ms)
		}},
	}

	for _, e := range entries {
		if e.key == "" {
			continue
		}
		served := descriptorsFor(models, e.vendor)
		if len(served) == 0 {
			slog.Warn("provider has API key but no catalog models", "provider", e.vendor)
			continue
		}
		p, err := e.build(e.key, served)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s provider: %w", e.vendor, err)
		}
		if err := reg.Register(e.vendor, p); err != nil {
			return nil, err
		}
	}

	if reg.Count() == 0 {
		slog.Info("no provider API keys configured, using deterministic fallback provider")
		byVendor := make(map[string][]model.Descriptor)
		for _, d := range models.All() {
			byVendor[d.Provider] = append(byVendor[d.Provider], *d)
		}
		for vendor, ms := range byVendor {
			if err := reg.Register(vendor, NewFake(vendor, ms)); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}

func descriptorsFor(models *model.Registry, vendor string) []model.Descriptor {
	var out []model.Descriptor
	for _, d := range models.ByProvider(vendor) {
		out = append(out, *d)
	}
	return out
}
