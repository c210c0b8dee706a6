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

package model

// CatalogVersion identifies the built-in catalog in operational logs.
const CatalogVersion = "2026-08-builtin"

var textCaps = []Capability{CapTextGeneration, CapFunctionCalling, CapStructuredOutput}

func withCaps(extra ...Capability) []Capability {
	return append(append([]Capability{}, textCaps...), extra...)
}

// BuiltinCatalog returns the descriptors shipped with the runtime.
// Prices are USD per million tokens; quality scores are relative within
// the catalog, not benchmarks.
func BuiltinCatalog() []Descriptor {
	return []Descriptor{
		{
			ID: "openai/gpt-4o", Provider: "openai", Name: "GPT-4o",
			Capabilities:  withCaps(CapMultimodal, CapVision),
			ContextWindow: 128000, InputPricePerM: 2.5, OutputPricePerM: 10,
			MeanLatencyMS: 1200, Quality: 0.88, IsMultimodal: true,
		},
		{
			ID: "openai/gpt-4o-mini", Provider: "openai", Name: "GPT-4o mini",
			Capabilities:  withCaps(CapMultimodal, CapVision),
			ContextWindow: 128000, InputPricePerM: 0.15, OutputPricePerM: 0.6,
			MeanLatencyMS: 700, Quality: 0.78, IsMultimodal: true,
		},
		{
			ID: "openai/o3-mini", Provider: "openai", Name: "o3-mini",
			Capabilities:  withCaps(CapReasoning),
			ContextWindow: 200000, InputPricePerM: 1.1, OutputPricePerM: 4.4,
			MeanLatencyMS: 4000, Quality: 0.9, IsReasoning: true,
		},
		{
			ID: "anthropic/claude-sonnet-4", Provider: "anthropic", Name: "Claude Sonnet 4",
			Capabilities:  withCaps(CapReasoning, CapMultimodal, CapVision, CapLongContext),
			ContextWindow: 200000, InputPricePerM: 3, OutputPricePerM: 15,
			MeanLatencyMS: 1500, Quality: 0.92, IsReasoning: true, IsMultimodal: true,
		},
		{
			ID: "anthropic/claude-3-5-haiku", Provider: "anthropic", Name: "Claude 3.5 Haiku",
			Capabilities:  withCaps(),
			ContextWindow: 200000, InputPricePerM: 0.8, OutputPricePerM: 4,
			MeanLatencyMS: 600, Quality: 0.75,
		},
		{
			ID: "google/gemini-2.0-flash", Provider: "google", Name: "Gemini 2.0 Flash",
			Capabilities:  withCaps(CapMultimodal, CapVision, CapLongContext),
			ContextWindow: 1000000, InputPricePerM: 0.1, OutputPricePerM: 0.4,
			MeanLatencyMS: 500, Quality: 0.8, IsMultimodal: true,
		},
		{
			ID: "groq/llama-3.3-70b", Provider: "groq", Name: "Llama 3.3 70B (Groq)",
			Capabilities:  withCaps(),
			ContextWindow: 128000, InputPricePerM: 0.59, OutputPricePerM: 0.79,
			MeanLatencyMS: 250, Quality: 0.72,
		},
		{
			ID: "perplexity/sonar-pro", Provider: "perplexity", Name: "Sonar Pro",
			Capabilities:  append(withCaps(), CapSearch),
			ContextWindow: 200000, InputPricePerM: 3, OutputPricePerM: 15,
			MeanLatencyMS: 2000, Quality: 0.8,
		},
		{
			ID: "xai/grok-3-mini", Provider: "xai", Name: "Grok 3 Mini",
			Capabilities:  withCaps(CapReasoning),
			ContextWindow: 131072, InputPricePerM: 0.3, OutputPricePerM: 0.5,
			MeanLatencyMS: 900, Quality: 0.74, IsReasoning: true,
		},
		{
			ID: "moonshot/kimi-k2", Provider: "moonshot", Name: "Kimi K2",
			Capabilities:  withCaps(CapLongContext),
			ContextWindow: 131072, InputPricePerM: 0.6, OutputPricePerM: 2.5,
			MeanLatencyMS: 1100, Quality: 0.79,
		},
		{
			ID: "qwen/qwen-max", Provider: "qwen", Name: "Qwen Max",
			Capabilities:  withCaps(),
			ContextWindow: 32768, InputPricePerM: 1.6, OutputPricePerM: 6.4,
			MeanLatencyMS: 1000, Quality: 0.77,
		},
		{
			ID: "openai/text-embedding-3-small", Provider: "openai", Name: "Text Embedding 3 Small",
			Capabilities:  []Capability{CapEmbedding},
			ContextWindow: 8191, InputPricePerM: 0.02, OutputPricePerM: 0,
			MeanLatencyMS: 200,
		},
	}
}
