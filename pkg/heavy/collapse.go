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
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/quorumhq/quorum/pkg/fault"
)

// Variation is one candidate answer produced by running the same task
// several ways (different models, temperatures, or prompts). RunQuantum
// fills the execution fields; hand-built variations may leave them
// zero.
type Variation struct {
	ID      string             `json:"id"`
	Content string             `json:"content"`
	Err     error              `json:"-"`
	Score   float64            `json:"score"`
	Metrics map[string]float64 `json:"metrics,omitempty"`

	Status        WorkerState `json:"status,omitempty"`
	Provider      string      `json:"provider,omitempty"`
	ModelID       string      `json:"model_id,omitempty"`
	InputTokens   int         `json:"input_tokens,omitempty"`
	OutputTokens  int         `json:"output_tokens,omitempty"`
	CostUSD       float64     `json:"cost_usd,omitempty"`
	ExecutionTime float64     `json:"execution_time,omitempty"`
	Weight        float64     `json:"weight,omitempty"`
}

// CollapseStrategy selects how a set of variations becomes one answer.
type CollapseStrategy string

const (
	// CollapseFirstSuccess takes the first non-failed variation in
	// submission order.
	CollapseFirstSuccess CollapseStrategy = "first_success"

	// CollapseBestScore takes the variation with the highest Score.
	CollapseBestScore CollapseStrategy = "best_score"

	// CollapseConsensus takes the most common answer, ties broken by
	// submission order.
	CollapseConsensus CollapseStrategy = "consensus"

	// CollapseCombined concatenates every successful variation.
	CollapseCombined CollapseStrategy = "combined"

	// CollapseWeighted scores variations from their metrics using the
	// supplied weights, min-max normalized per metric.
	CollapseWeighted CollapseStrategy = "weighted"
)

// Collapse reduces variations to a single one under the strategy.
// weights is only consulted by CollapseWeighted.
func Collapse(strategy CollapseStrategy, variations []Variation, weights map[string]float64) (*Variation, error) {
	ok := successful(variations)
	if len(ok) == 0 {
		return nil, fault.Capacity("no_successful_variation", "every variation failed")
	}

	switch strategy {
	case CollapseFirstSuccess, "":
		v := ok[0]
		return &v, nil

	case CollapseBestScore:
		best := 0
		for i, v := range ok {
			if v.Score > ok[best].Score {
				best = i
			}
		}
		v := ok[best]
		return &v, nil

	case CollapseConsensus:
		return consensus(ok), nil

	case CollapseCombined:
		parts := make([]string, 0, len(ok))
		for _, v := range ok {
			parts = append(parts, v.Content)
		}
		return &Variation{ID: "combined", Content: strings.Join(parts, "\n\n")}, nil

	case CollapseWeighted:
		scored := weightedScores(ok, weights)
		best := 0
		for i := range scored {
			if scored[i].Score > scored[best].Score {
				best = i
			}
		}
		v := scored[best]
		return &v, nil

	default:
		return nil, fault.Validation("unknown collapse strategy %q", strategy)
	}
}

func successful(variations []Variation) []Variation {
	var out []Variation
	for _, v := range variations {
		if v.Err == nil {
			out = append(out, v)
		}
	}
	return out
}

func consensus(variations []Variation) *Variation {
	counts := make(map[string]int)
	firstByDigest := make(map[string]int)

	for i, v := range variations {
		d := contentDigest(v.Content)
		counts[d]++
		if _, seen := firstByDigest[d]; !seen {
			firstByDigest[d] = i
		}
	}

	bestDigest := ""
	for d := range counts {
		if bestDigest == "" {
			bestDigest = d
			continue
		}
		if counts[d] > counts[bestDigest] ||
			(counts[d] == counts[bestDigest] && firstByDigest[d] < firstByDigest[bestDigest]) {
			bestDigest = d
		}
	}
	v := variations[firstByDigest[bestDigest]]
	return &v
}

func contentDigest(content string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// weightedScores recomputes Score for each variation as the weighted
// sum of its min-max-normalized metrics.
func weightedScores(variations []Variation, weights map[string]float64) []Variation {
	lo := make(map[string]float64)
	hi := make(map[string]float64)
	for _, v := range variations {
		for k, val := range v.Metrics {
			cur, seen := lo[k]
			if !seen || val < cur {
				lo[k] = val
			}
			cur, seen = hi[k]
			if !seen || val > cur {
				hi[k] = val
			}
		}
	}

	out := make([]Variation, len(variations))
	copy(out, variations)
	for i := range out {
		score := 0.0
		for k, w := range weights {
			val, ok := out[i].Metrics[k]
			if !ok {
				continue
			}
			span := hi[k] - lo[k]
			if span > 0 {
				score += w * (val - lo[k]) / span
			}
		}
		out[i].Score = score
	}
	return out
}
