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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/model"
	"github.com/quorumhq/quorum/pkg/tokens"
)

// FakeProvider is a deterministic in-process provider used in tests and
// in provider-less mode. The response content is a pure function of the
// request, so ensemble runs are reproducible.
type FakeProvider struct {
	name   string
	models []model.Descriptor

	// Respond overrides the default echo behavior when set.
	Respond func(req *Request) (string, error)

	// Delay is applied before answering, observing ctx.
	Delay time.Duration

	calls atomic.Int64

	mu   sync.Mutex
	seen []*Request
}

// NewFake creates a fake provider serving the given descriptors.
func NewFake(name string, models []model.Descriptor) *FakeProvider {
	return &FakeProvider{name: name, models: models}
}

// Name returns the configured provider tag.
func (p *FakeProvider) Name() string { return p.name }

// Models returns the descriptors this fake serves.
func (p *FakeProvider) Models() []model.Descriptor {
	out := make([]model.Descriptor, len(p.models))
	copy(out, p.models)
	return out
}

// CostOf computes the USD cost at m's pricing.
func (p *FakeProvider) CostOf(inputTokens, outputTokens int, m *model.Descriptor) float64 {
	return m.Cost(inputTokens, outputTokens)
}

// Calls returns how many Generate calls completed.
func (p *FakeProvider) Calls() int64 { return p.calls.Load() }

// Requests returns a copy of every request seen.
func (p *FakeProvider) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.seen))
	copy(out, p.seen)
	return out
}

// Generate answers deterministically: either via Respond or by echoing
// a digest of the prompt.
func (p *FakeProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fault.FromContext(ctx.Err())
		case <-time.After(p.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.FromContext(err)
	}

	p.mu.Lock()
	p.seen = append(p.seen, req)
	p.mu.Unlock()

	var content string
	if p.Respond != nil {
		var err error
		content, err = p.Respond(req)
		if err != nil {
			return nil, err
		}
	} else {
		sum := sha256.Sum256([]byte(req.PromptText()))
		content = fmt.Sprintf("fake(%s): %s", req.Model.ModelName(), hex.EncodeToString(sum[:8]))
	}

	p.calls.Add(1)

	inTok := tokens.Estimate(req.PromptText())
	outTok := tokens.Estimate(content)

	return &Response{
		Content:      content,
		ModelID:      req.Model.ID,
		Provider:     p.name,
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      p.CostOf(inTok, outTok, req.Model),
		Latency:      time.Since(start),
		FinishReason: "stop",
	}, nil
}
