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

package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quorumhq/quorum/pkg/fault"
)

// AdmissionConfig bounds request rate and spend per (provider, model).
type AdmissionConfig struct {
	// RequestsPerMinute is the token bucket refill rate; the burst
	// capacity equals one minute of refill.
	RequestsPerMinute int

	// SpendBudgetUSD caps spend inside SpendWindow. Zero disables
	// spend checking.
	SpendBudgetUSD float64
	SpendWindow    time.Duration
}

type spendEntry struct {
	at  time.Time
	usd float64
}

type pairState struct {
	limiter  *rate.Limiter
	spent    []spendEntry
	reserved float64
}

// Admission gates every provider call. Each (provider, model) pair has
// its own token bucket and rolling spend window; an admitted call holds
// a reservation for its estimated cost until it commits the actual
// cost or releases.
type Admission struct {
	cfg AdmissionConfig
	now func() time.Time

	mu    sync.Mutex
	pairs map[string]*pairState
}

// Reservation holds estimated spend between admission and completion.
// Exactly one of Commit or Release must be called; both are idempotent
// together (the second call is a no-op).
type Reservation struct {
	a        *Admission
	key      string
	estimate float64
	done     bool
	mu       sync.Mutex
}

// NewAdmission creates the admission controller.
func NewAdmission(cfg AdmissionConfig) *Admission {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.SpendWindow <= 0 {
		cfg.SpendWindow = time.Hour
	}
	return &Admission{
		cfg:   cfg,
		now:   time.Now,
		pairs: make(map[string]*pairState),
	}
}

func (a *Admission) pair(key string) *pairState {
	p, ok := a.pairs[key]
	if !ok {
		perSecond := rate.Limit(float64(a.cfg.RequestsPerMinute) / 60.0)
		p = &pairState{limiter: rate.NewLimiter(perSecond, a.cfg.RequestsPerMinute)}
		a.pairs[key] = p
	}
	return p
}

// Admit checks rate and spend for the (provider, model) pair. On
// success it returns a live reservation for estimatedCost; on denial it
// returns a RATE_LIMIT fault carrying a retry-after hint.
func (a *Admission) Admit(provider, modelID string, estimatedCost float64) (*Reservation, error) {
	key := provider + "|" + modelID
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pair(key)
	p.spent = pruneSpend(p.spent, now.Add(-a.cfg.SpendWindow))

	if a.cfg.SpendBudgetUSD > 0 {
		total := p.reserved + estimatedCost
		for _, e := range p.spent {
			total += e.usd
		}
		if total > a.cfg.SpendBudgetUSD {
			retryAfter := a.cfg.SpendWindow
			if len(p.spent) > 0 {
				retryAfter = p.spent[0].at.Add(a.cfg.SpendWindow).Sub(now)
			}
			return nil, fault.RateLimited(retryAfter,
				"spend budget exhausted for %s (%.4f USD in window)", key, total-estimatedCost).
				WithCode("spend_budget").
				WithDetail("provider", provider).
				WithDetail("model", modelID)
		}
	}

	rsv := p.limiter.ReserveN(now, 1)
	if !rsv.OK() {
		return nil, fault.RateLimited(time.Minute, "rate limiter rejected %s", key)
	}
	if delay := rsv.DelayFrom(now); delay > 0 {
		rsv.CancelAt(now)
		return nil, fault.RateLimited(delay, "request rate exceeded for %s", key).
			WithCode("request_rate").
			WithDetail("provider", provider).
			WithDetail("model", modelID)
	}

	p.reserved += estimatedCost
	return &Reservation{a: a, key: key, estimate: estimatedCost}, nil
}

// Commit replaces the reservation's estimate with the actual cost.
func (r *Reservation) Commit(actualCost float64) {
	r.settle(actualCost, true)
}

// Release drops the reservation without recording spend. Use it when
// the call failed before the vendor charged anything.
func (r *Reservation) Release() {
	r.settle(0, false)
}

func (r *Reservation) settle(actual float64, record bool) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	p := r.a.pair(r.key)
	p.reserved -= r.estimate
	if p.reserved < 0 {
		p.reserved = 0
	}
	if record && actual > 0 {
		p.spent = append(p.spent, spendEntry{at: r.a.now(), usd: actual})
	}
}

// SpentInWindow reports committed spend for the pair inside the
// current window.
func (a *Admission) SpentInWindow(provider, modelID string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.pair(provider + "|" + modelID)
	p.spent = pruneSpend(p.spent, a.now().Add(-a.cfg.SpendWindow))
	var total float64
	for _, e := range p.spent {
		total += e.usd
	}
	return total
}

func pruneSpend(entries []spendEntry, cutoff time.Time) []spendEntry {
	i := 0
	for i < len(entries) && entries[i].at.Before(cutoff) {
		i++
	}
	return entries[i:]
}
