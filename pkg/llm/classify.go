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
	"errors"
	"net/http"

	"github.com/quorumhq/quorum/pkg/fault"
	"github.com/quorumhq/quorum/pkg/httpclient"
)

// classifyHTTP maps a vendor HTTP failure into the fault taxonomy.
// provider is only recorded as a detail; the fault itself is
// vendor-neutral.
func classifyHTTP(provider string, statusCode int, vendorMessage string, err error) error {
	var f *fault.Fault

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		f = fault.Auth("%s rejected credentials (HTTP %d)", provider, statusCode)
	case statusCode == http.StatusNotFound:
		f = fault.NotFound("%s: model or endpoint not found", provider)
	case statusCode == http.StatusTooManyRequests:
		f = fault.Provider("rate_limited", true, "%s rate limited the call", provider)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		f = fault.Provider("invalid_request", false, "%s rejected the request: %s", provider, vendorMessage)
	case statusCode >= 500:
		f = fault.Provider("transient", true, "%s server error (HTTP %d)", provider, statusCode)
	case statusCode > 0:
		f = fault.Provider("unexpected_status", false, "%s returned HTTP %d", provider, statusCode)
	default:
		f = fault.Provider("network", true, "%s call failed: %v", provider, err)
	}

	f = f.WithDetail("provider", provider)
	if vendorMessage != "" {
		f = f.WithDetail("vendor_message", vendorMessage)
	}
	if err != nil {
		f = f.WithCause(err)
	}
	return f
}

// classifyTransport maps transport-level errors (no HTTP status) into
// the taxonomy. Context expiry becomes TIMEOUT; an exhausted retry
// budget stays a retriable provider fault with its hint.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.FromContext(err)
	}

	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		if retryable.StatusCode != 0 {
			classified := classifyHTTP(provider, retryable.StatusCode, "", err)
			if f, ok := fault.As(classified); ok && retryable.RetryAfter > 0 {
				return f.WithRetryAfter(retryable.RetryAfter)
			}
			return classified
		}
		return fault.Provider("transient", true, "%s retries exhausted", provider).
			WithRetryAfter(retryable.RetryAfter).
			WithDetail("provider", provider).
			WithCause(err)
	}

	return fault.Provider("network", true, "%s call failed", provider).
		WithDetail("provider", provider).
		WithCause(err)
}
