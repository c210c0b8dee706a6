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

// Package fault defines the error taxonomy shared by every Quorum
// component.
//
// Every core function returns a value or a *Fault. Retry and fallback
// decisions consult the Retriable flag, never concrete error types.
// Only the gateway classifies provider errors; all other layers treat
// them opaquely.
package fault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation means the caller supplied bad input.
	KindValidation Kind = "VALIDATION"

	// KindAuth means a credential was invalid or absent.
	KindAuth Kind = "AUTH"

	// KindPermission means policy denied access.
	KindPermission Kind = "PERMISSION"

	// KindNotFound means the entity does not exist.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict means a state precondition failed.
	KindConflict Kind = "CONFLICT"

	// KindRateLimit means the limiter denied admission. Retriable after
	// backoff.
	KindRateLimit Kind = "RATE_LIMIT"

	// KindTimeout means a deadline was exceeded. Retriable for the first
	// retry only.
	KindTimeout Kind = "TIMEOUT"

	// KindCapacity means no eligible model or an exhausted pool.
	KindCapacity Kind = "CAPACITY"

	// KindProvider means a vendor call failed; Code carries the sub-class.
	KindProvider Kind = "PROVIDER"

	// KindInternal means a bug or invariant violation.
	KindInternal Kind = "INTERNAL"
)

// Fault is a structured error carrying the taxonomy kind, an operator
// message, and a user-safe message. UserMessage never contains stack
// traces, SQL fragments, or provider-specific strings.
type Fault struct {
	Kind        Kind
	Code        string
	Message     string
	UserMessage string
	Details     map[string]any
	Retriable   bool

	// RetryAfter is a hint for RATE_LIMIT faults.
	RetryAfter time.Duration

	// Suggestions are optional user-facing remediation hints.
	Suggestions []string

	cause error
}

func (f *Fault) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s/%s: %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// WithCause attaches an underlying error.
func (f *Fault) WithCause(err error) *Fault {
	f.cause = err
	return f
}

// WithCode sets a sub-classification code.
func (f *Fault) WithCode(code string) *Fault {
	f.Code = code
	return f
}

// WithDetail records an operator-facing detail.
func (f *Fault) WithDetail(key string, value any) *Fault {
	if f.Details == nil {
		f.Details = make(map[string]any)
	}
	f.Details[key] = value
	return f
}

// WithUserMessage overrides the user-safe message.
func (f *Fault) WithUserMessage(msg string) *Fault {
	f.UserMessage = msg
	return f
}

// WithSuggestions appends remediation hints.
func (f *Fault) WithSuggestions(hints ...string) *Fault {
	f.Suggestions = append(f.Suggestions, hints...)
	return f
}

// WithRetryAfter records a retry hint for RATE_LIMIT faults.
func (f *Fault) WithRetryAfter(d time.Duration) *Fault {
	f.RetryAfter = d
	return f
}

func newf(kind Kind, retriable bool, user string, format string, args ...any) *Fault {
	return &Fault{
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		UserMessage: user,
		Retriable:   retriable,
	}
}

// Validation reports bad caller input.
func Validation(format string, args ...any) *Fault {
	f := newf(KindValidation, false, "", format, args...)
	f.UserMessage = f.Message
	return f
}

// Auth reports an invalid or absent credential.
func Auth(format string, args ...any) *Fault {
	return newf(KindAuth, false, "authentication failed", format, args...)
}

// Permission reports a policy denial.
func Permission(format string, args ...any) *Fault {
	return newf(KindPermission, false, "access denied", format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) *Fault {
	f := newf(KindNotFound, false, "", format, args...)
	f.UserMessage = f.Message
	return f
}

// Conflict reports a failed state precondition.
func Conflict(format string, args ...any) *Fault {
	f := newf(KindConflict, false, "", format, args...)
	f.UserMessage = f.Message
	return f
}

// RateLimited reports a limiter denial with a retry hint.
func RateLimited(retryAfter time.Duration, format string, args ...any) *Fault {
	f := newf(KindRateLimit, true, "rate limit reached, please retry shortly", format, args...)
	f.RetryAfter = retryAfter
	return f
}

// Timeout reports a missed deadline.
func Timeout(format string, args ...any) *Fault {
	return newf(KindTimeout, true, "the operation timed out", format, args...)
}

// Capacity reports an empty candidate set or exhausted pool. Retriable
// only when the caller marks it so.
func Capacity(code string, format string, args ...any) *Fault {
	f := newf(KindCapacity, false, "no capacity available for this request", format, args...)
	f.Code = code
	return f
}

// Provider reports a vendor call failure. The code sub-classifies
// (e.g. "transient", "invalid_request", "overloaded").
func Provider(code string, retriable bool, format string, args ...any) *Fault {
	f := newf(KindProvider, retriable, "the model provider returned an error", format, args...)
	f.Code = code
	return f
}

// Internal reports a bug or invariant violation. The user message never
// leaks detail.
func Internal(format string, args ...any) *Fault {
	return newf(KindInternal, false, "internal error", format, args...)
}

// As extracts a *Fault from an error chain.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified
// errors. Context expiry maps to TIMEOUT.
func KindOf(err error) Kind {
	if f, ok := As(err); ok {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// IsRetriable reports whether err may be retried at all.
func IsRetriable(err error) bool {
	f, ok := As(err)
	return ok && f.Retriable
}

// RetriableAfterAttempt reports whether err may be retried given that
// attempt attempts have already run. TIMEOUT is retriable for the first
// retry only.
func RetriableAfterAttempt(err error, attempt int) bool {
	f, ok := As(err)
	if !ok || !f.Retriable {
		return false
	}
	if f.Kind == KindTimeout {
		return attempt <= 1
	}
	return true
}

// FromContext converts a context error into a fault. Cancellation and
// deadline expiry map to TIMEOUT so callers see a single taxonomy.
func FromContext(err error) *Fault {
	if err == nil {
		return nil
	}
	return Timeout("context ended: %v", err).WithCause(err)
}
