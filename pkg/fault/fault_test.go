package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name      string
		err       *Fault
		kind      Kind
		retriable bool
	}{
		{"validation", Validation("bad input"), KindValidation, false},
		{"auth", Auth("missing key"), KindAuth, false},
		{"permission", Permission("denied"), KindPermission, false},
		{"not found", NotFound("no such agent"), KindNotFound, false},
		{"conflict", Conflict("already running"), KindConflict, false},
		{"rate limit", RateLimited(time.Second, "budget spent"), KindRateLimit, true},
		{"timeout", Timeout("deadline"), KindTimeout, true},
		{"capacity", Capacity("no_eligible_model", "empty candidate set"), KindCapacity, false},
		{"provider transient", Provider("transient", true, "502 from vendor"), KindProvider, true},
		{"provider fatal", Provider("invalid_request", false, "400 from vendor"), KindProvider, false},
		{"internal", Internal("invariant broken"), KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.retriable, tt.err.Retriable)
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.retriable, IsRetriable(tt.err))
		})
	}
}

func TestWrappingPreservesKind(t *testing.T) {
	inner := Provider("transient", true, "upstream 503")
	wrapped := fmt.Errorf("calling model: %w", inner)

	f, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindProvider, f.Kind)
	assert.True(t, IsRetriable(wrapped))
}

func TestTimeoutRetriableFirstRetryOnly(t *testing.T) {
	err := Timeout("worker deadline")

	assert.True(t, RetriableAfterAttempt(err, 1))
	assert.False(t, RetriableAfterAttempt(err, 2))

	// Other retriable kinds are not capped.
	assert.True(t, RetriableAfterAttempt(Provider("transient", true, "x"), 5))
	assert.False(t, RetriableAfterAttempt(Validation("x"), 1))
}

func TestUserMessageNeverLeaksDetail(t *testing.T) {
	err := Internal("nil registry in gateway at call time")
	assert.Equal(t, "internal error", err.UserMessage)

	err = Provider("overloaded", true, `vendor said: {"error":"529"}`)
	assert.NotContains(t, err.UserMessage, "529")
}

func TestContextErrorsMapToTimeout(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, KindOf(context.Canceled))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	f := FromContext(context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, f.Kind)
	assert.True(t, errors.Is(f, context.DeadlineExceeded))
}

func TestDetailAndRetryAfter(t *testing.T) {
	err := RateLimited(250*time.Millisecond, "bucket empty").
		WithDetail("provider", "openai").
		WithCode("admission")

	assert.Equal(t, 250*time.Millisecond, err.RetryAfter)
	assert.Equal(t, "openai", err.Details["provider"])
	assert.Contains(t, err.Error(), "RATE_LIMIT/admission")
}
