package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"HTTP 429 Too Many Requests", KindRateLimited},
		{"Slot 1234 was skipped, or missing in long-term storage", KindDataGap},
		{"Invalid param: WrongSize", KindInvalidInput},
		{"could not find account", KindNotFound},
		{"request timed out", KindTimeout},
		{"503 Service Unavailable", KindUnavailable},
		{"dial tcp: connection refused", KindNetwork},
		{"something odd", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
}

func TestKindOf_OutermostTagWins(t *testing.T) {
	inner := New(KindNetwork, "inner", errors.New("reset"))
	outer := New(KindNotFound, "outer", fmt.Errorf("wrapped: %w", inner))

	assert.Equal(t, KindNotFound, KindOf(outer))
	assert.Equal(t, KindNetwork, KindOf(fmt.Errorf("ctx: %w", inner)))
	assert.Equal(t, KindCanceled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestKind_Terminal(t *testing.T) {
	assert.True(t, KindInvalidInput.Terminal())
	assert.True(t, KindNotFound.Terminal())
	assert.True(t, KindCanceled.Terminal())
	assert.False(t, KindUnknown.Terminal())
	assert.False(t, KindRateLimited.Terminal())
	assert.False(t, KindDataGap.Terminal())
}

func TestTag(t *testing.T) {
	err := Tag("getBalance", errors.New("rate limit exceeded"))
	assert.Equal(t, KindRateLimited, KindOf(err))

	tagged := New(KindNotFound, "x", errors.New("gone"))
	assert.Same(t, tagged, Tag("y", tagged))

	assert.NoError(t, Tag("z", nil))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, MsgUnreachable, UserMessage(New(KindNetwork, "op", errors.New("dial tcp 1.2.3.4: refused"))))
	assert.Equal(t, MsgRateLimited, UserMessage(New(KindRateLimited, "op", errors.New("429"))))
	assert.Equal(t, "invalid address: abc", UserMessage(New(KindInvalidInput, "op", errors.New("invalid address: abc"))))
	assert.Equal(t, "", UserMessage(nil))
}
