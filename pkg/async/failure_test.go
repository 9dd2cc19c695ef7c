package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	var syntaxErr error
	var v struct{}
	syntaxErr = json.Unmarshal([]byte("{"), &v)

	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("connection refused"), KindTransport},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("dispatch: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindCancelled},
		{"malformed sentinel", fmt.Errorf("decode page: %w", ErrMalformed), KindMalformed},
		{"json syntax", syntaxErr, KindMalformed},
		{"failure keeps kind", NewFailure(KindTimeout, "slow", nil), KindTimeout},
		{"wrapped failure", fmt.Errorf("outer: %w", NewFailure(KindMalformed, "bad", nil)), KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestAsFailure(t *testing.T) {
	assert.Nil(t, AsFailure(nil))

	base := errors.New("boom")
	f := AsFailure(base)
	assert.Equal(t, KindTransport, f.Kind)
	assert.Equal(t, "request failed", f.Message)
	assert.ErrorIs(t, f, base)
	assert.Equal(t, "transport: request failed: boom", f.Error())

	existing := NewFailure(KindCancelled, "user abort", nil)
	assert.Same(t, existing, AsFailure(fmt.Errorf("wrap: %w", existing)))
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(context.Canceled, KindCancelled))
	assert.False(t, IsKind(nil, KindCancelled))
	assert.False(t, IsKind(errors.New("x"), KindTimeout))
}
