package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation", err: Validation("op", "bad"), want: KindValidation},
		{name: "wrapped conflict", err: fmt.Errorf("outer: %w", Conflict("op", "taken")), want: KindConflict},
		{name: "context cancelled", err: context.Canceled, want: KindCancelled},
		{name: "deadline exceeded", err: fmt.Errorf("step: %w", context.DeadlineExceeded), want: KindProvider},
		{name: "plain error", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("add domain: %w", Conflict("AddDomain", "domain already claimed"))

	assert.True(t, errors.Is(err, &Error{Kind: KindConflict}))
	assert.False(t, errors.Is(err, &Error{Kind: KindValidation}))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("op", "bad").StatusCode())
	assert.Equal(t, http.StatusConflict, Conflict("op", "taken").StatusCode())
	assert.Equal(t, http.StatusNotFound, NotFound("op", "deployment", "x").StatusCode())
	assert.Equal(t, http.StatusBadGateway, Provider("op", "dns down", errors.New("timeout")).StatusCode())
	assert.Equal(t, http.StatusInternalServerError, As(errors.New("boom")).StatusCode())
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Provider("Verify", "verification provider failed", errors.New("i/o timeout"))
	assert.Equal(t, "Verify: verification provider failed: i/o timeout", err.Error())
}
