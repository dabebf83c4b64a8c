package xerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type openErr struct{}

func (openErr) Error() string        { return "open" }
func (openErr) Is(target error) bool { return target == ErrCircuitOpen }

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", base, KindUnknown},
		{"tagged transient", Transient(base), KindTransient},
		{"wrapped transient", Wrap(Transient(base), "page 2"), KindTransient},
		{"tagged fatal", Fatal(base), KindFatal},
		{"invalid input", Wrap(ErrInvalidInput, "since after until"), KindFatal},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindTransient},
		{"net timeout", Wrap(timeoutErr{}, "dial"), KindTransient},
		{"circuit open", Wrap(openErr{}, "repo-a"), KindCircuitOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindTagsKeepChain(t *testing.T) {
	base := errors.New("503")
	err := Transient(base)

	assert.ErrorIs(t, err, base)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, "503", err.Error())
	assert.True(t, IsTransient(err))
	assert.False(t, IsCircuitOpen(err))

	assert.Nil(t, Transient(nil))
	assert.Nil(t, Fatal(nil))
	assert.Equal(t, "circuit_open", KindCircuitOpen.String())
}
