package xerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "fetch page"))
	assert.NoError(t, Wrapf(nil, "page %d", 2))

	err := Wrapf(ErrNotFound, "operation %s", "op-1")
	assert.EqualError(t, err, "operation op-1: not found")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestCombine(t *testing.T) {
	assert.NoError(t, Combine())
	assert.NoError(t, Combine(nil, nil))

	cause := Transient(errors.New("503"))
	assert.Same(t, cause, Combine(nil, cause, nil), "single error is returned as is")

	saveErr := errors.New("database is locked")
	err := Combine(cause, saveErr)
	var multi *MultiError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Errors, 2)
	assert.EqualError(t, err, "503; database is locked")
	assert.ErrorIs(t, err, saveErr)
	assert.True(t, IsTransient(err), "kind of the first tagged member is kept")
}
