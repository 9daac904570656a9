package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidArgumentCode(t *testing.T) {
	err := InvalidArgument("seed %q too short", "ab")
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
	assert.False(t, IsStorageUnavailable(err))
	assert.Contains(t, err.Error(), `seed "ab" too short`)
}

func TestStorageUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageUnavailable(cause, "failed to commit", Field("path", "/tmp/x.db"))

	assert.True(t, IsStorageUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "/tmp/x.db", FieldsOf(err)["path"])
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeStorageUnavailable, "nothing"))
	assert.NoError(t, StorageUnavailable(nil, "nothing"))
}

func TestCodeSurvivesFmtWrapping(t *testing.T) {
	inner := New(CodeFetchFailed, "status 404")
	outer := fmt.Errorf("fetching page: %w", inner)

	assert.Equal(t, CodeFetchFailed, CodeOf(outer))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
