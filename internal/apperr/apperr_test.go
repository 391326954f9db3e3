package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := NotFound("file not found")
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrConflict)

	wrapped := fmt.Errorf("rename: %w", err)
	require.ErrorIs(t, wrapped, ErrNotFound)
	require.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestUnwrap(t *testing.T) {
	err := Storage("open file", fs.ErrPermission)
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, fs.ErrPermission)
	require.Equal(t, "open file: permission denied", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestMessage(t *testing.T) {
	require.Equal(t, "folder already exists", Message(Conflict("folder already exists"), "internal error"))
	require.Equal(t, "internal error", Message(Storage("rename", errors.New("EIO")), "internal error"))
	require.Equal(t, "internal error", Message(errors.New("boom"), "internal error"))
	require.Equal(t, "internal error", Message(Wrap(KindValidation, "", errors.New("x")), "internal error"))
}
