package fsutil

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestCleanRelPath(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"/":         "",
		".":         "",
		"/a/b":      "a/b",
		"a//b":      "a/b",
		"a\\b":      "a/b",
		"../../etc": "etc",
	}
	for in, want := range tests {
		require.Equal(t, want, CleanRelPath(in), in)
	}
}

func TestDepth(t *testing.T) {
	require.Equal(t, 0, Depth("/"))
	require.Equal(t, 1, Depth("/photos"))
	require.Equal(t, 2, Depth("/photos/a.jpg"))
	require.Equal(t, 3, Depth("photos/2024/a.jpg"))
}

func TestValidName(t *testing.T) {
	require.NoError(t, ValidName("a.txt"))
	require.NoError(t, ValidName("5aSc54yr5a2Q_1700000000000.txt"))
	require.ErrorIs(t, ValidName(""), ErrEmptyName)
	for _, bad := range []string{".", "..", "a/b", "a\\b", "a\x00b", "a\x01b", "line\nbreak", "del\x7f"} {
		require.ErrorIs(t, ValidName(bad), ErrInvalidName, bad)
	}
}

func TestFitsName(t *testing.T) {
	require.NoError(t, FitsName(strings.Repeat("a", MaxNameLen)))
	require.ErrorIs(t, FitsName(strings.Repeat("a", MaxNameLen+1)), ErrNameTooLong)
}

func TestBaseName(t *testing.T) {
	require.Equal(t, "a.txt", BaseName("C:\\Users\\me\\a.txt"))
	require.Equal(t, "a.txt", BaseName("dir/a.txt"))
	require.Equal(t, "夜猫子.txt", BaseName("夜猫子.txt"))
}

func TestShallowFs(t *testing.T) {
	base := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	fs := NewShallowFs(base, nil)

	require.NoError(t, fs.Mkdir("/docs", 0o755))
	require.True(t, errors.Is(fs.Mkdir("/docs/inner", 0o755), ErrTooDeep))
	require.True(t, errors.Is(fs.MkdirAll("/a/b", 0o755), ErrTooDeep))

	f, err := fs.Create("/docs/a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = fs.OpenFile("/docs/x/y.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	require.ErrorIs(t, err, ErrTooDeep)

	require.NoError(t, fs.Mkdir("/other", 0o755))
	require.ErrorIs(t, fs.Rename("/other", "/docs/other"), ErrTooDeep)
	require.NoError(t, fs.Rename("/docs/a.txt", "/other/a.txt"))

	_, err = fs.Stat("/other/a.txt")
	require.NoError(t, err)
}
