package ftp

import (
	"net"
	"os"
	"testing"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"landrop/internal/auth"
	"landrop/internal/fsutil"
)

type fakeClient struct {
	ftpserver.ClientContext
}

func (fakeClient) ID() uint32 { return 7 }

func (fakeClient) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 50000}
}

func newDriver(t *testing.T) (*Driver, *auth.Guard, afero.Fs) {
	t.Helper()
	guard, err := auth.New(afero.NewMemMapFs(), auth.Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	fs := afero.NewMemMapFs()
	settings := &ftpserver.Settings{ListenAddr: "127.0.0.1:0"}
	return NewDriver(settings, fs, guard, zap.NewNop()), guard, fs
}

func TestSettingsAndBanner(t *testing.T) {
	d, _, _ := newDriver(t)
	s, err := d.GetSettings()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", s.ListenAddr)

	banner, err := d.ClientConnected(fakeClient{})
	require.NoError(t, err)
	require.Equal(t, "landrop", banner)
	d.ClientDisconnected(fakeClient{})

	cfg, err := d.GetTLSConfig()
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestAuthUser(t *testing.T) {
	d, guard, fs := newDriver(t)

	// open access without a password
	drv, err := d.AuthUser(fakeClient{}, "anonymous", "")
	require.NoError(t, err)
	require.NotNil(t, drv)

	require.NoError(t, guard.SetPassword("s3cret"))
	_, err = d.AuthUser(fakeClient{}, "anyone", "wrong")
	require.ErrorIs(t, err, ErrBadPassword)

	drv, err = d.AuthUser(fakeClient{}, "anyone", "s3cret")
	require.NoError(t, err)

	require.NoError(t, drv.Mkdir("/docs", os.ModePerm))
	require.ErrorIs(t, drv.Mkdir("/docs/inner", os.ModePerm), fsutil.ErrTooDeep)
	require.NoError(t, afero.WriteFile(drv, "/docs/a.txt", []byte("a"), 0o644))

	ok, err := afero.Exists(fs, "/docs/a.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewServer(t *testing.T) {
	d, _, _ := newDriver(t)
	s := NewServer(d, zap.NewNop())
	require.NotNil(t, s)
	require.NotNil(t, s.Logger)
}
