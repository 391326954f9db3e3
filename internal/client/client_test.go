package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"

	"landrop/internal/apperr"
	"landrop/internal/auth"
	"landrop/internal/config"
	"landrop/internal/hierarchy"
	"landrop/internal/httpserver"
	"landrop/internal/logging"
)

func newServer(t *testing.T) (*httptest.Server, *auth.Guard) {
	t.Helper()
	cfg := config.Default()
	cfg.UploadsDir = t.TempDir()
	cfg.StateDir = t.TempDir()
	cfg.PublicDir = ""

	now := time.UnixMilli(1700000000000)
	store, err := hierarchy.OpenDir(cfg.UploadsDir, hierarchy.Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	guard, err := auth.Open(cfg.StateDir, auth.Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	logger, err := logging.Wrap(zapcore.NewNopCore(), logging.Config{Level: "info"})
	require.NoError(t, err)
	s, err := httpserver.New(httpserver.Options{Config: cfg, Store: store, Guard: guard, Logger: logger})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, guard
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	require.Error(t, err)
	c, err := New(Config{BaseURL: "http://192.168.1.2:2333/"})
	require.NoError(t, err)
	require.Equal(t, "http://192.168.1.2:2333", c.BaseURL())
}

func TestRoundTrip(t *testing.T) {
	srv, _ := newServer(t)
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	dir, err := c.Mkdir(ctx, "照片")
	require.NoError(t, err)
	require.Equal(t, "54Wn54mH", dir.StoredName)

	files, err := c.Upload(ctx, dir.StoredName, "夜猫子.txt", strings.NewReader("meow"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "5aSc54yr5a2Q_1700000000000.txt", files[0].Filename)

	entries, err := c.List(ctx, dir.StoredName)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "夜猫子.txt", entries[0].DisplayName)

	var buf bytes.Buffer
	name, err := c.Download(ctx, dir.StoredName, files[0].Filename, &buf)
	require.NoError(t, err)
	require.Equal(t, "夜猫子.txt", name)
	require.Equal(t, "meow", buf.String())

	e, err := c.Move(ctx, dir.StoredName, files[0].Filename, "")
	require.NoError(t, err)
	require.Equal(t, "夜猫子.txt", e.DisplayName)

	e, err = c.Rename(ctx, "", files[0].Filename, "猫.md")
	require.NoError(t, err)
	require.Equal(t, "54yr.md", e.StoredName)

	buf.Reset()
	name, err = c.Download(ctx, "", "54yr.md", &buf)
	require.NoError(t, err)
	require.Equal(t, "猫.md", name)

	require.NoError(t, c.Delete(ctx, "", "54yr.md"))
	_, err = c.Download(ctx, "", "54yr.md", &buf)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = c.Mkdir(ctx, "照片")
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPasswordRequired(t *testing.T) {
	srv, guard := newServer(t)
	require.NoError(t, guard.SetPassword("s3cret"))
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.RequiresPassword)

	_, err = c.List(ctx, "")
	require.ErrorIs(t, err, apperr.ErrAuth)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.RequiresPassword)

	ok, err := c.Verify(ctx, "wrong")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = c.Verify(ctx, "s3cret")
	require.NoError(t, err)
	require.True(t, ok)

	c.SetPassword("s3cret")
	entries, err := c.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDecodeErrorPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.List(context.Background(), "")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.Status)
	require.Equal(t, "boom", apiErr.Message)
	require.ErrorIs(t, err, apperr.ErrStorage)
}

func TestDispositionName(t *testing.T) {
	require.Equal(t, "夜.txt", dispositionName(`attachment; filename="_.txt"; filename*=UTF-8''%E5%A4%9C.txt`, "x"))
	require.Equal(t, "a.txt", dispositionName(`attachment; filename="a.txt"`, "x"))
	require.Equal(t, "x", dispositionName("", "x"))
}

func TestBypassToken(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tok := BypassToken{Password: "p", IssuedAt: issued}
	require.True(t, tok.Valid(issued))
	require.True(t, tok.Valid(issued.Add(BypassTTL-time.Second)))
	require.False(t, tok.Valid(issued.Add(BypassTTL)))
	require.False(t, BypassToken{IssuedAt: issued}.Valid(issued))
}

func TestBypassCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewBypassCache(fs, "/cfg/landrop/bypass.json", func() time.Time { return now })

	_, ok := c.Get("http://a:2333")
	require.False(t, ok)

	require.NoError(t, c.Put("http://a:2333/", "one"))
	require.NoError(t, c.Put("http://b:2333", "two"))
	p, ok := c.Get("HTTP://A:2333")
	require.True(t, ok)
	require.Equal(t, "one", p)

	info, err := fs.Stat("/cfg/landrop/bypass.json")
	require.NoError(t, err)
	require.Equal(t, "-rw-------", info.Mode().Perm().String())

	// a fresh cache over the same file sees the tokens
	c2 := NewBypassCache(fs, "/cfg/landrop/bypass.json", func() time.Time { return now.Add(BypassTTL) })
	_, ok = c2.Get("http://a:2333")
	require.False(t, ok, "expired after 24h")

	require.NoError(t, c.Forget("http://b:2333"))
	_, ok = c.Get("http://b:2333")
	require.False(t, ok)
	require.NoError(t, c.Forget("http://never-seen"))
}

func TestBypassCacheCorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bypass.json", []byte("{"), 0o600))
	c := NewBypassCache(fs, "/bypass.json", nil)
	_, ok := c.Get("http://a")
	require.False(t, ok)
	// Put replaces the unreadable file
	require.NoError(t, c.Put("http://a", "p"))
	p, ok := c.Get("http://a")
	require.True(t, ok)
	require.Equal(t, "p", p)
}
