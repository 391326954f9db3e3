package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"landrop/internal/apperr"
)

func newTestGuard(t *testing.T, fs afero.Fs) *Guard {
	t.Helper()
	g, err := New(fs, Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	return g
}

func TestCheckWithoutPassword(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	require.Equal(t, Allow, g.Check(""))
	require.Equal(t, Allow, g.Check("anything"))
	require.Equal(t, Status{}, g.Status())
}

func TestCheckWithPassword(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	require.NoError(t, g.SetPassword("s3cret"))

	require.Equal(t, Deny, g.Check(""))
	require.Equal(t, Deny, g.Check("wrong"))
	require.Equal(t, Deny, g.Check("s3cret "))
	require.Equal(t, Allow, g.Check("s3cret"))
	// second call takes the cached path
	require.Equal(t, Allow, g.Check("s3cret"))
	require.Equal(t, Deny, g.Check("S3cret"))

	require.Equal(t, Status{RequiresPassword: true, HasBeenAsked: true}, g.Status())
}

func TestChangePasswordInvalidatesCache(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	require.NoError(t, g.SetPassword("one"))
	require.Equal(t, Allow, g.Check("one"))
	require.NoError(t, g.SetPassword("two"))
	require.Equal(t, Deny, g.Check("one"))
	require.Equal(t, Allow, g.Check("two"))
}

func TestSetPasswordValidation(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	require.ErrorIs(t, g.SetPassword(""), apperr.ErrValidation)
	require.ErrorIs(t, g.SetPassword(strings.Repeat("x", MaxPasswordLen+1)), apperr.ErrValidation)
	require.False(t, g.Status().HasBeenAsked)
}

func TestSkipSetup(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := newTestGuard(t, fs)
	require.NoError(t, g.SkipSetup())
	require.Equal(t, Status{HasBeenAsked: true}, g.Status())
	require.Equal(t, Allow, g.Check(""))

	data, err := afero.ReadFile(fs, LockFile)
	require.NoError(t, err)
	require.Equal(t, lockContent, string(data))
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	g, err := Open(dir, Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	require.NoError(t, g.SetPassword("s3cret"))

	raw, err := os.ReadFile(filepath.Join(dir, PasswordFile))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "s3cret")

	g, err = Open(dir, Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	require.Equal(t, Status{RequiresPassword: true, HasBeenAsked: true}, g.Status())
	require.Equal(t, Allow, g.Check("s3cret"))
	require.Equal(t, Deny, g.Check("nope"))
}

func TestLegacyPlainTextPassword(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, PasswordFile, []byte("letmein\n"), 0o644))
	g := newTestGuard(t, fs)

	require.True(t, g.Status().RequiresPassword)
	require.False(t, g.Status().HasBeenAsked)
	require.Equal(t, Allow, g.Check("letmein"))
	require.Equal(t, Deny, g.Check("letmein\n"))
	require.Equal(t, Deny, g.Check(""))
}

func TestVerify(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	ok, _ := g.Verify("whatever")
	require.True(t, ok)

	require.NoError(t, g.SetPassword("s3cret"))
	ok, msg := g.Verify("bad")
	require.False(t, ok)
	require.NotEmpty(t, msg)
	ok, _ = g.Verify("s3cret")
	require.True(t, ok)
}

func TestMiddleware(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, g.SetPassword("s3cret"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body struct {
		Error            string `json:"error"`
		RequiresPassword bool   `json:"requiresPassword"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.True(t, body.RequiresPassword)
	require.NotEmpty(t, body.Error)

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set(HeaderPassword, "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	require.NoError(t, g.SetPassword("s3cret"))
	h := g.BasicAuth("landrop", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("PROPFIND", "/dav/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "landrop")

	req := httptest.NewRequest("PROPFIND", "/dav/", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("anyone:s3cret")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthFallsBackToHeader(t *testing.T) {
	g := newTestGuard(t, afero.NewMemMapFs())
	require.NoError(t, g.SetPassword("s3cret"))
	h := g.BasicAuth("landrop", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("PROPFIND", "/dav/", nil)
	req.Header.Set(HeaderPassword, "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("PROPFIND", "/dav/", nil)
	req.Header.Set("Authorization", "Basic !!!")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckRejectsBytesPastLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := strings.Repeat("a", MaxPasswordLen)
	g := newTestGuard(t, fs)
	require.NoError(t, g.SetPassword(p))

	require.Equal(t, Allow, g.Check(p))
	require.Equal(t, Deny, g.Check(p+"x"))

	// no cached digest on a fresh guard
	g = newTestGuard(t, fs)
	require.Equal(t, Deny, g.Check(p+"garbage"))
	require.Equal(t, Allow, g.Check(p))
}

func TestObserveDecisions(t *testing.T) {
	var seen []Decision
	g, err := New(afero.NewMemMapFs(), Options{
		Cost:    bcrypt.MinCost,
		Observe: func(d Decision) { seen = append(seen, d) },
	})
	require.NoError(t, err)
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// nothing to observe while no password is set
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, seen)

	require.NoError(t, g.SetPassword("s3cret"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderPassword, "s3cret")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, []Decision{Deny, Allow}, seen)
}
