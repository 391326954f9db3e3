// Package auth holds the optional shared access password. There are no
// accounts and no sessions: every request presents the password and the
// guard compares it against the stored one.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"landrop/internal/apperr"
)

const (
	// HeaderPassword carries the plain password on API requests.
	HeaderPassword = "X-Access-Password"

	PasswordFile = "password.txt"
	LockFile     = "password.lock"

	// MaxPasswordLen is the longest password bcrypt can hash.
	MaxPasswordLen = 72

	lockContent = "password_setup_completed"
)

type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Status is what a client needs to decide whether to show the first-run
// setup dialog or a password prompt.
type Status struct {
	RequiresPassword bool `json:"requiresPassword"`
	HasBeenAsked     bool `json:"hasBeenAsked"`
}

type Options struct {
	// Cost is the bcrypt cost for new passwords; 0 means bcrypt.DefaultCost.
	Cost   int
	Logger *zap.Logger
	// Observe, if set, sees every decision Middleware and BasicAuth make
	// while a password is required.
	Observe func(Decision)
}

// Guard is created once per process and shared by every handler.
type Guard struct {
	fs      afero.Fs
	cost    int
	logger  *zap.Logger
	observe func(Decision)

	mu     sync.RWMutex
	secret []byte // bcrypt hash, or the plain password from an older password.txt
	hashed bool
	asked  bool
	// sha256 of the last password that matched, so repeat requests skip bcrypt.
	verified    [sha256.Size]byte
	hasVerified bool
}

// Open loads the guard state from stateDir, creating the directory if needed.
func Open(stateDir string, opts Options) (*Guard, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), stateDir), opts)
}

// New loads the guard state from the root of fs.
func New(fs afero.Fs, opts Options) (*Guard, error) {
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observe == nil {
		opts.Observe = func(Decision) {}
	}
	g := &Guard{fs: fs, cost: opts.Cost, logger: opts.Logger, observe: opts.Observe}

	raw, err := afero.ReadFile(fs, PasswordFile)
	switch {
	case err == nil:
		secret := strings.TrimSpace(string(raw))
		if secret != "" {
			g.secret = []byte(secret)
			_, cerr := bcrypt.Cost(g.secret)
			g.hashed = cerr == nil
			if !g.hashed {
				g.logger.Warn("password file holds a plain-text password; set it again to store a hash")
			}
		}
	case errors.Is(err, iofs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", PasswordFile, err)
	}

	g.asked, err = afero.Exists(fs, LockFile)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", LockFile, err)
	}
	g.logger.Info("access guard loaded",
		zap.Bool("requiresPassword", g.secret != nil),
		zap.Bool("hasBeenAsked", g.asked))
	return g, nil
}

// Check allows anything while no password is set. Once one is set only the
// exact password is allowed; an empty credential is denied.
func (g *Guard) Check(presented string) Decision {
	g.mu.RLock()
	secret, hashed := g.secret, g.hashed
	verified, hasVerified := g.verified, g.hasVerified
	g.mu.RUnlock()

	if secret == nil {
		return Allow
	}
	if presented == "" {
		return Deny
	}
	if !hashed {
		if subtle.ConstantTimeCompare(secret, []byte(presented)) == 1 {
			return Allow
		}
		return Deny
	}
	// bcrypt ignores bytes past the limit, so longer input never matches
	if len(presented) > MaxPasswordLen {
		return Deny
	}

	sum := sha256.Sum256([]byte(presented))
	if hasVerified && subtle.ConstantTimeCompare(sum[:], verified[:]) == 1 {
		return Allow
	}
	if bcrypt.CompareHashAndPassword(secret, []byte(presented)) != nil {
		return Deny
	}

	g.mu.Lock()
	// the password may have changed while bcrypt ran
	if string(g.secret) == string(secret) {
		g.verified, g.hasVerified = sum, true
	}
	g.mu.Unlock()
	return Allow
}

// Verify reports whether p would pass Check, with a message for the client.
func (g *Guard) Verify(p string) (bool, string) {
	if !g.Status().RequiresPassword {
		return true, "no password required"
	}
	if g.Check(p) == Allow {
		return true, "password accepted"
	}
	return false, "wrong password"
}

// SetPassword stores a bcrypt hash of p and marks setup as asked.
func (g *Guard) SetPassword(p string) error {
	if p == "" {
		return apperr.Validation("password must not be empty")
	}
	if len(p) > MaxPasswordLen {
		return apperr.Validation(fmt.Sprintf("password must be at most %d bytes", MaxPasswordLen))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p), g.cost)
	if err != nil {
		return apperr.Storage("hash password", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := writeFileAtomic(g.fs, PasswordFile, hash); err != nil {
		return apperr.Storage("save password", err)
	}
	if err := g.markAskedLocked(); err != nil {
		return err
	}
	g.secret, g.hashed = hash, true
	g.hasVerified = false
	g.logger.Info("access password set")
	return nil
}

// SkipSetup records that the first-run dialog was answered without setting
// a password.
func (g *Guard) SkipSetup() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.markAskedLocked(); err != nil {
		return err
	}
	g.logger.Info("password setup skipped")
	return nil
}

func (g *Guard) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{RequiresPassword: g.secret != nil, HasBeenAsked: g.asked}
}

func (g *Guard) markAskedLocked() error {
	if g.asked {
		return nil
	}
	if err := afero.WriteFile(g.fs, LockFile, []byte(lockContent), 0o644); err != nil {
		return apperr.Storage("save setup flag", err)
	}
	g.asked = true
	return nil
}

func writeFileAtomic(fs afero.Fs, name string, data []byte) error {
	tmp := name + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o600); err != nil {
		return err
	}
	if err := fs.Rename(tmp, name); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// Middleware rejects requests whose X-Access-Password header does not pass
// Check with 401 and {"error": ..., "requiresPassword": true}.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Status().RequiresPassword {
			next.ServeHTTP(w, r)
			return
		}
		d := g.Check(r.Header.Get(HeaderPassword))
		g.observe(d)
		if d == Allow {
			next.ServeHTTP(w, r)
			return
		}
		g.logger.Debug("request denied", zap.String("path", r.URL.Path))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":            "access password required",
			"requiresPassword": true,
		})
	})
}

// BasicAuth gates clients that only speak HTTP Basic auth, such as WebDAV
// mounts. The user name is ignored; the password goes through Check.
func (g *Guard) BasicAuth(realm string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Status().RequiresPassword {
			next.ServeHTTP(w, r)
			return
		}
		_, p, ok := r.BasicAuth()
		if !ok {
			p = r.Header.Get(HeaderPassword)
		}
		d := g.Check(p)
		g.observe(d)
		if d == Allow {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}
