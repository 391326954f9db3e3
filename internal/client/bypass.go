package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// BypassTTL is how long a verified password is resent without prompting.
const BypassTTL = 24 * time.Hour

// BypassToken is a password the server accepted, kept on the client so the
// user is not prompted on every request. The server knows nothing about it.
type BypassToken struct {
	Password string    `json:"password"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Valid reports whether the token may still be used at now.
func (t BypassToken) Valid(now time.Time) bool {
	return t.Password != "" && now.Sub(t.IssuedAt) < BypassTTL
}

// BypassCache persists tokens per server URL in one JSON file.
type BypassCache struct {
	fs   afero.Fs
	path string
	now  func() time.Time

	mu sync.Mutex
}

// DefaultCachePath is bypass.json under the user config directory.
func DefaultCachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("locate config dir: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "landrop", "bypass.json"), nil
}

func NewBypassCache(fs afero.Fs, path string, now func() time.Time) *BypassCache {
	if now == nil {
		now = time.Now
	}
	return &BypassCache{fs: fs, path: path, now: now}
}

// OpenBypassCache uses the file at path on the local disk.
func OpenBypassCache(path string) *BypassCache {
	return NewBypassCache(afero.NewOsFs(), path, nil)
}

func serverKey(server string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(server)), "/")
}

// Get returns the cached password for server if its token is still valid.
func (c *BypassCache) Get(server string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens, err := c.load()
	if err != nil {
		return "", false
	}
	t, ok := tokens[serverKey(server)]
	if !ok || !t.Valid(c.now()) {
		return "", false
	}
	return t.Password, true
}

// Put records password for server, issued now. Expired entries of other
// servers are dropped on the way.
func (c *BypassCache) Put(server, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens, err := c.load()
	if err != nil {
		tokens = map[string]BypassToken{}
	}
	now := c.now()
	for k, t := range tokens {
		if !t.Valid(now) {
			delete(tokens, k)
		}
	}
	tokens[serverKey(server)] = BypassToken{Password: password, IssuedAt: now}
	return c.save(tokens)
}

// Forget drops the token for server.
func (c *BypassCache) Forget(server string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens, err := c.load()
	if err != nil {
		return nil
	}
	if _, ok := tokens[serverKey(server)]; !ok {
		return nil
	}
	delete(tokens, serverKey(server))
	return c.save(tokens)
}

func (c *BypassCache) load() (map[string]BypassToken, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]BypassToken{}, nil
	}
	if err != nil {
		return nil, err
	}
	tokens := map[string]BypassToken{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.path, err)
	}
	return tokens, nil
}

func (c *BypassCache) save(tokens map[string]BypassToken) error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(c.fs, c.path, data, 0o600)
}
