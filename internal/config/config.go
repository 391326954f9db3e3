package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen      = "0.0.0.0:2333"
	DefaultMaxFileSize = 100 << 20
	DefaultMaxFiles    = 10
)

// Config is loaded from YAML; command line flags override it.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// UploadsDir is the root of the uploads tree. It is the only record of
	// what has been uploaded.
	UploadsDir string `yaml:"uploadsDir" json:"uploadsDir"`

	// StateDir holds password.txt, password.lock and the thumbnail cache.
	StateDir string `yaml:"stateDir" json:"stateDir"`

	// PublicDir is served at / for the browser UI. Missing is fine.
	PublicDir string `yaml:"publicDir" json:"publicDir"`

	// MaxFileSize caps each uploaded file in bytes.
	MaxFileSize int64 `yaml:"maxFileSize" json:"maxFileSize"`
	// MaxFiles caps the number of files in one upload request.
	MaxFiles int `yaml:"maxFiles" json:"maxFiles"`

	BcryptCost int `yaml:"bcryptCost" json:"bcryptCost"`

	// FailOnCollision makes rename and move refuse to replace an existing
	// entry instead of overwriting it.
	FailOnCollision bool `yaml:"failOnCollision" json:"failOnCollision,omitempty"`

	// AllowedIPs restricts clients by remote address. Empty allows all.
	AllowedIPs []string `yaml:"allowedIPs" json:"allowedIPs,omitempty"`

	// WebDAV mounts the uploads tree at /dav/.
	WebDAV bool `yaml:"webdav" json:"webdav,omitempty"`

	Log Log `yaml:"log" json:"log"`

	// FTP enables the FTP listener when set.
	FTP *ftpserver.Settings `yaml:"ftp" json:"ftp,omitempty"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	// Enabled starts the server with request logging on; it can be toggled
	// at runtime.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

func Default() Config {
	return Config{
		Listen:      DefaultListen,
		UploadsDir:  "uploads",
		StateDir:    ".",
		PublicDir:   "public",
		MaxFileSize: DefaultMaxFileSize,
		MaxFiles:    DefaultMaxFiles,
		BcryptCost:  bcrypt.DefaultCost,
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load starts from Default and applies each existing file in order:
// configPaths, then config.yml in the working directory, then $CONFIG_FILE.
// Later files override earlier ones field by field.
func Load(configPaths ...string) (Config, error) {
	c := Default()

	cwd, _ := os.Getwd()
	configPaths = append(configPaths, filepath.Join(cwd, "config.yml"))
	if envConfigFile := os.Getenv("CONFIG_FILE"); envConfigFile != "" {
		configPaths = append(configPaths, envConfigFile)
	}

	for _, configPath := range configPaths {
		if configPath == "" {
			continue
		}
		d, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(d, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("config: listen is required")
	case c.UploadsDir == "":
		return errors.New("config: uploadsDir is required")
	case c.StateDir == "":
		return errors.New("config: stateDir is required")
	case c.MaxFileSize <= 0:
		return fmt.Errorf("config: maxFileSize must be positive, got %d", c.MaxFileSize)
	case c.MaxFiles <= 0:
		return fmt.Errorf("config: maxFiles must be positive, got %d", c.MaxFiles)
	case c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost:
		return fmt.Errorf("config: bcryptCost %d out of range (min=%d max=%d)", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	case c.FTP != nil && c.FTP.ListenAddr == "":
		return errors.New("config: ftp.listenaddr is required when ftp is set")
	}
	return nil
}

// ThumbDir is where generated thumbnails are cached.
func (c Config) ThumbDir() string {
	return filepath.Join(c.StateDir, "thumbs")
}
