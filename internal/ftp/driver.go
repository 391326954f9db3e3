// Package ftp exposes the uploads tree over FTP. Any user name is accepted;
// the password is the shared access password, if one is set.
package ftp

import (
	"crypto/tls"
	"errors"

	ftpserver "github.com/fclairamb/ftpserverlib"
	logzap "github.com/fclairamb/go-log/zap"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"landrop/internal/auth"
	"landrop/internal/fsutil"
	"landrop/internal/metrics"
)

var _ ftpserver.MainDriver = (*Driver)(nil)

var ErrBadPassword = errors.New("invalid password")

// Checker decides whether a presented password grants access.
type Checker interface {
	Check(presented string) auth.Decision
}

type Driver struct {
	settings *ftpserver.Settings
	fs       afero.Fs
	guard    Checker

	logger *zap.Logger
}

func NewDriver(settings *ftpserver.Settings, fs afero.Fs, guard Checker, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		settings: settings,
		fs:       fsutil.NewShallowFs(fs, logger),
		guard:    guard,
		logger:   logger,
	}
}

// NewServer builds an FTP server for d logging through logger.
func NewServer(d *Driver, logger *zap.Logger) *ftpserver.FtpServer {
	s := ftpserver.NewFtpServer(d)
	s.Logger = logzap.NewWrap(logger.Named("ftp").Sugar())
	return s
}

func (d *Driver) GetSettings() (*ftpserver.Settings, error) {
	return d.settings, nil
}

func (d *Driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	d.logger.Info("ftp client connected",
		zap.Uint32("id", cc.ID()),
		zap.Stringer("remote", cc.RemoteAddr()))
	metrics.FTPClientConnected()
	return "landrop", nil
}

func (d *Driver) ClientDisconnected(cc ftpserver.ClientContext) {
	d.logger.Info("ftp client disconnected", zap.Uint32("id", cc.ID()))
	metrics.FTPClientDisconnected()
}

func (d *Driver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	logger := d.logger.With(zap.String("user", user), zap.Uint32("id", cc.ID()))
	if d.guard.Check(pass) != auth.Allow {
		logger.Info("ftp login rejected")
		return nil, ErrBadPassword
	}
	logger.Debug("ftp login")
	return d.fs, nil
}

func (d *Driver) GetTLSConfig() (*tls.Config, error) {
	return nil, nil
}
