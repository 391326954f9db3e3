// Package davfs serves an afero.Fs as a webdav.FileSystem.
package davfs

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

// hidden entries are in-flight uploads of the hierarchy store
const (
	hiddenPrefix = ".landrop-"
	hiddenSuffix = ".tmp"
)

var _ webdav.FileSystem = (*FS)(nil)

type FS struct {
	fs     afero.Fs
	logger *zap.Logger
}

func New(fs afero.Fs, logger *zap.Logger) *FS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FS{fs: fs, logger: logger.Named("webdav")}
}

func (d *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.fs.Mkdir(name, perm)
}

func (d *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if isHidden(name) {
		return nil, os.ErrNotExist
	}
	f, err := d.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		d.logger.Debug("open for write", zap.String("name", name))
	}
	return file{File: f}, nil
}

func (d *FS) RemoveAll(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// webdav.Handler never passes "/" here, but a bad client path could
	// clean to it.
	if strings.Trim(name, "/") == "" {
		return os.ErrPermission
	}
	return d.fs.RemoveAll(name)
}

func (d *FS) Rename(ctx context.Context, oldName, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.fs.Rename(oldName, newName)
}

func (d *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if isHidden(name) {
		return nil, os.ErrNotExist
	}
	return d.fs.Stat(name)
}

func isHidden(name string) bool {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.HasPrefix(name, hiddenPrefix) && strings.HasSuffix(name, hiddenSuffix)
}

// file drops hidden entries from directory listings.
type file struct {
	afero.File
}

func (f file) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	out := infos[:0]
	for _, fi := range infos {
		if !isHidden(fi.Name()) {
			out = append(out, fi)
		}
	}
	return out, err
}
