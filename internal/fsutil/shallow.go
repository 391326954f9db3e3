package fsutil

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrTooDeep is returned when an operation would create a folder inside a
// folder, or a file below the first folder level.
var ErrTooDeep = errors.New("folders cannot be nested")

var _ afero.Fs = ShallowFs{}

// ShallowFs exposes an afero.Fs while keeping the tree at most one folder
// deep: folders live at the root and files live at the root or inside one
// folder. It is what WebDAV and FTP clients see.
type ShallowFs struct {
	fs     afero.Fs
	logger *zap.Logger
}

func NewShallowFs(fs afero.Fs, logger *zap.Logger) afero.Fs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ShallowFs{fs: fs, logger: logger}
}

func (s ShallowFs) deny(op, name string) error {
	s.logger.Debug("depth limit", zap.String("op", op), zap.String("name", name))
	return &os.PathError{Op: op, Path: name, Err: ErrTooDeep}
}

func (s ShallowFs) Create(name string) (afero.File, error) {
	if Depth(name) > 2 {
		return nil, s.deny("create", name)
	}
	return s.fs.Create(name)
}

func (s ShallowFs) Mkdir(name string, perm os.FileMode) error {
	if Depth(name) > 1 {
		return s.deny("mkdir", name)
	}
	return s.fs.Mkdir(name, perm)
}

func (s ShallowFs) MkdirAll(path string, perm os.FileMode) error {
	if Depth(path) > 1 {
		return s.deny("mkdirall", path)
	}
	return s.fs.MkdirAll(path, perm)
}

func (s ShallowFs) Open(name string) (afero.File, error) {
	return s.fs.Open(name)
}

func (s ShallowFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 && Depth(name) > 2 {
		return nil, s.deny("open", name)
	}
	return s.fs.OpenFile(name, flag, perm)
}

func (s ShallowFs) Remove(name string) error {
	return s.fs.Remove(name)
}

func (s ShallowFs) RemoveAll(path string) error {
	return s.fs.RemoveAll(path)
}

func (s ShallowFs) Rename(oldname, newname string) error {
	info, err := s.fs.Stat(oldname)
	if err != nil {
		return err
	}
	limit := 2
	if info.IsDir() {
		limit = 1
	}
	if Depth(newname) > limit {
		return s.deny("rename", newname)
	}
	return s.fs.Rename(oldname, newname)
}

func (s ShallowFs) Stat(name string) (os.FileInfo, error) {
	return s.fs.Stat(name)
}

func (s ShallowFs) Name() string {
	return "ShallowFs(" + s.fs.Name() + ")"
}

func (s ShallowFs) Chmod(name string, mode os.FileMode) error {
	return s.fs.Chmod(name, mode)
}

func (s ShallowFs) Chown(name string, uid, gid int) error {
	return s.fs.Chown(name, uid, gid)
}

func (s ShallowFs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return s.fs.Chtimes(name, atime, mtime)
}
