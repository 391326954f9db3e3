// Package hierarchy manages the uploads directory as a two-level tree: the
// root holds files and folders, folders hold files. Every name that is
// written goes through namecodec, and every name that is listed is decoded
// for display.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/search"

	"landrop/internal/apperr"
	"landrop/internal/fsutil"
	"landrop/internal/namecodec"
)

const (
	tempPrefix = ".landrop-"
	tempSuffix = ".tmp"
)

// StoredEntry is a file or folder as it exists on disk.
type StoredEntry struct {
	StoredName string    `json:"name"`
	IsDir      bool      `json:"isDirectory"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"uploadTime"`
}

// DisplayEntry adds the decoded, human-readable name.
type DisplayEntry struct {
	StoredEntry
	DisplayName string `json:"displayName"`
}

type Options struct {
	// FailOnCollision makes Rename and Move return a Conflict error instead
	// of replacing an entry that already has the destination name.
	FailOnCollision bool
	Now             func() time.Time
	Logger          *zap.Logger
}

type Store struct {
	fs              afero.Fs
	failOnCollision bool
	now             func() time.Time
	logger          *zap.Logger
}

// New creates a store over fs, whose root is the uploads directory.
func New(fs afero.Fs, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		fs:              fs,
		failOnCollision: opts.FailOnCollision,
		now:             opts.Now,
		logger:          opts.Logger,
	}
}

// OpenDir creates root if needed and returns a store jailed to it.
func OpenDir(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("uploads directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir %s: %w", abs, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), abs), opts), nil
}

// Fs returns the filesystem rooted at the uploads directory.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// List returns the entries directly under p: folders first, then files, each
// group ordered by display name.
func (s *Store) List(ctx context.Context, p Path) ([]DisplayEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.requireFolder(p, "folder not found"); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, p.String())
	if err != nil {
		return nil, apperr.Storage("read directory", err)
	}
	entries := make([]DisplayEntry, 0, len(infos))
	for _, info := range infos {
		if isTempName(info.Name()) {
			continue
		}
		entries = append(entries, project(info))
	}
	sortEntries(entries)
	return entries, nil
}

// CreateFolder creates a folder at the root.
func (s *Store) CreateFolder(ctx context.Context, name string) (DisplayEntry, error) {
	if err := ctx.Err(); err != nil {
		return DisplayEntry{}, err
	}
	if strings.TrimSpace(name) == "" {
		return DisplayEntry{}, apperr.Validation("folder name must not be empty")
	}
	if err := fsutil.ValidName(name); err != nil {
		return DisplayEntry{}, apperr.Wrap(apperr.KindValidation, "invalid folder name", err)
	}
	stored := namecodec.EncodeFolder(name)
	if err := fitsName(stored); err != nil {
		return DisplayEntry{}, err
	}
	target := Root.join(stored)

	exists, err := afero.Exists(s.fs, target)
	if err != nil {
		return DisplayEntry{}, apperr.Storage("stat folder", err)
	}
	if exists {
		return DisplayEntry{}, apperr.Conflict("folder already exists")
	}
	if err := s.fs.Mkdir(target, 0o755); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return DisplayEntry{}, apperr.Conflict("folder already exists")
		}
		return DisplayEntry{}, apperr.Storage("create folder", err)
	}
	s.logger.Info("folder created", zap.String("name", name), zap.String("stored", stored))
	return s.stat(Root, stored)
}

// PlaceUpload writes content under target as <encoded stem>_<unix ms><ext>.
// The folder must already exist.
func (s *Store) PlaceUpload(ctx context.Context, target Path, displayName string, content io.Reader) (DisplayEntry, error) {
	if err := ctx.Err(); err != nil {
		return DisplayEntry{}, err
	}
	name := fsutil.BaseName(displayName)
	if err := fsutil.ValidName(name); err != nil {
		return DisplayEntry{}, apperr.Wrap(apperr.KindValidation, "invalid file name", err)
	}
	stem, ext := namecodec.SplitExt(name)
	encoded := namecodec.EncodeStem(stem)
	ts := s.now().UnixMilli()
	if err := fitsName(fmt.Sprintf("%s_%d%s", encoded, ts, ext)); err != nil {
		return DisplayEntry{}, err
	}
	if err := s.requireFolder(target, "target folder not found"); err != nil {
		return DisplayEntry{}, err
	}

	tmp := target.join(tempPrefix + uuid.NewString() + tempSuffix)
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return DisplayEntry{}, apperr.Storage("create upload file", err)
	}
	_, err = io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		if apperr.KindOf(err) != apperr.KindUnknown || errors.Is(err, context.Canceled) {
			return DisplayEntry{}, err
		}
		return DisplayEntry{}, apperr.Storage("write upload", err)
	}

	var stored string
	for {
		stored = fmt.Sprintf("%s_%d%s", encoded, ts, ext)
		exists, err := afero.Exists(s.fs, target.join(stored))
		if err != nil {
			_ = s.fs.Remove(tmp)
			return DisplayEntry{}, apperr.Storage("stat upload", err)
		}
		if !exists {
			break
		}
		ts++
	}
	if err := s.fs.Rename(tmp, target.join(stored)); err != nil {
		_ = s.fs.Remove(tmp)
		return DisplayEntry{}, apperr.Storage("place upload", err)
	}
	s.logger.Info("file uploaded",
		zap.String("folder", target.Folder()),
		zap.String("name", name),
		zap.String("stored", stored))
	return s.stat(target, stored)
}

// Rename gives an entry a new display name within the same scope. Files keep
// their extension when the new name has none. An entry already holding the
// new stored name is replaced unless FailOnCollision is set.
func (s *Store) Rename(ctx context.Context, p Path, storedName, newDisplayName string) (DisplayEntry, error) {
	if err := ctx.Err(); err != nil {
		return DisplayEntry{}, err
	}
	if err := fsutil.ValidName(storedName); err != nil {
		return DisplayEntry{}, apperr.Wrap(apperr.KindValidation, "invalid name", err)
	}
	if strings.TrimSpace(newDisplayName) == "" {
		return DisplayEntry{}, apperr.Validation("new name must not be empty")
	}
	if err := fsutil.ValidName(newDisplayName); err != nil {
		return DisplayEntry{}, apperr.Wrap(apperr.KindValidation, "invalid new name", err)
	}

	src := p.join(storedName)
	info, err := s.fs.Stat(src)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return DisplayEntry{}, apperr.NotFound("file not found")
		}
		return DisplayEntry{}, apperr.Storage("stat source", err)
	}

	var newStored string
	if info.IsDir() {
		if !p.IsRoot() {
			return DisplayEntry{}, apperr.Validation("folders cannot be nested")
		}
		newStored = namecodec.EncodeFolder(newDisplayName)
	} else {
		stem, ext := namecodec.SplitExt(newDisplayName)
		if ext == "" {
			_, ext = namecodec.SplitExt(storedName)
		}
		newStored = namecodec.EncodeStem(stem) + ext
	}
	if newStored == storedName {
		return project(info), nil
	}
	if err := fitsName(newStored); err != nil {
		return DisplayEntry{}, err
	}

	if err := s.relocate(src, p.join(newStored), info); err != nil {
		return DisplayEntry{}, err
	}
	s.logger.Info("entry renamed",
		zap.String("folder", p.Folder()),
		zap.String("from", storedName),
		zap.String("to", newStored))
	return s.stat(p, newStored)
}

// Move relocates an entry to dst keeping its stored name. Folders can only
// live at the root.
func (s *Store) Move(ctx context.Context, src Path, storedName string, dst Path) (DisplayEntry, error) {
	if err := ctx.Err(); err != nil {
		return DisplayEntry{}, err
	}
	if err := fsutil.ValidName(storedName); err != nil {
		return DisplayEntry{}, apperr.Wrap(apperr.KindValidation, "invalid name", err)
	}
	if err := s.requireFolder(dst, "target folder not found"); err != nil {
		return DisplayEntry{}, err
	}
	from := src.join(storedName)
	info, err := s.fs.Stat(from)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return DisplayEntry{}, apperr.NotFound("source not found")
		}
		return DisplayEntry{}, apperr.Storage("stat source", err)
	}
	if info.IsDir() && !dst.IsRoot() {
		return DisplayEntry{}, apperr.Validation("folders cannot be nested")
	}
	if src == dst {
		return project(info), nil
	}
	if err := s.relocate(from, dst.join(storedName), info); err != nil {
		return DisplayEntry{}, err
	}
	s.logger.Info("entry moved",
		zap.String("name", storedName),
		zap.String("from", src.String()),
		zap.String("to", dst.String()))
	return s.stat(dst, storedName)
}

// Delete removes a file, or a folder with its contents. Deleting an entry
// that does not exist succeeds.
func (s *Store) Delete(ctx context.Context, p Path, storedName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fsutil.ValidName(storedName); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid name", err)
	}
	if err := s.fs.RemoveAll(p.join(storedName)); err != nil {
		return apperr.Storage("delete", err)
	}
	s.logger.Info("entry deleted", zap.String("folder", p.Folder()), zap.String("name", storedName))
	return nil
}

// Open returns a file for reading together with its entry. The caller closes
// the file.
func (s *Store) Open(ctx context.Context, p Path, storedName string) (afero.File, DisplayEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, DisplayEntry{}, err
	}
	if err := fsutil.ValidName(storedName); err != nil {
		return nil, DisplayEntry{}, apperr.Wrap(apperr.KindValidation, "invalid name", err)
	}
	name := p.join(storedName)
	info, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, DisplayEntry{}, apperr.NotFound("file not found")
		}
		return nil, DisplayEntry{}, apperr.Storage("stat file", err)
	}
	if info.IsDir() {
		return nil, DisplayEntry{}, apperr.Validation("is a folder")
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, DisplayEntry{}, apperr.Storage("open file", err)
	}
	return f, project(info), nil
}

// SearchHit is an entry found by Search together with the folder holding it.
type SearchHit struct {
	DisplayEntry
	Folder            string `json:"folder"`
	FolderDisplayName string `json:"folderDisplayName,omitempty"`
}

// Search walks the root and every folder and returns entries whose display
// name contains q, ignoring case and width. At most limit hits are returned
// when limit > 0.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]SearchHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []SearchHit{}, nil
	}
	m := search.New(language.Und, search.Loose)
	matches := func(name string) bool {
		start, _ := m.IndexString(name, q)
		return start >= 0
	}

	roots, err := s.List(ctx, Root)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, 16)
	add := func(h SearchHit) bool {
		hits = append(hits, h)
		return limit > 0 && len(hits) >= limit
	}
	for _, e := range roots {
		if matches(e.DisplayName) && add(SearchHit{DisplayEntry: e}) {
			return hits, nil
		}
	}
	for _, dir := range roots {
		if !dir.IsDir {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := Path{folder: dir.StoredName}
		entries, err := s.List(ctx, p)
		if err != nil {
			// removed while we were walking
			if apperr.KindOf(err) == apperr.KindNotFound {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !matches(e.DisplayName) {
				continue
			}
			if add(SearchHit{DisplayEntry: e, Folder: dir.StoredName, FolderDisplayName: dir.DisplayName}) {
				return hits, nil
			}
		}
	}
	return hits, nil
}

// relocate renames src onto dst. An existing dst of the same kind is
// replaced: files are swapped atomically by the rename itself, folders are
// removed first. A file never replaces a folder or the other way round.
func (s *Store) relocate(src, dst string, srcInfo os.FileInfo) error {
	dstInfo, err := s.fs.Stat(dst)
	if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return apperr.Storage("stat destination", err)
	}
	// A case-only rename on a case-insensitive filesystem stats as the same file.
	if err == nil && !os.SameFile(srcInfo, dstInfo) {
		if dstInfo.IsDir() != srcInfo.IsDir() {
			return apperr.Conflict("destination is occupied by an entry of another kind")
		}
		if s.failOnCollision {
			return apperr.Conflict("destination already exists")
		}
		s.logger.Warn("replacing existing entry", zap.String("path", dst))
		if dstInfo.IsDir() {
			if err := s.fs.RemoveAll(dst); err != nil {
				return apperr.Storage("replace destination", err)
			}
		}
	}
	if err := s.fs.Rename(src, dst); err != nil {
		return apperr.Storage("rename", err)
	}
	return nil
}

// fitsName rejects stored names the filesystem would refuse as too long.
func fitsName(stored string) error {
	if err := fsutil.FitsName(stored); err != nil {
		return apperr.Wrap(apperr.KindValidation,
			fmt.Sprintf("name too long once stored (%d bytes, limit %d)", len(stored), fsutil.MaxNameLen), err)
	}
	return nil
}

func (s *Store) requireFolder(p Path, msg string) error {
	if p.IsRoot() {
		return nil
	}
	info, err := s.fs.Stat(p.String())
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return apperr.NotFound(msg)
		}
		return apperr.Storage("stat folder", err)
	}
	if !info.IsDir() {
		return apperr.Validation("not a folder")
	}
	return nil
}

func (s *Store) stat(p Path, storedName string) (DisplayEntry, error) {
	info, err := s.fs.Stat(p.join(storedName))
	if err != nil {
		return DisplayEntry{}, apperr.Storage("stat entry", err)
	}
	return project(info), nil
}

func project(info os.FileInfo) DisplayEntry {
	name := info.Name()
	e := DisplayEntry{
		StoredEntry: StoredEntry{
			StoredName: name,
			IsDir:      info.IsDir(),
			CreatedAt:  info.ModTime(),
		},
	}
	if info.IsDir() {
		e.DisplayName = namecodec.DecodeFolder(name)
	} else {
		e.Size = info.Size()
		e.DisplayName = namecodec.Decode(name)
	}
	return e
}

func sortEntries(entries []DisplayEntry) {
	c := collate.New(language.Und)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		if r := c.CompareString(a.DisplayName, b.DisplayName); r != 0 {
			return r < 0
		}
		return a.StoredName < b.StoredName
	})
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}
