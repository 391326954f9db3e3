package fsutil

import (
	"errors"
	"path"
	"strings"
)

// MaxNameLen is the longest single path segment common filesystems accept, in bytes.
const MaxNameLen = 255

var (
	ErrEmptyName   = errors.New("empty name")
	ErrInvalidName = errors.New("invalid name")
	ErrNameTooLong = errors.New("name too long")
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// safe, slash-based, no-leading-slash relative path ("" means root).
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Depth is the number of segments in p after cleaning; the root has depth 0.
func Depth(p string) int {
	rel := CleanRelPath(p)
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

// ValidName checks that name is a single path segment that can be joined
// under a directory without escaping it. Control characters are rejected.
func ValidName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") {
		return ErrInvalidName
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidName
		}
	}
	return nil
}

// FitsName reports ErrNameTooLong when name would exceed MaxNameLen on disk.
func FitsName(name string) error {
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

// BaseName strips any client-side directory components from an uploaded
// file name ("C:\\dir\\a.txt" and "dir/a.txt" both become "a.txt").
func BaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}
