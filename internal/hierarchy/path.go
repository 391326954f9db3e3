package hierarchy

import (
	"landrop/internal/apperr"
	"landrop/internal/fsutil"
)

// Path scopes an operation to the root of the uploads directory or to one
// folder directly under it. The zero value is Root.
type Path struct {
	folder string
}

var Root = Path{}

// ParsePath turns a stored folder name into a Path; "" means Root.
func ParsePath(folder string) (Path, error) {
	if folder == "" {
		return Root, nil
	}
	if err := fsutil.ValidName(folder); err != nil {
		return Path{}, apperr.Wrap(apperr.KindValidation, "invalid folder name", err)
	}
	return Path{folder: folder}, nil
}

func (p Path) IsRoot() bool { return p.folder == "" }

// Folder is the stored folder name, "" for Root.
func (p Path) Folder() string { return p.folder }

func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	return "/" + p.folder
}

func (p Path) join(name string) string {
	if p.IsRoot() {
		return "/" + name
	}
	return "/" + p.folder + "/" + name
}
