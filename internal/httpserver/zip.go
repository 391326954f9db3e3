package httpserver

import (
	"archive/zip"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"landrop/internal/apperr"
	"landrop/internal/hierarchy"
	"landrop/internal/logging"
	"landrop/internal/metrics"
	"landrop/internal/namecodec"
)

// handleZip streams every file of one folder as a zip archive whose entries
// carry display names.
func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) (struct{}, error) {
	p, _, err := target(r)
	if err != nil {
		return struct{}{}, err
	}
	if p.IsRoot() {
		return struct{}{}, apperr.Validation("folder is required")
	}
	entries, err := s.store.List(r.Context(), p)
	if err != nil {
		return struct{}{}, err
	}

	base := sanitizeZipBaseName(namecodec.DecodeFolder(p.Folder()))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(base+".zip"))

	log := logging.FromContext(r.Context(), s.zlog)
	cw := &countingWriter{ResponseWriter: w}
	zw := zip.NewWriter(cw)
	used := make(map[string]int)
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if err := r.Context().Err(); err != nil {
			break
		}
		name := uniqueZipName(used, sanitizeZipPath(e.DisplayName))
		if name == "" {
			continue
		}
		if err := s.addZipEntry(r, zw, p, e.StoredName, name); err != nil {
			// headers are gone; all we can do is stop and log
			log.Warn("zip aborted", zap.String("name", e.StoredName), zap.Error(err))
			break
		}
	}
	if err := zw.Close(); err != nil {
		log.Debug("zip close", zap.Error(err))
	}
	metrics.RecordDownload(cw.n)
	return struct{}{}, errDone
}

func (s *Server) addZipEntry(r *http.Request, zw *zip.Writer, p hierarchy.Path, stored, name string) error {
	f, e, err := s.store.Open(r.Context(), p, stored)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: e.CreatedAt}
	// names are UTF-8
	hdr.Flags |= 0x800
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

func uniqueZipName(used map[string]int, name string) string {
	if name == "" {
		return ""
	}
	n, seen := used[name]
	used[name] = n + 1
	if !seen {
		return name
	}
	stem, ext := namecodec.SplitExt(name)
	return stem + " (" + strconv.Itoa(n+1) + ")" + ext
}

func sanitizeZipBaseName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".zip")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.Trim(s, ". ")
	if s == "" {
		return "download"
	}
	return s
}

func sanitizeZipPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	p = strings.ReplaceAll(p, "\x00", "")
	p = strings.ReplaceAll(p, "/", "-")
	if p == "." || p == "" {
		return ""
	}
	return p
}
