package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"landrop/internal/apperr"
	"landrop/internal/auth"
	"landrop/internal/hierarchy"
	"landrop/internal/logging"
	"landrop/internal/metrics"
	"landrop/internal/upload"
)

const defaultSearchLimit = 200

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleCheckPassword(w http.ResponseWriter, r *http.Request) (auth.Status, error) {
	return s.guard.Status(), nil
}

type verifyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

func (s *Server) handleVerifyPassword(w http.ResponseWriter, r *http.Request) (verifyResponse, error) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return verifyResponse{}, err
	}
	ok, msg := s.guard.Verify(req.Password)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Valid: false, Message: msg})
		return verifyResponse{}, errDone
	}
	return verifyResponse{Valid: true, Message: msg}, nil
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) (message, error) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return message{}, err
	}
	if err := s.guard.SetPassword(req.Password); err != nil {
		return message{}, err
	}
	return message{Message: "password set"}, nil
}

func (s *Server) handleSkipPassword(w http.ResponseWriter, r *http.Request) (message, error) {
	if err := s.guard.SkipSetup(); err != nil {
		return message{}, err
	}
	return message{Message: "password setup skipped"}, nil
}

type loggingStatus struct {
	LoggingEnabled bool   `json:"loggingEnabled"`
	Message        string `json:"message,omitempty"`
}

func (s *Server) handleLoggingStatus(w http.ResponseWriter, r *http.Request) (loggingStatus, error) {
	return loggingStatus{LoggingEnabled: s.log.Enabled()}, nil
}

func (s *Server) handleToggleLogging(w http.ResponseWriter, r *http.Request) (loggingStatus, error) {
	on := s.log.Toggle()
	msg := "logging disabled"
	if on {
		msg = "logging enabled"
	}
	return loggingStatus{LoggingEnabled: on, Message: msg}, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) ([]hierarchy.DisplayEntry, error) {
	p, _, err := target(r)
	if err != nil {
		return nil, err
	}
	return s.store.List(r.Context(), p)
}

type createFolderRequest struct {
	FolderName string `json:"folderName"`
}

type createFolderResponse struct {
	Message    string                 `json:"message"`
	FolderName string                 `json:"folderName"`
	Entry      hierarchy.DisplayEntry `json:"entry"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) (createFolderResponse, error) {
	var req createFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return createFolderResponse{}, err
	}
	e, err := s.store.CreateFolder(r.Context(), req.FolderName)
	metrics.RecordOperation("mkdir", err == nil)
	if err != nil {
		return createFolderResponse{}, err
	}
	return createFolderResponse{Message: "folder created", FolderName: e.StoredName, Entry: e}, nil
}

type uploadResponse struct {
	Message string          `json:"message"`
	Files   []upload.Result `json:"files"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) (uploadResponse, error) {
	p, results, err := s.uploads.Receive(w, r)
	if err != nil {
		metrics.RecordUpload(0, false)
		return uploadResponse{}, err
	}
	for _, res := range results {
		metrics.RecordUpload(res.Size, true)
	}
	logging.FromContext(r.Context(), s.zlog).Info("files uploaded",
		zap.Stringer("folder", p), zap.Int("count", len(results)))
	return uploadResponse{
		Message: fmt.Sprintf("%d file(s) uploaded", len(results)),
		Files:   results,
	}, nil
}

type renameRequest struct {
	NewName string `json:"newName"`
}

type renameResponse struct {
	Message string                 `json:"message"`
	NewName string                 `json:"newName"`
	Entry   hierarchy.DisplayEntry `json:"entry"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) (renameResponse, error) {
	p, name, err := target(r)
	if err != nil {
		return renameResponse{}, err
	}
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return renameResponse{}, err
	}
	e, err := s.store.Rename(r.Context(), p, name, req.NewName)
	metrics.RecordOperation("rename", err == nil)
	if err != nil {
		return renameResponse{}, err
	}
	return renameResponse{Message: "renamed", NewName: e.StoredName, Entry: e}, nil
}

type moveRequest struct {
	// nil when the field is missing; "" moves to the root
	TargetFolder *string `json:"targetFolder"`
}

type moveResponse struct {
	Message string                 `json:"message"`
	Entry   hierarchy.DisplayEntry `json:"entry"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) (moveResponse, error) {
	src, name, err := target(r)
	if err != nil {
		return moveResponse{}, err
	}
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return moveResponse{}, err
	}
	if req.TargetFolder == nil {
		return moveResponse{}, apperr.Validation("targetFolder is required")
	}
	dst, err := hierarchy.ParsePath(strings.TrimSpace(*req.TargetFolder))
	if err != nil {
		return moveResponse{}, err
	}
	e, err := s.store.Move(r.Context(), src, name, dst)
	metrics.RecordOperation("move", err == nil)
	if err != nil {
		return moveResponse{}, err
	}
	return moveResponse{Message: "moved", Entry: e}, nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) (message, error) {
	p, name, err := target(r)
	if err != nil {
		return message{}, err
	}
	err = s.store.Delete(r.Context(), p, name)
	metrics.RecordOperation("delete", err == nil)
	if err != nil {
		return message{}, err
	}
	return message{Message: "deleted"}, nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) (struct{}, error) {
	p, name, err := target(r)
	if err != nil {
		return struct{}{}, err
	}
	f, e, err := s.store.Open(r.Context(), p, name)
	if err != nil {
		return struct{}{}, err
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeForName(e.DisplayName))
	w.Header().Set("Content-Disposition", attachment(e.DisplayName))
	cw := &countingWriter{ResponseWriter: w}
	serveContent(cw, r, e, f)
	metrics.RecordDownload(cw.n)
	return struct{}{}, errDone
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) ([]hierarchy.SearchHit, error) {
	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, apperr.Validation("limit must be a positive integer")
		}
		limit = min(n, defaultSearchLimit)
	}
	return s.store.Search(r.Context(), r.URL.Query().Get("q"), limit)
}
