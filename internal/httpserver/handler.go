package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"landrop/internal/apperr"
	"landrop/internal/hierarchy"
	"landrop/internal/logging"
)

// errDone tells wrap the handler already wrote its response.
var errDone = errors.New("response written")

const maxJSONBody = 64 << 10

type message struct {
	Message string `json:"message"`
}

// wrap adapts a handler returning a value to http.HandlerFunc: the value is
// written as JSON with 200, an error through writeError.
func wrap[T any](s *Server, h func(w http.ResponseWriter, r *http.Request) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := h(w, r)
		if errors.Is(err, errDone) {
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindCapacity:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and a {"error": ...} body. Storage and
// unclassified errors never leak their cause to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	body := map[string]any{"error": apperr.Message(err, "internal error")}
	if kind == apperr.KindAuth {
		body["requiresPassword"] = true
	}

	log := logging.FromContext(r.Context(), s.zlog)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a small JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Wrap(apperr.KindValidation, "invalid JSON body", err)
	}
	return nil
}

// urlParam returns the decoded route parameter. chi matches on RawPath when
// it is set, so escaped segments need unescaping here.
func urlParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	u, err := url.PathUnescape(v)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "bad path escape", err)
	}
	return u, nil
}

// target resolves the {folder} and {name} parameters of a file route.
// Routes without {folder} address the root.
func target(r *http.Request) (hierarchy.Path, string, error) {
	folder, err := urlParam(r, "folder")
	if err != nil {
		return hierarchy.Root, "", err
	}
	p, err := hierarchy.ParsePath(folder)
	if err != nil {
		return hierarchy.Root, "", err
	}
	name, err := urlParam(r, "name")
	if err != nil {
		return hierarchy.Root, "", err
	}
	return p, name, nil
}
