// Package upload streams multipart uploads into the hierarchy store without
// buffering whole files in memory.
//
// The form carries up to Limits.MaxFiles "file" parts and an optional
// "targetFolder" field naming a stored folder. targetFolder must come before
// the file parts since parts are consumed as they arrive.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"landrop/internal/apperr"
	"landrop/internal/hierarchy"
	"landrop/internal/namecodec"
)

const (
	FieldFile   = "file"
	FieldTarget = "targetFolder"

	// room for multipart headers and small fields on top of the file bodies
	formOverhead = 1 << 20
	maxFieldSize = 4 << 10
)

// Store is the part of hierarchy.Store an upload needs.
type Store interface {
	PlaceUpload(ctx context.Context, target hierarchy.Path, displayName string, content io.Reader) (hierarchy.DisplayEntry, error)
	Delete(ctx context.Context, p hierarchy.Path, storedName string) error
}

type Limits struct {
	MaxFileSize int64
	MaxFiles    int
}

// Result describes one stored file.
type Result struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	DisplayName  string `json:"displayName"`
	Size         int64  `json:"size"`
}

type Receiver struct {
	store  Store
	limits Limits
	logger *zap.Logger
}

func NewReceiver(store Store, limits Limits, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{store: store, limits: limits, logger: logger}
}

// Receive stores every file part of r. If any part fails, files already
// stored by this request are removed again and the error is returned.
func (rc *Receiver) Receive(w http.ResponseWriter, r *http.Request) (hierarchy.Path, []Result, error) {
	ctx := r.Context()
	if rc.limits.MaxFiles > 0 && rc.limits.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(rc.limits.MaxFiles)*rc.limits.MaxFileSize+formOverhead)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return hierarchy.Root, nil, apperr.Wrap(apperr.KindValidation, "expected multipart/form-data", err)
	}

	target := hierarchy.Root
	var results []Result
	fail := func(err error) (hierarchy.Path, []Result, error) {
		rc.rollback(target, results)
		return hierarchy.Root, nil, classify(err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}

		switch part.FormName() {
		case FieldTarget:
			if len(results) > 0 {
				_ = part.Close()
				return fail(apperr.Validation("targetFolder must precede the file parts"))
			}
			v, err := readField(part)
			_ = part.Close()
			if err != nil {
				return fail(err)
			}
			if target, err = hierarchy.ParsePath(strings.TrimSpace(v)); err != nil {
				return fail(err)
			}

		case FieldFile:
			if rc.limits.MaxFiles > 0 && len(results) >= rc.limits.MaxFiles {
				_ = part.Close()
				return fail(apperr.Capacity(fmt.Sprintf("at most %d files per upload", rc.limits.MaxFiles)))
			}
			original := namecodec.RepairLatin1(part.FileName())
			body := &capReader{r: part, max: rc.limits.MaxFileSize}
			entry, err := rc.store.PlaceUpload(ctx, target, original, body)
			_ = part.Close()
			if err != nil {
				return fail(err)
			}
			results = append(results, Result{
				Filename:     entry.StoredName,
				OriginalName: original,
				DisplayName:  entry.DisplayName,
				Size:         entry.Size,
			})

		default:
			_ = part.Close()
		}
	}

	if len(results) == 0 {
		return hierarchy.Root, nil, apperr.Validation("no files uploaded")
	}
	return target, results, nil
}

func (rc *Receiver) rollback(target hierarchy.Path, results []Result) {
	for _, res := range results {
		// the request context may already be gone
		if err := rc.store.Delete(context.Background(), target, res.Filename); err != nil {
			rc.logger.Warn("rollback failed", zap.String("name", res.Filename), zap.Error(err))
		}
	}
}

func classify(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.Wrap(apperr.KindCapacity, "upload too large", err)
	}
	if apperr.KindOf(err) != apperr.KindUnknown || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(apperr.KindValidation, "malformed upload", err)
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFieldSize+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFieldSize {
		return "", apperr.Validation("form field too long")
	}
	return string(b), nil
}

// capReader fails with a Capacity error once more than max bytes are read.
// max <= 0 means unlimited.
type capReader struct {
	r    io.Reader
	max  int64
	read int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.max > 0 && c.read > c.max {
		return n, apperr.Capacity(fmt.Sprintf("file exceeds %d bytes", c.max))
	}
	return n, err
}
