package httpserver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"landrop/internal/apperr"
	"landrop/internal/logging"
	"landrop/internal/metrics"
)

const (
	thumbMax = 256
	// larger sources are not decoded
	thumbMaxSource = 40 << 20
)

var errNotImage = errors.New("not a supported image")

// thumbCache keeps generated JPEG thumbnails keyed by location and mtime, so
// a replaced file gets a fresh thumbnail.
type thumbCache struct {
	fs afero.Fs
}

func newThumbCache(dir string) (*thumbCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumb dir %s: %w", dir, err)
	}
	return &thumbCache{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}, nil
}

// thumbKey names the cached thumbnail for an entry. The location is hashed
// so distinct folder/name pairs never share a file.
func thumbKey(folder, name string, modUnix int64) string {
	sum := sha256.Sum256([]byte(folder + "\x00" + name))
	return fmt.Sprintf("%s-%d.jpg", hex.EncodeToString(sum[:16]), modUnix)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) (struct{}, error) {
	p, name, err := target(r)
	if err != nil {
		return struct{}{}, err
	}
	f, e, err := s.store.Open(r.Context(), p, name)
	if err != nil {
		return struct{}{}, err
	}
	defer f.Close()
	if !isImageExt(strings.ToLower(filepath.Ext(e.DisplayName))) || e.Size > thumbMaxSource {
		return struct{}{}, apperr.NotFound("no thumbnail")
	}

	key := thumbKey(p.Folder(), e.StoredName, e.CreatedAt.Unix())
	b, err := afero.ReadFile(s.thumbs.fs, key)
	hit := err == nil
	if !hit {
		b, err = makeThumb(f, thumbMax)
		if err != nil {
			logging.FromContext(r.Context(), s.zlog).Debug("thumbnail failed",
				zap.String("name", e.StoredName), zap.Error(err))
			return struct{}{}, apperr.NotFound("no thumbnail")
		}
		if err := afero.WriteFile(s.thumbs.fs, key, b, 0o644); err != nil {
			s.zlog.Warn("thumbnail cache write failed", zap.Error(err))
		}
	}
	metrics.RecordThumbnail(hit)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(b)
	return struct{}{}, errDone
}

// makeThumb decodes a gif, jpeg, png or webp image and scales it to fit in a
// max x max box, returning JPEG bytes.
func makeThumb(r io.Reader, max int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotImage, err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, errNotImage
	}
	if max <= 0 {
		max = thumbMax
	}

	nw, nh := w, h
	if w > h {
		if w > max {
			nw = max
			nh = int(float64(h) * (float64(max) / float64(w)))
		}
	} else if h > max {
		nh = max
		nw = int(float64(w) * (float64(max) / float64(h)))
	}
	nw, nh = maxInt(nw, 1), maxInt(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
