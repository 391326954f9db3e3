package upload

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"landrop/internal/apperr"
	"landrop/internal/hierarchy"
)

type part struct {
	field, filename, body string
}

func newRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, p.body))
			continue
		}
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newReceiver(t *testing.T, limits Limits) (*Receiver, *hierarchy.Store) {
	t.Helper()
	fs := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	now := time.UnixMilli(1700000000000)
	store := hierarchy.New(fs, hierarchy.Options{Now: func() time.Time { return now }})
	return NewReceiver(store, limits, nil), store
}

func listNames(t *testing.T, store *hierarchy.Store, p hierarchy.Path) []string {
	t.Helper()
	entries, err := store.List(context.Background(), p)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.DisplayName)
	}
	return names
}

func TestReceiveRoot(t *testing.T) {
	rc, store := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 10})
	req := newRequest(t,
		part{field: FieldFile, filename: "夜猫子.txt", body: "meow"},
		part{field: FieldFile, filename: "notes.md", body: "# hi"},
	)

	target, results, err := rc.Receive(httptest.NewRecorder(), req)
	require.NoError(t, err)
	require.True(t, target.IsRoot())
	require.Len(t, results, 2)
	require.Equal(t, Result{
		Filename:     "5aSc54yr5a2Q_1700000000000.txt",
		OriginalName: "夜猫子.txt",
		DisplayName:  "夜猫子.txt",
		Size:         4,
	}, results[0])
	require.Equal(t, "notes_1700000000000.md", results[1].Filename)

	require.ElementsMatch(t, []string{"夜猫子.txt", "notes_1700000000000.md"}, listNames(t, store, hierarchy.Root))
}

func TestReceiveIntoFolder(t *testing.T) {
	rc, store := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 10})
	_, err := store.CreateFolder(context.Background(), "照片")
	require.NoError(t, err)

	req := newRequest(t,
		part{field: FieldTarget, body: "54Wn54mH"},
		part{field: FieldFile, filename: "a.jpg", body: "jpeg"},
	)
	target, results, err := rc.Receive(httptest.NewRecorder(), req)
	require.NoError(t, err)
	require.Equal(t, "54Wn54mH", target.Folder())
	require.Len(t, results, 1)

	folder, err := hierarchy.ParsePath("54Wn54mH")
	require.NoError(t, err)
	require.Len(t, listNames(t, store, folder), 1)
	require.Equal(t, []string{"照片"}, listNames(t, store, hierarchy.Root))
}

func TestReceiveMissingFolder(t *testing.T) {
	rc, _ := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 10})
	req := newRequest(t,
		part{field: FieldTarget, body: "nope"},
		part{field: FieldFile, filename: "a.txt", body: "a"},
	)
	_, _, err := rc.Receive(httptest.NewRecorder(), req)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReceiveTargetAfterFiles(t *testing.T) {
	rc, store := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 10})
	req := newRequest(t,
		part{field: FieldFile, filename: "a.txt", body: "a"},
		part{field: FieldTarget, body: "docs"},
	)
	_, _, err := rc.Receive(httptest.NewRecorder(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.Empty(t, listNames(t, store, hierarchy.Root))
}

func TestReceiveFileTooLarge(t *testing.T) {
	rc, store := newReceiver(t, Limits{MaxFileSize: 8, MaxFiles: 10})
	req := newRequest(t,
		part{field: FieldFile, filename: "small.txt", body: "ok"},
		part{field: FieldFile, filename: "big.bin", body: strings.Repeat("x", 64)},
	)
	_, _, err := rc.Receive(httptest.NewRecorder(), req)
	require.ErrorIs(t, err, apperr.ErrCapacity)
	// the first file is rolled back
	require.Empty(t, listNames(t, store, hierarchy.Root))
}

func TestReceiveTooManyFiles(t *testing.T) {
	rc, store := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 2})
	req := newRequest(t,
		part{field: FieldFile, filename: "1.txt", body: "1"},
		part{field: FieldFile, filename: "2.txt", body: "2"},
		part{field: FieldFile, filename: "3.txt", body: "3"},
	)
	_, _, err := rc.Receive(httptest.NewRecorder(), req)
	require.ErrorIs(t, err, apperr.ErrCapacity)
	require.Empty(t, listNames(t, store, hierarchy.Root))
}

func TestReceiveNoFiles(t *testing.T) {
	rc, _ := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 10})
	_, _, err := rc.Receive(httptest.NewRecorder(), newRequest(t, part{field: "other", body: "x"}))
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReceiveNotMultipart(t *testing.T) {
	rc, _ := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 10})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	_, _, err := rc.Receive(httptest.NewRecorder(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReceiveRepairsMojibake(t *testing.T) {
	rc, _ := newReceiver(t, Limits{MaxFileSize: 1 << 20, MaxFiles: 10})
	// UTF-8 bytes of 中 read as Latin-1
	garbled := string([]rune{0xE4, 0xB8, 0xAD}) + ".txt"
	req := newRequest(t, part{field: FieldFile, filename: garbled, body: "x"})

	_, results, err := rc.Receive(httptest.NewRecorder(), req)
	require.NoError(t, err)
	require.Equal(t, "中.txt", results[0].OriginalName)
	require.Equal(t, "5Lit_1700000000000.txt", results[0].Filename)
}

func TestCapReader(t *testing.T) {
	r := &capReader{r: strings.NewReader("12345"), max: 5}
	b := make([]byte, 10)
	n, err := r.Read(b)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	r = &capReader{r: strings.NewReader("123456"), max: 5}
	_, err = r.Read(b)
	require.ErrorIs(t, err, apperr.ErrCapacity)
}
