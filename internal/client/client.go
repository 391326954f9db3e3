// Package client talks to a landrop server's JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"landrop/internal/apperr"
	"landrop/internal/auth"
	"landrop/internal/hierarchy"
	"landrop/internal/upload"
)

// Error is a non-2xx API response.
type Error struct {
	Status           int
	Message          string
	RequiresPassword bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is maps the status back to the apperr sentinels, so callers can test
// errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	var kind apperr.Kind
	switch e.Status {
	case http.StatusBadRequest:
		kind = apperr.KindValidation
	case http.StatusUnauthorized:
		kind = apperr.KindAuth
	case http.StatusNotFound:
		kind = apperr.KindNotFound
	case http.StatusConflict:
		kind = apperr.KindConflict
	case http.StatusRequestEntityTooLarge:
		kind = apperr.KindCapacity
	default:
		kind = apperr.KindStorage
	}
	return apperr.New(kind, "").Is(target)
}

type Config struct {
	BaseURL  string
	Password string
	Timeout  time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.RWMutex
	password string
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", cfg.BaseURL)
	}
	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		password:   cfg.Password,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// SetPassword sets the password sent with every request.
func (c *Client) SetPassword(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = p
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	if c.password != "" {
		req.Header.Set(auth.HeaderPassword, c.password)
	}
	c.mu.RUnlock()
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	var body struct {
		Error            string `json:"error"`
		Message          string `json:"message"`
		RequiresPassword bool   `json:"requiresPassword"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil {
		e.Message = body.Error
		if e.Message == "" {
			e.Message = body.Message
		}
		e.RequiresPassword = body.RequiresPassword
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(data))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// filesPath addresses an entry at the root or in a folder.
func filesPath(folder, name string) string {
	if folder == "" {
		return "/api/files/" + url.PathEscape(name)
	}
	return "/api/folders/" + url.PathEscape(folder) + "/files/" + url.PathEscape(name)
}

func (c *Client) Status(ctx context.Context) (auth.Status, error) {
	var st auth.Status
	err := c.doJSON(ctx, http.MethodGet, "/api/check-password", nil, &st)
	return st, err
}

// Verify asks the server whether password is correct. A wrong password is
// reported as (false, nil).
func (c *Client) Verify(ctx context.Context, password string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/verify-password", map[string]string{"password": password}, &out)
	var e *Error
	if errors.As(err, &e) && e.Status == http.StatusUnauthorized {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Valid, nil
}

// List returns the entries of folder, or of the root when folder is "".
func (c *Client) List(ctx context.Context, folder string) ([]hierarchy.DisplayEntry, error) {
	path := "/api/files"
	if folder != "" {
		path = "/api/folders/" + url.PathEscape(folder)
	}
	var out []hierarchy.DisplayEntry
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Mkdir(ctx context.Context, name string) (hierarchy.DisplayEntry, error) {
	var out struct {
		Entry hierarchy.DisplayEntry `json:"entry"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/folders", map[string]string{"folderName": name}, &out)
	return out.Entry, err
}

func (c *Client) Rename(ctx context.Context, folder, storedName, newName string) (hierarchy.DisplayEntry, error) {
	var out struct {
		Entry hierarchy.DisplayEntry `json:"entry"`
	}
	err := c.doJSON(ctx, http.MethodPut, filesPath(folder, storedName), map[string]string{"newName": newName}, &out)
	return out.Entry, err
}

// Move moves an entry to target; "" is the root.
func (c *Client) Move(ctx context.Context, folder, storedName, target string) (hierarchy.DisplayEntry, error) {
	var out struct {
		Entry hierarchy.DisplayEntry `json:"entry"`
	}
	err := c.doJSON(ctx, http.MethodPut, filesPath(folder, storedName)+"/move", map[string]string{"targetFolder": target}, &out)
	return out.Entry, err
}

func (c *Client) Delete(ctx context.Context, folder, storedName string) error {
	return c.doJSON(ctx, http.MethodDelete, filesPath(folder, storedName), nil, nil)
}

// Upload streams content as one file of a multipart upload.
func (c *Client) Upload(ctx context.Context, folder, name string, content io.Reader) ([]upload.Result, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, folder, name, content))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Files []upload.Result `json:"files"`
	}
	err = c.do(req, &out)
	// unblocks the writer if the server answered early
	pr.Close()
	return out.Files, err
}

func writeUploadForm(mw *multipart.Writer, folder, name string, content io.Reader) error {
	if folder != "" {
		if err := mw.WriteField(upload.FieldTarget, folder); err != nil {
			return err
		}
	}
	fw, err := mw.CreateFormFile(upload.FieldFile, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return err
	}
	return mw.Close()
}

// Download writes the file body to w and returns the display name from the
// Content-Disposition header.
func (c *Client) Download(ctx context.Context, folder, storedName string, w io.Writer) (string, error) {
	path := "/api/download/" + url.PathEscape(storedName)
	if folder != "" {
		path = filesPath(folder, storedName)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", storedName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return dispositionName(resp.Header.Get("Content-Disposition"), storedName), nil
}

func dispositionName(header, fallback string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil || params["filename"] == "" {
		return fallback
	}
	return params["filename"]
}
