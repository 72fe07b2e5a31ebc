// Package media stores uploaded videos and serves them back to room members.
package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// URLPrefix is the path under which stored files are served.
const URLPrefix = "/media/"

// Store writes uploads into a single flat directory.
type Store struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time
}

// UploadResponse is the JSON body returned by HandleUpload.
type UploadResponse struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewStore creates dir if needed. maxBytes <= 0 means no size limit.
func NewStore(dir string, maxBytes int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes, logger: logger, now: time.Now}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Save copies r into a new file and returns its stored name.
// Names are <unix-ms>-<uuid><ext>; the extension comes from filename, then
// from contentType, then falls back to .bin.
func (s *Store) Save(r io.Reader, filename, contentType string) (string, error) {
	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString(), extension(filename, contentType))
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", name, err)
	}

	s.logger.Info("media.saved", "file", name, "bytes", n)
	return name, nil
}

// HandleUpload accepts a multipart form with a single "file" field
func (s *Store) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeUpload(w, http.StatusRequestEntityTooLarge, UploadResponse{Error: "File too large"})
		default:
			writeUpload(w, http.StatusBadRequest, UploadResponse{Error: "No file uploaded"})
		}
		return
	}
	defer file.Close()

	name, err := s.Save(file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeUpload(w, http.StatusRequestEntityTooLarge, UploadResponse{Error: "File too large"})
			return
		}
		s.logger.Error("media.upload", "err", err)
		writeUpload(w, http.StatusInternalServerError, UploadResponse{Error: "Upload failed"})
		return
	}

	writeUpload(w, http.StatusOK, UploadResponse{OK: true, URL: URLPrefix + name})
}

// FileServer serves stored files with long-lived caching. Directory
// listings are not exposed. Mount it behind http.StripPrefix(URLPrefix, ...).
func (s *Store) FileServer() http.Handler {
	files := http.FileServer(http.Dir(s.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		// Names are unique per upload, so content never changes.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		files.ServeHTTP(w, r)
	})
}

// extension picks the stored file's extension
func extension(filename, contentType string) string {
	if ext := filepath.Ext(filepath.Base(filename)); ext != "" && ext != "." && cleanExt(ext) {
		return strings.ToLower(ext)
	}
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
				return exts[0]
			}
		}
	}
	return ".bin"
}

func cleanExt(ext string) bool {
	if len(ext) > 16 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func writeUpload(w http.ResponseWriter, status int, resp UploadResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
