package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	v1 "hrchat/shared/contracts/chat/v1"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// FilesPrefix is the URL prefix uploaded files are served under.
const FilesPrefix = "/files/"

var (
	storedNameRE = regexp.MustCompile(`^[0-9A-Z]{26}(\.[a-z0-9]{1,10})?$`)
	extRE        = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
)

// UploadHandler stores attachment bodies on local disk and serves them back.
//
// POST /uploads?filename=<name> takes the raw file as the request body and
// answers 201 with the attachment descriptor. GET /files/<name> serves it.
type UploadHandler struct {
	log      *slog.Logger
	dir      string
	maxBytes int64
	metrics  *GatewayMetrics
	now      func() time.Time
}

// UploadOption customizes an UploadHandler.
type UploadOption func(*UploadHandler)

// WithUploadMaxBytes overrides the 50 MiB default.
func WithUploadMaxBytes(n int64) UploadOption {
	return func(h *UploadHandler) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

// WithUploadMetrics records upload results.
func WithUploadMetrics(m *GatewayMetrics) UploadOption {
	return func(h *UploadHandler) { h.metrics = m }
}

// NewUploadHandler creates dir when missing.
func NewUploadHandler(log *slog.Logger, dir string, opts ...UploadOption) (*UploadHandler, error) {
	if log == nil {
		log = slog.Default()
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("realtime: empty upload dir")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("realtime: upload dir: %w", err)
	}

	h := &UploadHandler{
		log:      log,
		dir:      dir,
		maxBytes: defaultUploadMaxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// MaxBytes is the accepted body size limit.
func (h *UploadHandler) MaxBytes() int64 { return h.maxBytes }

// Register mounts /uploads and /files/ on mux.
func (h *UploadHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/uploads", h.handleUpload)
	mux.Handle(FilesPrefix, http.StripPrefix(FilesPrefix, http.HandlerFunc(h.handleFile)))
}

func (h *UploadHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	tooLarge := func() {
		h.metrics.upload("too_large")
		writeError(w, http.StatusRequestEntityTooLarge, "attachment_too_large",
			"attachment exceeds "+humanize.IBytes(uint64(h.maxBytes)))
	}

	if r.ContentLength > h.maxBytes {
		tooLarge()
		return
	}

	filename := cleanFilename(r.URL.Query().Get("filename"))

	tmp, err := os.CreateTemp(h.dir, ".upload-*")
	if err != nil {
		h.fail(w, "create temp", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	size, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			tooLarge()
			return
		}
		h.metrics.upload("error")
		writeError(w, http.StatusBadRequest, "bad_body", "could not read body")
		return
	}
	if size == 0 {
		h.metrics.upload("invalid")
		writeError(w, http.StatusBadRequest, "empty_body", "empty file")
		return
	}

	mt, err := mimetype.DetectFile(tmpName)
	if err != nil {
		h.fail(w, "detect mime", err)
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !extRE.MatchString(ext) {
		ext = mt.Extension()
	}

	id, err := NewMessageID(h.now())
	if err != nil {
		h.fail(w, "id", err)
		return
	}
	name := id + ext
	if err := os.Rename(tmpName, filepath.Join(h.dir, name)); err != nil {
		h.fail(w, "rename", err)
		return
	}

	if filename == "" {
		filename = name
	}

	h.metrics.upload("ok")
	h.log.Info("upload.stored", "name", name, "size", size, "mime", mt.String())

	writeJSON(w, http.StatusCreated, v1.AttachmentPayload{
		URL:      FilesPrefix + name,
		Filename: filename,
		Size:     size,
		MimeType: mt.String(),
	})
}

func (h *UploadHandler) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	name := r.URL.Path
	if !storedNameRE.MatchString(name) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, filepath.Join(h.dir, name))
}

func (h *UploadHandler) fail(w http.ResponseWriter, step string, err error) {
	h.metrics.upload("error")
	h.log.Error("upload.fail", "step", step, "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

// cleanFilename keeps the base name only and drops control characters.
func cleanFilename(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = filepath.Base(strings.ReplaceAll(s, `\`, "/"))
	if s == "." || s == "/" {
		return ""
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if r := []rune(s); len(r) > 255 {
		s = string(r[:255])
	}
	return s
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}
