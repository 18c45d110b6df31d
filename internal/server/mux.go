// Package server provides the HTTP surface for mdpreview: the page
// shell, raw fragments, the file listing, live notification streams and
// the optional MCP endpoint.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/alexjbarnes/mdpreview/internal/auth"
	"github.com/alexjbarnes/mdpreview/internal/fanout"
	"github.com/alexjbarnes/mdpreview/internal/index"
)

// DefaultKeepAlive is the interval between SSE keep-alive comments.
const DefaultKeepAlive = 15 * time.Second

const notFoundBody = "File not found"

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Index      *index.Index
	Fanout     *fanout.Broadcaster
	Shell      *Shell
	Users      auth.UserCredentials
	MCPHandler http.Handler
	Logger     *slog.Logger
	KeepAlive  time.Duration
}

type handlers struct {
	index     *index.Index
	fanout    *fanout.Broadcaster
	shell     *Shell
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewMux builds the HTTP handler. Every route except /healthz sits
// behind Basic auth when users are configured.
func NewMux(cfg MuxConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	h := &handlers{
		index:     cfg.Index,
		fanout:    cfg.Fanout,
		shell:     cfg.Shell,
		logger:    cfg.Logger,
		keepAlive: cfg.KeepAlive,
	}

	app := http.NewServeMux()
	app.HandleFunc("GET /{$}", h.handleIndex)
	app.HandleFunc("GET /view/{path...}", h.handleView)
	app.HandleFunc("GET /raw/{path...}", h.handleRaw)
	app.HandleFunc("GET /api/files", h.handleFiles)
	app.HandleFunc("GET /events", h.handleEvents)
	app.HandleFunc("GET /ws", h.handleWebSocket)

	if cfg.MCPHandler != nil {
		app.Handle("/mcp", cfg.MCPHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("/", auth.Middleware(cfg.Users, cfg.Logger)(app))

	return mux
}

// lookup resolves a request path to a document. Paths arrive decoded and
// index keys keep the on-disk bytes, so an exact match wins; otherwise the
// NFC and NFD forms are tried, since browsers and filesystems disagree on
// normalization.
func (h *handlers) lookup(r *http.Request) (string, string, bool) {
	raw := strings.TrimPrefix(r.PathValue("path"), "/")

	for _, path := range []string{raw, norm.NFC.String(raw), norm.NFD.String(raw)} {
		if html, ok := h.index.Get(path); ok {
			return path, html, true
		}
	}

	return raw, "", false
}

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	files := h.index.List()

	target := ""

	for _, f := range files {
		if f == "README.md" {
			target = f
			break
		}
	}

	if target == "" && len(files) > 0 {
		target = files[0]
	}

	if target != "" {
		http.Redirect(w, r, "/view/"+escapePath(target), http.StatusTemporaryRedirect)
		return
	}

	page, err := h.shell.Empty()
	if err != nil {
		h.serverError(w, err)
		return
	}

	writeHTML(w, http.StatusOK, page)
}

func (h *handlers) handleView(w http.ResponseWriter, r *http.Request) {
	path, html, ok := h.lookup(r)
	if !ok {
		writeHTML(w, http.StatusNotFound, []byte(notFoundBody))
		return
	}

	page, err := h.shell.Page(path, html)
	if err != nil {
		h.serverError(w, err)
		return
	}

	writeHTML(w, http.StatusOK, page)
}

func (h *handlers) handleRaw(w http.ResponseWriter, r *http.Request) {
	_, html, ok := h.lookup(r)
	if !ok {
		http.Error(w, notFoundBody, http.StatusNotFound)
		return
	}

	writeHTML(w, http.StatusOK, []byte(html))
}

func (h *handlers) handleFiles(w http.ResponseWriter, _ *http.Request) {
	files := h.index.List()
	if files == nil {
		files = []string{}
	}

	writeJSON(w, http.StatusOK, files)
}

type healthResponse struct {
	Status      string `json:"status"`
	Documents   int    `json:"documents"`
	Subscribers int    `json:"subscribers"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Documents:   h.index.Len(),
		Subscribers: h.fanout.Len(),
	})
}

func (h *handlers) serverError(w http.ResponseWriter, err error) {
	h.logger.Error("handler failed", slog.String("error", err.Error()))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// escapePath percent-encodes each segment of a TrackedPath.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return strings.Join(segs, "/")
}
