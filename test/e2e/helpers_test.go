package e2e_test

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/mdpreview/internal/auth"
	"github.com/alexjbarnes/mdpreview/internal/fanout"
	"github.com/alexjbarnes/mdpreview/internal/index"
	"github.com/alexjbarnes/mdpreview/internal/mcpserver"
	"github.com/alexjbarnes/mdpreview/internal/render"
	"github.com/alexjbarnes/mdpreview/internal/scan"
	"github.com/alexjbarnes/mdpreview/internal/scope"
	"github.com/alexjbarnes/mdpreview/internal/server"
	"github.com/alexjbarnes/mdpreview/internal/watch"
)

const (
	testUsername = "testuser"
	testPassword = "testpass"
)

// harness holds the full e2e stack: initial scan, live watch pipeline,
// Basic auth, the MCP tool server and a real HTTP server.
type harness struct {
	URL    string
	Root   string
	Index  *index.Index
	Fanout *fanout.Broadcaster
	Client *http.Client
}

// newHarness seeds a temp directory, scans it, starts the fsnotify
// watch pipeline and serves server.NewMux from an httptest server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notes"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "notes", "hello.md"),
		[]byte("# Hello\nThis is a test note."),
		0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "README.md"),
		[]byte("# Project Readme"),
		0o644,
	))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "node_modules", "pkg", "README.md"),
		[]byte("# Vendored"),
		0o644,
	))

	logger := slog.New(slog.DiscardHandler)

	classifier, err := scope.New(dir, scope.Options{})
	require.NoError(t, err)

	renderer := render.NewMarkdown()
	idx := index.New()
	fan := fanout.New(fanout.DefaultBuffer)
	t.Cleanup(fan.Close)

	syncer := watch.New(classifier, idx, fan, renderer, watch.Options{Logger: logger})

	source, err := watch.NewSource(watch.BackendFSNotify, classifier, logger)
	require.NoError(t, err)
	require.NoError(t, source.Start(func(ev watch.RawEvent) { syncer.Emit(ev) }))
	t.Cleanup(func() { _ = source.Close() })

	docs, err := scan.Scan(t.Context(), classifier, renderer, scan.Options{Logger: logger})
	require.NoError(t, err)
	syncer.Bootstrap(docs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = syncer.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "mdpreview-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.NewDocs(idx, classifier))

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	shell, err := server.NewShell("github", "monokai", logger)
	require.NoError(t, err)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		Index:      idx,
		Fanout:     fan,
		Shell:      shell,
		Users:      auth.UserCredentials{testUsername: hash},
		MCPHandler: mcpHandler,
		Logger:     logger,
		KeepAlive:  time.Hour,
	}))
	t.Cleanup(ts.Close)

	return &harness{
		URL:    ts.URL,
		Root:   dir,
		Index:  idx,
		Fanout: fan,
		Client: ts.Client(),
	}
}

// write replaces a file under the harness root.
func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()

	path := filepath.Join(h.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// mcpSession creates an MCP client session authenticated with Basic
// credentials. Uses the MCP SDK's StreamableClientTransport with a
// custom HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &basicAuthTransport{
				username: testUsername,
				password: testPassword,
				base:     h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// doGet performs an authenticated GET with t.Context().
func (h *harness) doGet(t *testing.T, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, h.URL+path, nil)
	require.NoError(t, err)

	req.SetBasicAuth(testUsername, testPassword)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// sseLines opens /events and returns a channel of data payloads. The
// stream closes with the test.
func (h *harness) sseLines(t *testing.T) <-chan string {
	t.Helper()

	resp := h.doGet(t, "/events")
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 16)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				lines <- data
			}
		}
	}()

	return lines
}

// waitSubscribers polls until the broadcaster has n subscribers.
func (h *harness) waitSubscribers(t *testing.T, n int) {
	t.Helper()

	require.Eventually(t, func() bool { return h.Fanout.Len() == n },
		2*time.Second, 10*time.Millisecond)
}

// basicAuthTransport is an http.RoundTripper that injects Basic
// credentials into every request.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (bt *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(bt.username, bt.password)

	return bt.base.RoundTrip(req)
}
