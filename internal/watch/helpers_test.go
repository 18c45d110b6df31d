package watch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/mdpreview/internal/fanout"
	"github.com/alexjbarnes/mdpreview/internal/index"
	"github.com/alexjbarnes/mdpreview/internal/scope"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoRenderer wraps the source in a paragraph so tests can assert on
// content without depending on markdown output.
type echoRenderer struct{}

func (echoRenderer) Render(src []byte) (string, error) {
	return "<p>" + string(src) + "</p>", nil
}

// testRoot returns a fresh root directory with symlinks resolved, the way
// config hands it over.
func testRoot(t *testing.T) string {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	return dir
}

func testClassifier(t *testing.T, root string) *scope.Classifier {
	t.Helper()

	c, err := scope.New(root, scope.Options{})
	require.NoError(t, err)

	return c
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))

	return abs
}

type harness struct {
	root    string
	scope   *scope.Classifier
	index   *index.Index
	fanout  *fanout.Broadcaster
	syncer  *Syncer
	updates *fanout.Subscription
}

func newHarness(t *testing.T, renderer Renderer, opts Options) *harness {
	t.Helper()

	root := testRoot(t)
	c := testClassifier(t, root)
	idx := index.New()
	fan := fanout.New(256)

	if opts.Logger == nil {
		opts.Logger = testLogger()
	}

	h := &harness{
		root:    root,
		scope:   c,
		index:   idx,
		fanout:  fan,
		syncer:  New(c, idx, fan, renderer, opts),
		updates: fan.Subscribe(),
	}

	t.Cleanup(fan.Close)

	return h
}

func (h *harness) abs(rel string) string {
	return h.scope.Abs(rel)
}

// drain returns every notification currently buffered for the harness
// subscription.
func (h *harness) drain() []fanout.Notification {
	var out []fanout.Notification

	for {
		select {
		case n, ok := <-h.updates.C():
			if !ok {
				return out
			}

			out = append(out, n)
		default:
			return out
		}
	}
}

// waitFor polls until cond returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("timed out waiting for condition")
}
