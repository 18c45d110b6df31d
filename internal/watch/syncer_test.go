package watch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/alexjbarnes/mdpreview/internal/fanout"
	"github.com/alexjbarnes/mdpreview/internal/scan"
)

// runSyncer starts Run in the background and stops it when the test ends.
func runSyncer(t *testing.T, s *Syncer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("syncer error: %v", err)
		}
	})
}

func TestRun_RequiresBootstrap(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})

	assert.Equal(t, Bootstrapping, h.syncer.Phase())
	assert.ErrorIs(t, h.syncer.Run(context.Background()), apperrors.ErrNotBootstrapped)
}

func TestBootstrap_InstallsScan(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})

	h.syncer.Bootstrap(map[string]string{"a.md": "<p>a</p>", "b.md": "<p>b</p>"})

	assert.Equal(t, Watching, h.syncer.Phase())
	assert.Equal(t, []string{"a.md", "b.md"}, h.index.List())
	assert.Empty(t, h.drain(), "bootstrap publishes nothing")
}

func TestApply_NotificationPerEffectiveChange(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	writeFile(t, h.root, "a.md", "one")

	n, ok := h.syncer.Apply(Operation{Kind: Upsert, Path: "a.md", Abs: h.abs("a.md")})
	require.True(t, ok)
	assert.Equal(t, fanout.Notification{Kind: fanout.Added, Path: "a.md"}, n)

	html, _ := h.index.Get("a.md")
	assert.Equal(t, "<p>one</p>", html)

	// Identical content still counts as an overwrite.
	n, ok = h.syncer.Apply(Operation{Kind: Upsert, Path: "a.md", Abs: h.abs("a.md")})
	require.True(t, ok)
	assert.Equal(t, fanout.Changed, n.Kind)

	n, ok = h.syncer.Apply(Operation{Kind: Delete, Path: "a.md", Abs: h.abs("a.md")})
	require.True(t, ok)
	assert.Equal(t, fanout.Removed, n.Kind)

	_, ok = h.syncer.Apply(Operation{Kind: Delete, Path: "a.md", Abs: h.abs("a.md")})
	assert.False(t, ok, "delete of an absent key is a no-op")

	assert.Equal(t, []fanout.Notification{
		{Kind: fanout.Added, Path: "a.md"},
		{Kind: fanout.Changed, Path: "a.md"},
		{Kind: fanout.Removed, Path: "a.md"},
	}, h.drain())
	assert.Equal(t, uint64(3), h.syncer.Stats().Applied)
}

func TestApply_ReadFailureLeavesIndexAlone(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	h.syncer.Bootstrap(map[string]string{"a.md": "<p>old</p>"})

	_, ok := h.syncer.Apply(Operation{Kind: Upsert, Path: "a.md", Abs: h.abs("a.md")})
	assert.False(t, ok)

	html, found := h.index.Get("a.md")
	assert.True(t, found)
	assert.Equal(t, "<p>old</p>", html)
	assert.Empty(t, h.drain())
}

func TestApply_RenderFailureLeavesIndexAlone(t *testing.T) {
	ctrl := gomock.NewController(t)
	renderer := NewMockRenderer(ctrl)
	renderer.EXPECT().Render([]byte("broken")).Return("", errors.New("boom"))

	h := newHarness(t, renderer, Options{})
	writeFile(t, h.root, "a.md", "broken")
	h.syncer.Bootstrap(map[string]string{"a.md": "<p>old</p>"})

	_, ok := h.syncer.Apply(Operation{Kind: Upsert, Path: "a.md", Abs: h.abs("a.md")})
	assert.False(t, ok)

	html, _ := h.index.Get("a.md")
	assert.Equal(t, "<p>old</p>", html)
	assert.Empty(t, h.drain())
}

func TestApply_DeleteNeverRenders(t *testing.T) {
	ctrl := gomock.NewController(t)
	renderer := NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any()).Times(0)

	h := newHarness(t, renderer, Options{})
	h.syncer.Bootstrap(map[string]string{"a.md": "<p>a</p>"})

	_, ok := h.syncer.Apply(Operation{Kind: Delete, Path: "a.md", Abs: h.abs("a.md")})
	assert.True(t, ok)
}

func TestApply_UsesInjectedReader(t *testing.T) {
	ctrl := gomock.NewController(t)
	renderer := NewMockRenderer(ctrl)
	renderer.EXPECT().Render([]byte("from memory")).Return("<p>m</p>", nil)

	h := newHarness(t, renderer, Options{
		ReadFile: func(string) ([]byte, error) { return []byte("from memory"), nil },
	})

	n, ok := h.syncer.Apply(Operation{Kind: Upsert, Path: "m.md", Abs: h.abs("m.md")})
	require.True(t, ok)
	assert.Equal(t, fanout.Added, n.Kind)
}

func TestApply_LogsDiffAtDebug(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, echoRenderer{}, Options{Logger: logger})
	h.syncer.Bootstrap(map[string]string{"a.md": "<p>old</p>"})
	writeFile(t, h.root, "a.md", "new")

	_, ok := h.syncer.Apply(Operation{Kind: Upsert, Path: "a.md", Abs: h.abs("a.md")})
	require.True(t, ok)

	out := buf.String()
	assert.Contains(t, out, "rendered output diff")
	assert.Contains(t, out, "inserted_bytes=3")
	assert.Contains(t, out, "deleted_bytes=3")
}

func TestEmit_DropsNewestWhenFull(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := newHarness(t, echoRenderer{}, Options{QueueSize: 2, Logger: logger})

	assert.True(t, h.syncer.Emit(RawEvent{Kind: Write, Paths: []string{h.abs("1.md")}}))
	assert.True(t, h.syncer.Emit(RawEvent{Kind: Write, Paths: []string{h.abs("2.md")}}))

	for range 3 {
		assert.False(t, h.syncer.Emit(RawEvent{Kind: Write, Paths: []string{h.abs("3.md")}}))
	}

	stats := h.syncer.Stats()
	assert.Equal(t, uint64(5), stats.Received)
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Equal(t, 1, strings.Count(buf.String(), "event queue full"), "drop warnings are rate limited")

	// The queued events are the oldest two.
	first := <-h.syncer.queue
	second := <-h.syncer.queue
	assert.Equal(t, h.abs("1.md"), first.Paths[0])
	assert.Equal(t, h.abs("2.md"), second.Paths[0])
}

func TestEmit_QueuedDuringBootstrapAppliedAfter(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	writeFile(t, h.root, "a.md", "a")

	// A live event arrives while the scan is still running.
	writeFile(t, h.root, "late.md", "late")
	require.True(t, h.syncer.Emit(RawEvent{Kind: Create, Paths: []string{h.abs("late.md")}}))

	h.syncer.Bootstrap(map[string]string{"a.md": "<p>a</p>"})
	runSyncer(t, h.syncer)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := h.index.Get("late.md")
		return ok
	})
	assert.Equal(t, []string{"a.md", "late.md"}, h.index.List())
}

func TestScenario_RenameBoth(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	writeFile(t, h.root, "a.md", "a")
	writeFile(t, h.root, "b.md", "b")
	h.syncer.Bootstrap(map[string]string{"a.md": "<p>a</p>", "b.md": "<p>b</p>"})

	require.NoError(t, os.Rename(h.abs("b.md"), h.abs("c.md")))

	for _, op := range h.syncer.normalizer.Normalize(RawEvent{Kind: RenameBoth, Paths: []string{h.abs("b.md"), h.abs("c.md")}}) {
		h.syncer.Apply(op)
	}

	assert.Equal(t, []fanout.Notification{
		{Kind: fanout.Removed, Path: "b.md"},
		{Kind: fanout.Added, Path: "c.md"},
	}, h.drain())
	assert.Equal(t, []string{"a.md", "c.md"}, h.index.List())
}

func TestScenario_IdenticalOverwrite(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	writeFile(t, h.root, "a.md", "same")
	h.syncer.Bootstrap(map[string]string{"a.md": "<p>same</p>"})
	runSyncer(t, h.syncer)

	writeFile(t, h.root, "a.md", "same")
	h.syncer.Emit(RawEvent{Kind: Write, Paths: []string{h.abs("a.md")}})

	select {
	case n := <-h.updates.C():
		assert.Equal(t, fanout.Notification{Kind: fanout.Changed, Path: "a.md"}, n)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}

func TestScenario_ExcludedDirectoryProducesNothing(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	h.syncer.Bootstrap(nil)
	runSyncer(t, h.syncer)

	abs := writeFile(t, h.root, "node_modules/pkg/readme.md", "x")
	h.syncer.Emit(RawEvent{Kind: Create, Paths: []string{h.abs("node_modules")}})
	h.syncer.Emit(RawEvent{Kind: Create, Paths: []string{abs}})
	h.syncer.Emit(RawEvent{Kind: Write, Paths: []string{abs}})

	// A sentinel in-scope event proves the earlier ones were processed.
	writeFile(t, h.root, "sentinel.md", "s")
	h.syncer.Emit(RawEvent{Kind: Create, Paths: []string{h.abs("sentinel.md")}})

	select {
	case n := <-h.updates.C():
		assert.Equal(t, fanout.Notification{Kind: fanout.Added, Path: "sentinel.md"}, n)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	assert.Equal(t, []string{"sentinel.md"}, h.index.List())
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	h.syncer.Bootstrap(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.syncer.Run(ctx), context.Canceled)
}

func TestScenario_NormalizationVariantsStayDistinct(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})

	// Precomposed "é" and "e" followed by a combining acute accent.
	const (
		composedName   = "caf\u00e9.md"
		decomposedName = "cafe\u0301.md"
	)

	composed := writeFile(t, h.root, composedName, "composed")
	decomposed := writeFile(t, h.root, decomposedName, "decomposed")

	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)

	if len(entries) != 2 {
		t.Skip("filesystem folds Unicode normalization forms")
	}

	docs, err := scan.Scan(context.Background(), h.scope, echoRenderer{}, scan.Options{Logger: testLogger()})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	h.syncer.Bootstrap(docs)

	require.NoError(t, os.Remove(decomposed))

	for _, op := range h.syncer.normalizer.Normalize(RawEvent{Kind: Remove, Paths: []string{decomposed}}) {
		h.syncer.Apply(op)
	}

	assert.Equal(t, []fanout.Notification{{Kind: fanout.Removed, Path: decomposedName}}, h.drain())
	assert.Equal(t, []string{composedName}, h.index.List())

	html, ok := h.index.Get(composedName)
	require.True(t, ok)
	assert.Equal(t, "<p>composed</p>", html)

	_, err = os.Stat(composed)
	assert.NoError(t, err)
}

func TestScenario_RemovedDirectoryWithTrackedExtension(t *testing.T) {
	h := newHarness(t, echoRenderer{}, Options{})
	h.syncer.Bootstrap(map[string]string{
		"x.md/a.md":     "<p>a</p>",
		"x.md/sub/b.md": "<p>b</p>",
		"y.md":          "<p>y</p>",
	})

	for _, op := range h.syncer.normalizer.Normalize(RawEvent{Kind: Remove, Paths: []string{h.abs("x.md")}}) {
		h.syncer.Apply(op)
	}

	assert.Equal(t, []fanout.Notification{
		{Kind: fanout.Removed, Path: "x.md/a.md"},
		{Kind: fanout.Removed, Path: "x.md/sub/b.md"},
	}, h.drain())
	assert.Equal(t, []string{"y.md"}, h.index.List())
}
