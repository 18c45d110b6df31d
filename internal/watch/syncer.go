package watch

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/time/rate"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/alexjbarnes/mdpreview/internal/fanout"
	"github.com/alexjbarnes/mdpreview/internal/index"
	"github.com/alexjbarnes/mdpreview/internal/scope"
)

// DefaultQueueSize bounds the raw event queue when Options leaves it unset.
const DefaultQueueSize = 256

// dropLogInterval limits queue-full warnings under an event flood.
const dropLogInterval = 5 * time.Second

// Renderer turns document source into HTML.
type Renderer interface {
	Render(src []byte) (string, error)
}

// Phase is the lifecycle state of a Syncer.
type Phase int32

const (
	// Bootstrapping: the initial scan has not been installed yet. Events
	// are queued but not applied.
	Bootstrapping Phase = iota
	// Watching: events are drained and applied.
	Watching
)

func (p Phase) String() string {
	if p == Watching {
		return "watching"
	}

	return "bootstrapping"
}

// Options tunes a Syncer. Zero values select the defaults.
type Options struct {
	QueueSize int
	Logger    *slog.Logger
	// ReadFile reads document content. Defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Stats are cumulative counters for a Syncer.
type Stats struct {
	Received uint64
	Dropped  uint64
	Applied  uint64
}

// Syncer is the single writer of the document index. Backends hand it
// raw events through Emit; Run drains them, applies the resulting
// operations and publishes one notification per effective change.
type Syncer struct {
	index      *index.Index
	fanout     *fanout.Broadcaster
	normalizer *Normalizer
	renderer   Renderer
	readFile   func(string) ([]byte, error)
	logger     *slog.Logger

	queue chan RawEvent
	phase atomic.Int32

	received atomic.Uint64
	dropped  atomic.Uint64
	applied  atomic.Uint64
	dropLog  rate.Sometimes

	dmp *diffmatchpatch.DiffMatchPatch
}

// New creates a Syncer writing to idx and publishing to fan.
func New(classifier *scope.Classifier, idx *index.Index, fan *fanout.Broadcaster, renderer Renderer, opts Options) *Syncer {
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 100 * time.Millisecond

	return &Syncer{
		index:      idx,
		fanout:     fan,
		normalizer: NewNormalizer(classifier, idx),
		renderer:   renderer,
		readFile:   opts.ReadFile,
		logger:     opts.Logger,
		queue:      make(chan RawEvent, opts.QueueSize),
		dropLog:    rate.Sometimes{Interval: dropLogInterval},
		dmp:        dmp,
	}
}

// Emit queues ev without blocking. When the queue is full the event is
// dropped and false is returned. Safe to call from any goroutine.
func (s *Syncer) Emit(ev RawEvent) bool {
	s.received.Add(1)

	select {
	case s.queue <- ev:
		return true
	default:
	}

	total := s.dropped.Add(1)
	s.dropLog.Do(func() {
		s.logger.Warn("event queue full, dropping filesystem events",
			slog.Uint64("dropped_total", total),
			slog.Int("capacity", cap(s.queue)),
		)
	})

	return false
}

// Bootstrap installs the initial scan result and moves the Syncer to
// Watching. Events emitted before this call stay queued.
func (s *Syncer) Bootstrap(docs map[string]string) {
	s.index.Replace(docs)
	s.phase.Store(int32(Watching))

	s.logger.Info("index bootstrapped",
		slog.Int("documents", len(docs)),
		slog.Int("queued_events", len(s.queue)),
	)
}

// Phase reports the current lifecycle state.
func (s *Syncer) Phase() Phase {
	return Phase(s.phase.Load())
}

// Stats returns a snapshot of the counters.
func (s *Syncer) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
		Applied:  s.applied.Load(),
	}
}

// Run applies queued events until ctx is cancelled. It must be called
// after Bootstrap.
func (s *Syncer) Run(ctx context.Context) error {
	if s.Phase() != Watching {
		return apperrors.ErrNotBootstrapped
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.queue:
			s.handle(ev)
		}
	}
}

func (s *Syncer) handle(ev RawEvent) {
	ops := s.normalizer.Normalize(ev)

	s.logger.Debug("filesystem event",
		slog.String("kind", ev.Kind.String()),
		slog.Any("paths", ev.Paths),
		slog.Int("operations", len(ops)),
	)

	for _, op := range ops {
		s.Apply(op)
	}
}

// Apply performs op against the index and publishes the resulting
// notification. It returns false when the index did not change: a Delete
// of an absent path, or an Upsert whose file could not be read or
// rendered.
func (s *Syncer) Apply(op Operation) (fanout.Notification, bool) {
	var (
		n  fanout.Notification
		ok bool
	)

	switch op.Kind {
	case Upsert:
		n, ok = s.upsert(op)
	case Delete:
		if s.index.Remove(op.Path) {
			n, ok = fanout.Notification{Kind: fanout.Removed, Path: op.Path}, true
		}
	}

	if !ok {
		return n, false
	}

	s.applied.Add(1)
	s.fanout.Publish(n)

	s.logger.Info("document "+kindVerb(n.Kind), slog.String("path", n.Path))

	return n, true
}

func (s *Syncer) upsert(op Operation) (fanout.Notification, bool) {
	// Read and render outside the index lock.
	src, err := s.readFile(op.Abs)
	if err != nil {
		s.logger.Warn("reading document, skipping",
			slog.String("path", op.Path),
			slog.String("error", err.Error()),
		)

		return fanout.Notification{}, false
	}

	html, err := s.renderer.Render(src)
	if err != nil {
		s.logger.Warn("rendering document, skipping",
			slog.String("path", op.Path),
			slog.String("error", err.Error()),
		)

		return fanout.Notification{}, false
	}

	prev, existed := s.index.Swap(op.Path, html)
	if !existed {
		return fanout.Notification{Kind: fanout.Added, Path: op.Path}, true
	}

	s.logChange(op.Path, prev, html)

	return fanout.Notification{Kind: fanout.Changed, Path: op.Path}, true
}

// logChange summarizes how much rendered output changed. Skipped unless
// debug logging is on since diffing is not free.
func (s *Syncer) logChange(path, prev, next string) {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	var inserted, deleted int

	for _, d := range s.dmp.DiffMain(prev, next, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}

	s.logger.Debug("rendered output diff",
		slog.String("path", path),
		slog.Int("inserted_bytes", inserted),
		slog.Int("deleted_bytes", deleted),
		slog.Bool("identical", inserted == 0 && deleted == 0),
	)
}

func kindVerb(k fanout.Kind) string {
	switch k {
	case fanout.Added:
		return "added"
	case fanout.Changed:
		return "changed"
	default:
		return "removed"
	}
}
