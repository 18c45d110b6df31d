package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/rjeczalik/notify"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/alexjbarnes/mdpreview/internal/scope"
)

// notifyBuffer is the channel size handed to notify.Watch. notify drops
// events rather than block when it is full.
const notifyBuffer = 1024

// notifySource uses a single recursive watch. Excluded directories are
// still watched and filtered out by the Normalizer.
type notifySource struct {
	classifier *scope.Classifier
	logger     *slog.Logger

	events chan notify.EventInfo
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newNotifySource(classifier *scope.Classifier, logger *slog.Logger) *notifySource {
	return &notifySource{
		classifier: classifier,
		logger:     logger.With(slog.String("backend", BackendNotify)),
		events:     make(chan notify.EventInfo, notifyBuffer),
		done:       make(chan struct{}),
	}
}

func (s *notifySource) Start(emit func(RawEvent)) error {
	pattern := filepath.Join(s.classifier.Root(), "...")

	if err := notify.Watch(pattern, s.events, notifyEvents...); err != nil {
		return fmt.Errorf("%w: watching %s: %w", apperrors.ErrWatchSetup, s.classifier.Root(), err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.loop(emit)
	}()

	s.logger.Info("watching for changes", slog.String("root", s.classifier.Root()))

	return nil
}

func (s *notifySource) loop(emit func(RawEvent)) {
	for {
		select {
		case <-s.done:
			return
		case ei := <-s.events:
			kind, ok := platformKind(ei.Event())
			if !ok {
				continue
			}

			emit(RawEvent{Kind: kind, Paths: []string{ei.Path()}})
		}
	}
}

func (s *notifySource) Close() error {
	s.once.Do(func() {
		notify.Stop(s.events)
		close(s.done)
		s.wg.Wait()
	})

	return nil
}

// genericKind maps the portable notify events. A value carrying more than
// one bit is a coalesced report and is settled against the disk.
func genericKind(e notify.Event) (EventKind, bool) {
	switch e {
	case notify.Create:
		return Create, true
	case notify.Write:
		return Write, true
	case notify.Remove:
		return Remove, true
	case notify.Rename:
		return RenameAny, true
	}

	if e&notify.All != 0 {
		return RenameAny, true
	}

	return 0, false
}
