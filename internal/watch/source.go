package watch

import (
	"fmt"
	"log/slog"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/alexjbarnes/mdpreview/internal/scope"
)

// Backend names accepted by NewSource.
const (
	BackendFSNotify = "fsnotify"
	BackendNotify   = "notify"
)

// Source is an OS-level watch on the classifier's root. Start returns only
// after the watch is established, so events for changes made after Start
// returns are not lost. emit is called from a background goroutine and
// must not block.
type Source interface {
	Start(emit func(RawEvent)) error
	Close() error
}

// NewSource returns the watch backend named by backend.
func NewSource(backend string, classifier *scope.Classifier, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendFSNotify, "":
		return newFSNotifySource(classifier, logger), nil
	case BackendNotify:
		return newNotifySource(classifier, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownBackend, backend)
	}
}
