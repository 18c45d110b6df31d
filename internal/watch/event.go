// Package watch keeps the document index in step with the directory tree.
// Backends report platform events as RawEvent values; the Normalizer
// reduces them to Upsert and Delete operations; the Syncer applies those
// to the index one at a time and publishes a notification for every
// effective change.
package watch

import "fmt"

// EventKind is the shape of a platform filesystem event. Backends differ
// in how they report renames, so every observed shape has its own kind.
type EventKind int

const (
	// Create reports a new path.
	Create EventKind = iota + 1
	// Write reports modified content at one or more paths.
	Write
	// Remove reports deleted paths.
	Remove
	// RenameFrom reports the old path of a rename whose new path, if any,
	// arrives separately.
	RenameFrom
	// RenameTo reports the new path of a rename.
	RenameTo
	// RenameBoth carries [old, new] in a single event.
	RenameBoth
	// RenameAny reports that a path took part in a rename without saying
	// which side. Resolved against the disk.
	RenameAny
)

var eventKindNames = map[EventKind]string{
	Create:     "create",
	Write:      "write",
	Remove:     "remove",
	RenameFrom: "rename-from",
	RenameTo:   "rename-to",
	RenameBoth: "rename-both",
	RenameAny:  "rename-any",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("EventKind(%d)", int(k))
}

// RawEvent is one event as reported by a backend. Paths are absolute.
type RawEvent struct {
	Kind  EventKind
	Paths []string
}

// OpKind is a normalized operation.
type OpKind int

const (
	// Upsert re-reads and re-renders the document.
	Upsert OpKind = iota + 1
	// Delete drops the document from the index.
	Delete
)

func (k OpKind) String() string {
	switch k {
	case Upsert:
		return "upsert"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation is a normalized instruction for a single tracked document.
type Operation struct {
	Kind OpKind
	// Path is the TrackedPath (root-relative, slash-separated).
	Path string
	// Abs is the host path the content is read from.
	Abs string
}
