//go:build linux

package watch

import "github.com/rjeczalik/notify"

// inotify tells the two halves of a rename apart, so ask for them.
var notifyEvents = []notify.Event{
	notify.Create,
	notify.Remove,
	notify.Write,
	notify.InMovedFrom,
	notify.InMovedTo,
}

func platformKind(e notify.Event) (EventKind, bool) {
	switch e {
	case notify.InMovedFrom:
		return RenameFrom, true
	case notify.InMovedTo:
		return RenameTo, true
	}

	return genericKind(e)
}
