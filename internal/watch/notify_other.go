//go:build !linux

package watch

import "github.com/rjeczalik/notify"

var notifyEvents = []notify.Event{notify.All}

func platformKind(e notify.Event) (EventKind, bool) {
	return genericKind(e)
}
