// Package host talks to the print-management host that owns the printer.
package host

import "context"

// Host is what the monitor needs from the printer host.
type Host interface {
	// SnapshotURL returns the host's configured camera snapshot URL, or "".
	SnapshotURL(ctx context.Context) (string, error)
	// CancelPrint aborts the running job.
	CancelPrint(ctx context.Context) error
}

// EventType names a host print lifecycle event.
type EventType string

const (
	PrintStarted   EventType = "PrintStarted"
	PrintDone      EventType = "PrintDone"
	PrintCancelled EventType = "PrintCancelled"
	PrintFailed    EventType = "PrintFailed"
	Progress       EventType = "Progress"
	ZChange        EventType = "ZChange"
)

// Event is one lifecycle notification from the host.
type Event struct {
	Type     EventType
	Filename string
	// Progress is the job completion percentage for Progress events.
	Progress int
	// Z is the new nozzle height in mm for ZChange events.
	Z float64
}
