package core

import "fmt"

// Status is the pipeline state of an episode.
type Status string

const (
	StatusDownloaded  Status = "downloaded"
	StatusTranscribed Status = "transcribed"
	StatusProcessed   Status = "processed"
	StatusFailed      Status = "failed"
)

// AllStatuses lists statuses in pipeline order.
var AllStatuses = []Status{StatusDownloaded, StatusTranscribed, StatusProcessed, StatusFailed}

func (s Status) rank() int {
	switch s {
	case StatusDownloaded:
		return 1
	case StatusTranscribed:
		return 2
	case StatusProcessed:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusFailed || s.rank() > 0
}

// Terminal reports whether no further normal transition is possible.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// ParseStatus converts a string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// CanTransition reports whether from -> to is a legal forward move.
// Only the next pipeline step or failed are allowed, and failed is final.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return to.rank() == from.rank()+1
}

// CheckTransition returns ErrInvalidTransition when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CanReset reports whether a forced reprocess may move an episode back to
// target. Only downloaded and transcribed are valid restart points.
func CanReset(current, target Status) bool {
	switch target {
	case StatusDownloaded:
		return current != StatusDownloaded
	case StatusTranscribed:
		return current == StatusProcessed || current == StatusFailed
	default:
		return false
	}
}
