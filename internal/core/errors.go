package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFeedUnavailable means the whole feed is skipped.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrDuplicateEpisode is returned when the episode source URL is already registered.
	ErrDuplicateEpisode = errors.New("duplicate episode")
	// ErrDownloadFailed marks a per-episode download or normalization failure.
	ErrDownloadFailed = errors.New("download failed")
	// ErrInvalidTransition is returned for a status change that is not a forward step.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoTranscript is returned when a summary is written before the transcript.
	ErrNoTranscript = errors.New("episode has no transcript")
	// ErrEpisodeBusy is returned when another worker holds a fresh claim on the episode.
	ErrEpisodeBusy = errors.New("episode is claimed by another worker")
	// ErrClaimLost is returned for a write made under a claim that has since
	// expired or been taken over.
	ErrClaimLost = errors.New("episode claim lost")
	// ErrSummarization wraps reasoner failures; the stage falls back instead of failing.
	ErrSummarization = errors.New("summarization failed")
)

// TranscriptionError is returned by the speech-to-text path.
type TranscriptionError struct {
	Retryable bool
	Reason    string
	Err       error
}

func (e *TranscriptionError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Err != nil {
		return fmt.Sprintf("transcription failed (%s): %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("transcription failed (%s): %s", kind, e.Reason)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// NewRetryable builds a retryable TranscriptionError.
func NewRetryable(reason string, err error) *TranscriptionError {
	return &TranscriptionError{Retryable: true, Reason: reason, Err: err}
}

// NewPermanent builds a non-retryable TranscriptionError.
func NewPermanent(reason string, err error) *TranscriptionError {
	return &TranscriptionError{Reason: reason, Err: err}
}

// IsRetryable classifies err for retry loops. Timeouts count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
