package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotStarted is returned when downloads are requested before startup
	// has initialised the daemon channel
	ErrNotStarted = errors.New("download controller not started")

	// ErrDownloadNotFound is returned for unknown download keys
	ErrDownloadNotFound = errors.New("download not found")

	// ErrConsumerNotFound is returned when releasing a consumer a download
	// does not have
	ErrConsumerNotFound = errors.New("consumer not found")

	// ErrDaemonClosed is returned when sending to a closed daemon channel
	ErrDaemonClosed = errors.New("daemon channel closed")

	// ErrCommandQueueFull is returned when the daemon is not draining commands
	ErrCommandQueueFull = errors.New("daemon command queue full")
)

// FriendlyError is implemented by errors that know how to describe themselves
// to a user
type FriendlyError interface {
	error
	FriendlyDescription() string
	LongDescription() string
}

// UnexpectedStatusCodeError is returned when the content-type probe gets a
// non-2xx response
type UnexpectedStatusCodeError struct {
	Code int
}

func (e *UnexpectedStatusCodeError) Error() string {
	return fmt.Sprintf("unexpected HTTP status code %d", e.Code)
}

// FriendlyDescription returns the short user-facing reason
func (e *UnexpectedStatusCodeError) FriendlyDescription() string {
	if e.Code == http.StatusNotFound {
		return "File not found"
	}
	return "Invalid server status code"
}

// LongDescription returns the diagnostic reason
func (e *UnexpectedStatusCodeError) LongDescription() string {
	if e.Code == http.StatusNotFound {
		return "Got 404 status code"
	}
	return fmt.Sprintf("The server returned status code %d (%s)", e.Code, http.StatusText(e.Code))
}

// UnsupportedSourceError is returned when a local file is not a payload the
// daemon knows how to fetch
type UnsupportedSourceError struct {
	URL string
	Err error
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("don't know how to handle %s", e.URL)
}

func (e *UnsupportedSourceError) Unwrap() error {
	return e.Err
}

// InvalidStateQueryError is returned by getters that only make sense in one
// state, e.g. failure reasons outside the failed state
type InvalidStateQueryError struct {
	Query string
	State DownloadState
}

func (e *InvalidStateQueryError) Error() string {
	return fmt.Sprintf("%s() called on a %s downloader", e.Query, e.State)
}

// FilesystemWarning describes a best-effort filesystem operation that failed.
// It is logged, never returned to callers of controller operations.
type FilesystemWarning struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemWarning) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemWarning) Unwrap() error {
	return e.Err
}

// FailureReasons derives the short and long failure reasons for err
func FailureReasons(err error) (short, long string) {
	var friendly FriendlyError
	if errors.As(err, &friendly) {
		return friendly.FriendlyDescription(), friendly.LongDescription()
	}
	return "Network error", err.Error()
}
