package domain

// DownloadState is the lifecycle state of a remote download
type DownloadState string

const (
	StateResolvingType DownloadState = "resolving-type"
	StateDownloading   DownloadState = "downloading"
	StateUploading     DownloadState = "uploading" // seeding after the download completed
	StatePaused        DownloadState = "paused"
	StateStopped       DownloadState = "stopped"
	StateFailed        DownloadState = "failed"
	StateFinished      DownloadState = "finished"
	StateOffline       DownloadState = "offline"
)

// UnknownSize is reported for TotalSize until the daemon knows the size
const UnknownSize int64 = -1

// ValidateState checks if the state is one the controller understands
func ValidateState(s DownloadState) bool {
	switch s {
	case StateResolvingType, StateDownloading, StateUploading, StatePaused,
		StateStopped, StateFailed, StateFinished, StateOffline:
		return true
	}
	return false
}

// IsComplete reports whether consumers consider the download done
func (s DownloadState) IsComplete() bool {
	return s == StateFinished || s == StateUploading
}

// DownloadStatus is a full snapshot of a download as reported by the daemon.
// A snapshot is never patched; every update replaces the previous one.
type DownloadStatus struct {
	State         DownloadState `json:"state"`
	Rate          float64       `json:"rate"`
	ETA           int64         `json:"eta"`
	TotalSize     int64         `json:"totalSize"`
	CurrentSize   int64         `json:"currentSize"`
	Filename      *string       `json:"filename,omitempty"`
	ShortFilename *string       `json:"shortFilename,omitempty"`
	Activity      string        `json:"activity,omitempty"`

	ShortReasonFailed string `json:"shortReasonFailed,omitempty"`
	ReasonFailed      string `json:"reasonFailed,omitempty"`

	// EngineType marks which daemon engine owns the transfer (http,
	// bittorrent). It is nil until the daemon has picked the download up.
	EngineType *string `json:"dlerType,omitempty"`
}

// NewStatus returns an empty snapshot in the given state
func NewStatus(state DownloadState) DownloadStatus {
	return DownloadStatus{State: state, TotalSize: UnknownSize}
}

// FailedStatus returns a snapshot in the failed state with both reasons set
func FailedStatus(short, long string) DownloadStatus {
	s := NewStatus(StateFailed)
	s.ShortReasonFailed = short
	s.ReasonFailed = long
	return s
}

// Equal compares two snapshots field by field, dereferencing optionals
func (s DownloadStatus) Equal(o DownloadStatus) bool {
	return s.State == o.State &&
		s.Rate == o.Rate &&
		s.ETA == o.ETA &&
		s.TotalSize == o.TotalSize &&
		s.CurrentSize == o.CurrentSize &&
		s.Activity == o.Activity &&
		s.ShortReasonFailed == o.ShortReasonFailed &&
		s.ReasonFailed == o.ReasonFailed &&
		optionalEqual(s.Filename, o.Filename) &&
		optionalEqual(s.ShortFilename, o.ShortFilename) &&
		optionalEqual(s.EngineType, o.EngineType)
}

// FilenameValue returns the filename, or "" when the daemon has not set one
func (s DownloadStatus) FilenameValue() string {
	if s.Filename == nil {
		return ""
	}
	return *s.Filename
}

// WithFilename returns a copy of the snapshot pointing at a new file
func (s DownloadStatus) WithFilename(filename, shortFilename string) DownloadStatus {
	s.Filename = Optional(filename)
	s.ShortFilename = Optional(shortFilename)
	return s
}

// Optional wraps a value for one of the optional snapshot fields
func Optional[T any](v T) *T {
	return &v
}

func optionalEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
