package domain

import "context"

// Daemon is the out-of-process worker that performs transfers
type Daemon interface {
	// Start opens the command channel. onStatus is called for every status
	// report, from the daemon's reader goroutine and in arrival order.
	Start(ctx context.Context, onStatus func(StatusReport)) error

	// Send queues a command without waiting for delivery or acknowledgement
	Send(cmd Command) error

	// Close tears down the channel and releases the daemon process
	Close() error
}

// ProbeResult is the outcome of a content-type probe
type ProbeResult struct {
	URL         string // final URL after redirects
	ContentType string
}

// ContentTypeProber determines the content type of a resource before dispatch
type ContentTypeProber interface {
	ResolveContentType(ctx context.Context, url string) (ProbeResult, error)
}

// Source is a directly fetchable URL. ContentType is empty when resolution
// did not learn anything new about the type.
type Source struct {
	URL         string
	ContentType string
}

// SourceResolver resolves redirects and embedded-player pages to the URL the
// daemon should fetch. found is false when the resource has no fetchable
// media.
type SourceResolver interface {
	ResolveSource(ctx context.Context, url, contentType string) (src Source, found bool, err error)
}

// TorrentInspector recognises local payloads the daemon knows how to fetch
type TorrentInspector interface {
	// InfoHash returns the content-addressable id of a torrent file
	InfoHash(path string) (string, error)

	// MagnetInfoHash returns the content-addressable id of a magnet link
	MagnetInfoHash(uri string) (string, error)
}

// Consumer is an entity that requested a download and follows its progress
type Consumer interface {
	// ID identifies the consumer among the consumers of a download
	ID() string

	// URL is the address the consumer wants downloaded
	URL() string

	// EnclosureType is the MIME type the consumer's feed declared, or ""
	EnclosureType() string

	// OnDownloadChanged is called after every status change that is not a
	// completion
	OnDownloadChanged(status DownloadStatus)

	// OnDownloadFinished is called once per transition into a complete state
	OnDownloadFinished(status DownloadStatus)

	// MigrateChildren moves files the consumer derived from the download
	MigrateChildren(directory string)
}
