package app

import (
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/internal/infrastructure"
)

// RequestItem is the consumer created for downloads requested over the API
// and CLI. It turns completion and failure into desktop notifications.
type RequestItem struct {
	id            string
	url           string
	enclosureType string
	channel       string
	notifier      *infrastructure.NotificationService
	logger        *zap.Logger

	// Only touched from controller callbacks, which run on the loop.
	lastState domain.DownloadState
}

// NewRequestItem creates a consumer for url
func NewRequestItem(url, enclosureType, channel string, notifier *infrastructure.NotificationService, logger *zap.Logger) *RequestItem {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestItem{
		id:            uuid.New().String(),
		url:           url,
		enclosureType: enclosureType,
		channel:       channel,
		notifier:      notifier,
		logger:        logger,
	}
}

// ID identifies the request
func (r *RequestItem) ID() string { return r.id }

func (r *RequestItem) URL() string { return r.url }

func (r *RequestItem) EnclosureType() string { return r.enclosureType }

// ChannelName labels the download with the requested channel
func (r *RequestItem) ChannelName() string { return r.channel }

// OnDownloadChanged notifies once per transition into the failed state
func (r *RequestItem) OnDownloadChanged(status domain.DownloadStatus) {
	if status.State == domain.StateFailed && r.lastState != domain.StateFailed {
		r.logger.Info("Download failed",
			zap.String("request_id", r.id),
			zap.String("url", r.url),
			zap.String("reason", status.ReasonFailed))
		r.notifier.NotifyDownloadFailed(r.url, status.ShortReasonFailed)
	}
	r.lastState = status.State
}

// OnDownloadFinished notifies that the download completed
func (r *RequestItem) OnDownloadFinished(status domain.DownloadStatus) {
	r.lastState = status.State
	name := ""
	if status.ShortFilename != nil {
		name = *status.ShortFilename
	} else if status.Filename != nil {
		name = filepath.Base(*status.Filename)
	}
	size := "unknown"
	if status.TotalSize >= 0 {
		size = humanize.Bytes(uint64(status.TotalSize))
	}
	r.logger.Info("Download finished",
		zap.String("request_id", r.id),
		zap.String("url", r.url),
		zap.String("filename", status.FilenameValue()),
		zap.String("size", size))
	r.notifier.NotifyDownloadCompleted(r.url, name)
}

// MigrateChildren has nothing to move; requests derive no files
func (r *RequestItem) MigrateChildren(directory string) {
	r.logger.Debug("Download migrated",
		zap.String("request_id", r.id),
		zap.String("directory", directory))
}
