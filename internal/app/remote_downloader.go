package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/internal/infrastructure"
	"github.com/yourusername/remotedl-go/pkg/logger"
)

// RemoteDownloader controls one download executed by the daemon. All
// methods must be called from a task on the registry's loop.
type RemoteDownloader struct {
	reg *Registry

	key         string
	dlid        string
	originalURL string
	url         string
	contentType string
	status      domain.DownloadStatus
	consumers   []domain.Consumer
	deleteFiles bool
	channelName *string
	createdAt   time.Time

	// gen invalidates resolution callbacks started before a restart or
	// removal
	gen     uint64
	removed bool
}

func newRemoteDownloader(reg *Registry, rawURL, contentType string) *RemoteDownloader {
	return &RemoteDownloader{
		reg:         reg,
		key:         domain.NewRecordID(),
		originalURL: rawURL,
		url:         rawURL,
		contentType: contentType,
		status:      domain.NewStatus(domain.StateResolvingType),
		deleteFiles: true,
		createdAt:   time.Now(),
	}
}

// Key is the stable identity of the download across id changes
func (d *RemoteDownloader) Key() string { return d.key }

// DLID is the id the daemon knows the download by
func (d *RemoteDownloader) DLID() string {
	d.reg.loop.assertOnLoop()
	return d.dlid
}

// URL returns the resolved URL being downloaded
func (d *RemoteDownloader) URL() string {
	d.reg.loop.assertOnLoop()
	return d.url
}

// OriginalURL returns the URL as requested
func (d *RemoteDownloader) OriginalURL() string { return d.originalURL }

// ContentType returns the resolved content type, or "" before resolution
func (d *RemoteDownloader) ContentType() string {
	d.reg.loop.assertOnLoop()
	return d.contentType
}

// Status returns the current snapshot
func (d *RemoteDownloader) Status() domain.DownloadStatus {
	d.reg.loop.assertOnLoop()
	return d.status
}

// State returns the lifecycle state
func (d *RemoteDownloader) State() domain.DownloadState {
	d.reg.loop.assertOnLoop()
	return d.status.State
}

// IsFinished reports whether consumers consider the download complete
func (d *RemoteDownloader) IsFinished() bool {
	return d.State().IsComplete()
}

// Rate returns the transfer rate in bytes per second
func (d *RemoteDownloader) Rate() float64 {
	d.reg.loop.assertOnLoop()
	return d.status.Rate
}

// ETA returns the estimated seconds remaining
func (d *RemoteDownloader) ETA() int64 {
	d.reg.loop.assertOnLoop()
	return d.status.ETA
}

// TotalSize returns the size in bytes, or -1 when unknown
func (d *RemoteDownloader) TotalSize() int64 {
	d.reg.loop.assertOnLoop()
	return d.status.TotalSize
}

// CurrentSize returns the bytes downloaded so far
func (d *RemoteDownloader) CurrentSize() int64 {
	d.reg.loop.assertOnLoop()
	return d.status.CurrentSize
}

// Filename returns the path being downloaded to, or ""
func (d *RemoteDownloader) Filename() string {
	d.reg.loop.assertOnLoop()
	return d.status.FilenameValue()
}

// StartupActivity describes what the daemon is doing before bytes flow
func (d *RemoteDownloader) StartupActivity() string {
	d.reg.loop.assertOnLoop()
	if d.status.Activity == "" {
		return "starting up"
	}
	return d.status.Activity
}

// DownloadType returns the engine family the download uses
func (d *RemoteDownloader) DownloadType() domain.DownloadType {
	d.reg.loop.assertOnLoop()
	return domain.DownloadTypeFor(d.contentType)
}

// ReasonFailed returns the diagnostic failure reason. It fails outside the
// failed state.
func (d *RemoteDownloader) ReasonFailed() (string, error) {
	d.reg.loop.assertOnLoop()
	if d.status.State != domain.StateFailed {
		return "", &domain.InvalidStateQueryError{Query: "ReasonFailed", State: d.status.State}
	}
	return d.status.ReasonFailed, nil
}

// ShortReasonFailed returns the user-facing failure reason. It fails outside
// the failed state.
func (d *RemoteDownloader) ShortReasonFailed() (string, error) {
	d.reg.loop.assertOnLoop()
	if d.status.State != domain.StateFailed {
		return "", &domain.InvalidStateQueryError{Query: "ShortReasonFailed", State: d.status.State}
	}
	return d.status.ShortReasonFailed, nil
}

// Consumers returns a copy of the consumer set
func (d *RemoteDownloader) Consumers() []domain.Consumer {
	d.reg.loop.assertOnLoop()
	return append([]domain.Consumer(nil), d.consumers...)
}

// ChannelName returns the grouping label, or "" when unset
func (d *RemoteDownloader) ChannelName() string {
	d.reg.loop.assertOnLoop()
	if d.channelName == nil {
		return ""
	}
	return *d.channelName
}

// SetChannelName sets the grouping label. Only the first call has an effect.
func (d *RemoteDownloader) SetChannelName(name string) {
	d.reg.loop.assertOnLoop()
	if d.channelName == nil {
		d.channelName = domain.Optional(name)
		d.save()
	}
}

// SetDeleteFiles controls whether Remove deletes downloaded data
func (d *RemoteDownloader) SetDeleteFiles(deleteFiles bool) {
	d.reg.loop.assertOnLoop()
	if d.deleteFiles != deleteFiles {
		d.deleteFiles = deleteFiles
		d.save()
	}
}

// DeleteFiles reports whether Remove deletes downloaded data
func (d *RemoteDownloader) DeleteFiles() bool {
	d.reg.loop.assertOnLoop()
	return d.deleteFiles
}

// dispatch starts resolution from the top: content type first when unknown,
// then source resolution
func (d *RemoteDownloader) dispatch() {
	d.gen++
	if d.contentType == "" {
		d.apply(domain.NewStatus(domain.StateResolvingType))
		d.resolveContentType()
		return
	}
	d.runDownloader()
}

func (d *RemoteDownloader) resolveContentType() {
	gen, rawURL := d.gen, d.url
	prober := d.reg.deps.Prober
	d.reg.async(func(ctx context.Context) func() {
		res, err := prober.ResolveContentType(ctx, rawURL)
		return func() {
			if d.stale(gen) {
				return
			}
			if err != nil {
				d.onContentTypeError(err)
				return
			}
			d.onContentType(res)
		}
	})
}

func (d *RemoteDownloader) onContentType(res domain.ProbeResult) {
	if res.URL != "" {
		d.url = res.URL
	}
	d.contentType = res.ContentType
	if d.status.State != domain.StateResolvingType {
		// Paused or stopped while probing; Start picks up from here.
		d.save()
		return
	}
	d.runDownloader()
}

func (d *RemoteDownloader) onContentTypeError(err error) {
	d.reg.deps.Logger.Warn("Content type resolution failed",
		append(logger.Download(d.key, d.dlid), zap.String("url", d.url), zap.Error(err))...)
	if d.status.State != domain.StateResolvingType {
		return
	}
	d.fail(domain.FailureReasons(err))
}

// runDownloader resolves the fetchable source and hands it to the daemon
func (d *RemoteDownloader) runDownloader() {
	if d.status.State != domain.StateDownloading {
		d.apply(domain.NewStatus(domain.StateDownloading))
	}

	gen, rawURL, contentType := d.gen, d.url, d.contentType
	resolver := d.reg.deps.Resolver
	d.reg.async(func(ctx context.Context) func() {
		src, found, err := resolver.ResolveSource(ctx, rawURL, contentType)
		return func() {
			if d.stale(gen) {
				return
			}
			d.onSource(src, found, err)
		}
	})
}

func (d *RemoteDownloader) onSource(src domain.Source, found bool, err error) {
	if d.status.State != domain.StateDownloading {
		if found && err == nil {
			d.url = src.URL
			if src.ContentType != "" {
				d.contentType = src.ContentType
			}
			d.save()
		}
		return
	}

	if err != nil {
		d.reg.deps.Logger.Warn("Source resolution failed",
			append(logger.Download(d.key, d.dlid), zap.String("url", d.url), zap.Error(err))...)
		d.fail(domain.FailureReasons(err))
		return
	}
	if !found {
		d.fail("Source not found", fmt.Sprintf("No fetchable source found at %s", d.url))
		return
	}

	d.url = src.URL
	if src.ContentType != "" {
		d.contentType = src.ContentType
	}

	cmd := domain.StartNewDownload{
		URL:         d.url,
		ID:          d.dlid,
		ContentType: d.contentType,
		ChannelName: d.ChannelName(),
	}
	if err := d.reg.send(d, cmd); err != nil {
		d.reg.logError("Failed to send start command", err, d)
		d.fail("Daemon unavailable", err.Error())
		return
	}
	d.reg.track(d)
	d.reg.deps.Logger.Info("Download dispatched",
		append(logger.Download(d.key, d.dlid),
			zap.String("url", d.url),
			zap.String("content_type", d.contentType))...)
	d.save()
}

// Pause asks the daemon to pause, or pauses locally when the daemon does not
// track the download
func (d *RemoteDownloader) Pause() {
	d.reg.loop.assertOnLoop()

	if d.reg.IsTracked(d.dlid) {
		if !domain.CommandAllowed(domain.CommandPause, d.status.State) {
			return
		}
		err := d.reg.send(d, domain.PauseDownload{ID: d.dlid})
		if err == nil {
			return
		}
		d.reg.logError("Failed to send pause command, pausing locally", err, d)
		d.reg.untrack(d.dlid)
	}

	st := d.status
	st.State = domain.StatePaused
	st.Rate = 0
	st.ETA = 0
	d.apply(st)
}

// Stop stops the download. With deleteData the downloaded data is removed.
func (d *RemoteDownloader) Stop(deleteData bool) {
	d.reg.loop.assertOnLoop()

	if d.reg.IsTracked(d.dlid) {
		if domain.CommandAllowed(domain.CommandStop, d.status.State) {
			err := d.reg.send(d, domain.StopDownload{ID: d.dlid, Delete: deleteData})
			d.reg.untrack(d.dlid)
			if err == nil {
				return
			}
			d.reg.logError("Failed to send stop command, stopping locally", err, d)
		} else {
			d.reg.untrack(d.dlid)
		}
	}

	if deleteData {
		d.removeLocalFiles()
	}
	st := d.status
	st.State = domain.StateStopped
	st.Rate = 0
	st.ETA = 0
	d.apply(st)
}

func (d *RemoteDownloader) removeLocalFiles() {
	if d.status.Filename == nil || *d.status.Filename == "" {
		return
	}
	path := *d.status.Filename
	if err := infrastructure.RemovePath(path); err != nil {
		d.warnFilesystem(&domain.FilesystemWarning{Op: "remove", Path: path, Err: err})
	}
}

// Start resumes a paused, stopped or offline download and retries a failed
// one under a fresh id
func (d *RemoteDownloader) Start() {
	d.reg.loop.assertOnLoop()

	switch d.status.State {
	case domain.StateFailed:
		previous := d.dlid
		d.reg.reassignID(d)
		d.reg.deps.Logger.Info("Retrying failed download",
			append(logger.Download(d.key, d.dlid), zap.String("previous_dlid", previous))...)
		d.dispatch()
		d.save()

	case domain.StateStopped, domain.StatePaused, domain.StateOffline:
		if d.reg.IsTracked(d.dlid) {
			err := d.reg.send(d, domain.ResumeDownload{ID: d.dlid})
			if err == nil {
				return
			}
			d.reg.logError("Failed to send resume command, restarting", err, d)
			d.reg.untrack(d.dlid)
		}
		st := d.status
		st.State = domain.StateDownloading
		d.apply(st)
		d.restart()
	}
}

// Migrate moves the download's files into directory
func (d *RemoteDownloader) Migrate(directory string) {
	d.reg.loop.assertOnLoop()

	if d.reg.IsTracked(d.dlid) {
		err := d.reg.send(d, domain.MigrateDownload{ID: d.dlid, Directory: directory})
		if err == nil {
			d.migrateChildren(directory)
			return
		}
		d.reg.logError("Failed to send migrate command, moving locally", err, d)
		d.reg.untrack(d.dlid)
	}

	d.migrateLocally(directory)
	d.migrateChildren(directory)
}

func (d *RemoteDownloader) migrateLocally(directory string) {
	log := d.reg.deps.Logger.With(logger.Download(d.key, d.dlid)...)
	if d.status.ShortFilename == nil {
		log.Warn("Cannot migrate download without a short filename", zap.String("url", d.url))
		return
	}
	if d.status.Filename == nil {
		log.Warn("Cannot migrate download without a filename", zap.String("url", d.url))
		return
	}

	filename := *d.status.Filename
	if !infrastructure.Exists(filename) {
		return
	}

	dest := infrastructure.ShortenFilename(filepath.Join(directory, *d.status.ShortFilename), d.reg.deps.Config.MaxFilenameLength)
	if dest == filename {
		return
	}
	dest = infrastructure.NextFreeFilename(dest)
	if err := infrastructure.MoveFile(filename, dest); err != nil {
		d.warnFilesystem(&domain.FilesystemWarning{Op: "move", Path: filename, Err: err})
		return
	}

	log.Info("Migrated download", zap.String("from", filename), zap.String("to", dest))
	d.apply(d.status.WithFilename(dest, filepath.Base(dest)))
}

func (d *RemoteDownloader) migrateChildren(directory string) {
	for _, c := range d.Consumers() {
		c.MigrateChildren(directory)
	}
}

// Remove stops the download, deleting data if so configured, and detaches
// it from the registry
func (d *RemoteDownloader) Remove() {
	d.reg.loop.assertOnLoop()
	if d.removed {
		return
	}
	d.Stop(d.deleteFiles)
	d.removed = true
	d.gen++
	d.reg.unregister(d)
	d.reg.deps.Logger.Info("Download removed", logger.Download(d.key, d.dlid)...)
}

// AddConsumer registers c. Consumers are identified by ID, so adding the
// same consumer twice has no effect.
func (d *RemoteDownloader) AddConsumer(c domain.Consumer) {
	d.reg.loop.assertOnLoop()
	for _, existing := range d.consumers {
		if existing.ID() == c.ID() {
			return
		}
	}
	d.consumers = append(d.consumers, c)
}

// RemoveConsumer detaches c and removes the download once no consumer is left
func (d *RemoteDownloader) RemoveConsumer(c domain.Consumer) {
	d.RemoveConsumerByID(c.ID())
}

// RemoveConsumerByID detaches the consumer with the given id. It reports
// false, and changes nothing, when the download has no such consumer.
func (d *RemoteDownloader) RemoveConsumerByID(id string) bool {
	d.reg.loop.assertOnLoop()
	for i, existing := range d.consumers {
		if existing.ID() == id {
			d.consumers = append(d.consumers[:i], d.consumers[i+1:]...)
			if len(d.consumers) == 0 {
				d.Remove()
			}
			return true
		}
	}
	return false
}

// RestartIfNeeded picks a restored download back up if it was active
func (d *RemoteDownloader) RestartIfNeeded() {
	d.reg.loop.assertOnLoop()
	switch d.status.State {
	case domain.StateResolvingType, domain.StateDownloading, domain.StateUploading, domain.StateOffline:
		d.restart()
	}
}

// restart re-dispatches downloads the daemon never picked up and hands the
// rest their last snapshot
func (d *RemoteDownloader) restart() {
	if d.status.EngineType == nil {
		d.dispatch()
		return
	}

	d.reg.track(d)
	if err := d.reg.send(d, domain.RestoreDownload{ID: d.dlid, Status: d.status}); err != nil {
		d.reg.untrack(d.dlid)
		d.reg.logError("Failed to send restore command", err, d)
		d.fail("Daemon unavailable", err.Error())
	}
}

// onStatusUpdate applies a daemon report. The daemon forgets downloads it
// reports as failed, so they are no longer tracked.
func (d *RemoteDownloader) onStatusUpdate(status domain.DownloadStatus) {
	if d.removed {
		return
	}
	if status.State == domain.StateFailed {
		d.reg.untrack(d.dlid)
	}
	d.apply(status)
}

func (d *RemoteDownloader) fail(short, long string) {
	d.apply(domain.FailedStatus(short, long))
}

// apply replaces the snapshot and notifies consumers. Identical snapshots
// are dropped.
func (d *RemoteDownloader) apply(status domain.DownloadStatus) bool {
	if d.status.Equal(status) {
		return false
	}

	wasFinished := d.status.State.IsComplete()
	d.status = status
	d.save()

	finished := status.State.IsComplete() && !wasFinished
	for _, c := range d.Consumers() {
		if finished {
			c.OnDownloadFinished(status)
		} else {
			c.OnDownloadChanged(status)
		}
	}
	return true
}

func (d *RemoteDownloader) stale(gen uint64) bool {
	return d.removed || d.gen != gen
}

func (d *RemoteDownloader) warnFilesystem(w *domain.FilesystemWarning) {
	d.reg.deps.Logger.Warn("Filesystem operation failed",
		append(logger.Download(d.key, d.dlid),
			zap.String("op", w.Op),
			zap.String("path", w.Path),
			zap.Error(w.Err))...)
}

// record returns the persisted form of the download
func (d *RemoteDownloader) record() *domain.DownloadRecord {
	return &domain.DownloadRecord{
		ID:          d.key,
		DLID:        d.dlid,
		OriginalURL: d.originalURL,
		URL:         d.url,
		ContentType: d.contentType,
		ChannelName: d.channelName,
		DeleteFiles: d.deleteFiles,
		Status:      d.status,
		CreatedAt:   d.createdAt,
	}
}

func (d *RemoteDownloader) save() {
	if d.removed || d.reg.deps.Repo == nil {
		return
	}
	if err := d.reg.deps.Repo.Save(d.record()); err != nil {
		d.reg.logError("Failed to save download", err, d)
	}
}
