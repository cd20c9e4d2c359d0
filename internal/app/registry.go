package app

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/pkg/logger"
)

// RandSource produces the random suffixes of download ids
type RandSource interface {
	Intn(n int) int
}

type defaultRand struct {
	r *rand.Rand
}

func (d defaultRand) Intn(n int) int { return d.r.Intn(n) }

// NewRandSource returns a RandSource seeded from the clock
func NewRandSource() RandSource {
	return defaultRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

const idSpace = 100000000

// ChannelNamer is implemented by consumers that group their downloads under
// a channel label
type ChannelNamer interface {
	ChannelName() string
}

// RegistryDeps are the collaborators every controller reaches through its
// registry
type RegistryDeps struct {
	Daemon      domain.Daemon
	Prober      domain.ContentTypeProber
	Resolver    domain.SourceResolver
	Inspector   domain.TorrentInspector
	Repo        domain.DownloadRepository
	Logger      *zap.Logger
	MultiLogger *logger.MultiLogger
	Rand        RandSource
	Config      domain.DownloadConfig
}

// Registry owns every RemoteDownloader. It must only be used from tasks
// running on its Loop.
type Registry struct {
	loop *Loop
	deps RegistryDeps
	ctx  context.Context

	byKey   map[string]*RemoteDownloader
	byDLID  map[string]*RemoteDownloader
	byURL   map[string]*RemoteDownloader
	tracked map[string]struct{}
}

// NewRegistry creates an empty registry bound to loop
func NewRegistry(loop *Loop, deps RegistryDeps) *Registry {
	if deps.Rand == nil {
		deps.Rand = NewRandSource()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		loop:    loop,
		deps:    deps,
		ctx:     context.Background(),
		byKey:   make(map[string]*RemoteDownloader),
		byDLID:  make(map[string]*RemoteDownloader),
		byURL:   make(map[string]*RemoteDownloader),
		tracked: make(map[string]struct{}),
	}
}

// setContext sets the context handed to resolution work
func (r *Registry) setContext(ctx context.Context) {
	r.loop.assertOnLoop()
	r.ctx = ctx
}

// FindByID returns the controller with the given dlid, or nil
func (r *Registry) FindByID(dlid string) *RemoteDownloader {
	r.loop.assertOnLoop()
	return r.byDLID[dlid]
}

// FindByURL returns the controller requested for url, or nil
func (r *Registry) FindByURL(rawURL string) *RemoteDownloader {
	r.loop.assertOnLoop()
	return r.byURL[rawURL]
}

// FindByKey returns the controller with the given stable key, or nil
func (r *Registry) FindByKey(key string) *RemoteDownloader {
	r.loop.assertOnLoop()
	return r.byKey[key]
}

// All returns every controller, oldest first
func (r *Registry) All() []*RemoteDownloader {
	r.loop.assertOnLoop()
	all := make([]*RemoteDownloader, 0, len(r.byKey))
	for _, d := range r.byKey {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].key < all[j].key
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})
	return all
}

// Len returns the number of registered controllers
func (r *Registry) Len() int {
	r.loop.assertOnLoop()
	return len(r.byKey)
}

// AllocateID returns a dlid that no registered controller uses
func (r *Registry) AllocateID() string {
	r.loop.assertOnLoop()
	for {
		id := fmt.Sprintf("download%08d", r.deps.Rand.Intn(idSpace))
		if _, taken := r.byDLID[id]; !taken {
			return id
		}
		r.deps.Logger.Debug("Download id collision, retrying", zap.String("dlid", id))
	}
}

// GetOrCreate returns the controller for the consumer's URL, adding the
// consumer to an existing one or creating a new controller
func (r *Registry) GetOrCreate(item domain.Consumer) (*RemoteDownloader, error) {
	r.loop.assertOnLoop()

	rawURL := item.URL()
	if existing := r.byURL[rawURL]; existing != nil {
		existing.AddConsumer(item)
		return existing, nil
	}

	contentType := ""
	switch {
	case strings.HasPrefix(rawURL, "file://"):
		path, err := fileURLPath(rawURL)
		if err != nil {
			return nil, &domain.UnsupportedSourceError{URL: rawURL, Err: err}
		}
		if r.deps.Inspector == nil {
			return nil, &domain.UnsupportedSourceError{URL: rawURL}
		}
		if _, err := r.deps.Inspector.InfoHash(path); err != nil {
			return nil, &domain.UnsupportedSourceError{URL: rawURL, Err: err}
		}
		contentType = domain.ContentTypeTorrent
	case strings.HasPrefix(rawURL, "magnet:"):
		if r.deps.Inspector != nil {
			if _, err := r.deps.Inspector.MagnetInfoHash(rawURL); err != nil {
				return nil, &domain.UnsupportedSourceError{URL: rawURL, Err: err}
			}
		}
		contentType = domain.ContentTypeTorrent
	case item.EnclosureType() == domain.ContentTypeTorrent:
		// Some servers report the wrong type for torrents; trust the feed.
		contentType = domain.ContentTypeTorrent
	}

	d := newRemoteDownloader(r, rawURL, contentType)
	d.dlid = r.AllocateID()
	d.consumers = []domain.Consumer{item}
	if namer, ok := item.(ChannelNamer); ok && namer.ChannelName() != "" {
		d.channelName = domain.Optional(namer.ChannelName())
	}
	r.register(d)

	r.deps.Logger.Info("Download created",
		append(logger.Download(d.key, d.dlid),
			zap.String("url", rawURL),
			zap.String("content_type", contentType))...)

	d.dispatch()
	d.save()
	return d, nil
}

// Restore rebuilds a controller from its persisted record
func (r *Registry) Restore(record *domain.DownloadRecord) *RemoteDownloader {
	r.loop.assertOnLoop()

	d := newRemoteDownloader(r, record.OriginalURL, record.ContentType)
	d.key = record.ID
	d.url = record.URL
	d.channelName = record.ChannelName
	d.status = record.Status
	d.createdAt = record.CreatedAt

	d.deleteFiles = true
	d.status.Rate = 0
	d.status.ETA = 0

	d.dlid = record.DLID
	if d.dlid == "" || d.dlid == domain.LegacyNoID || r.byDLID[d.dlid] != nil {
		d.dlid = r.AllocateID()
		r.deps.Logger.Info("Assigned fresh id to restored download",
			append(logger.Download(d.key, d.dlid), zap.String("previous_dlid", record.DLID))...)
	}
	if !domain.ValidateState(d.status.State) {
		r.deps.Logger.Warn("Restored download has an unknown state",
			append(logger.Download(d.key, d.dlid), zap.String("state", string(d.status.State)))...)
	}

	r.register(d)
	return d
}

// UpdateStatus is the single entry point for daemon status reports
func (r *Registry) UpdateStatus(report domain.StatusReport) {
	r.loop.assertOnLoop()

	if r.deps.MultiLogger != nil {
		r.deps.MultiLogger.LogDaemonStatus(report.DLID, string(report.Status.State),
			zap.Int64("current_size", report.Status.CurrentSize),
			zap.Int64("total_size", report.Status.TotalSize),
			zap.Float64("rate", report.Status.Rate))
	}

	d := r.byDLID[report.DLID]
	if d == nil {
		return
	}
	d.onStatusUpdate(report.Status)
}

// IsTracked reports whether the daemon holds live state for dlid
func (r *Registry) IsTracked(dlid string) bool {
	r.loop.assertOnLoop()
	_, ok := r.tracked[dlid]
	return ok
}

func (r *Registry) track(d *RemoteDownloader) {
	r.tracked[d.dlid] = struct{}{}
}

func (r *Registry) untrack(dlid string) {
	delete(r.tracked, dlid)
}

func (r *Registry) register(d *RemoteDownloader) {
	r.byKey[d.key] = d
	r.byDLID[d.dlid] = d
	r.byURL[d.originalURL] = d
}

// reassignID moves d to a freshly allocated dlid
func (r *Registry) reassignID(d *RemoteDownloader) {
	r.untrack(d.dlid)
	delete(r.byDLID, d.dlid)
	d.dlid = r.AllocateID()
	r.byDLID[d.dlid] = d
}

func (r *Registry) unregister(d *RemoteDownloader) {
	r.untrack(d.dlid)
	delete(r.byKey, d.key)
	if r.byDLID[d.dlid] == d {
		delete(r.byDLID, d.dlid)
	}
	if r.byURL[d.originalURL] == d {
		delete(r.byURL, d.originalURL)
	}
	if r.deps.Repo != nil {
		if err := r.deps.Repo.Delete(d.key); err != nil {
			r.logError("Failed to delete download record", err, d)
		}
	}
}

// send delivers cmd to the daemon if the download's state allows it
func (r *Registry) send(d *RemoteDownloader, cmd domain.Command) error {
	if !domain.CommandAllowed(cmd.Kind(), d.status.State) {
		return fmt.Errorf("%s not allowed in state %s", cmd.Kind(), d.status.State)
	}
	if r.deps.Daemon == nil {
		return domain.ErrNotStarted
	}
	if err := r.deps.Daemon.Send(cmd); err != nil {
		return err
	}
	if r.deps.MultiLogger != nil {
		r.deps.MultiLogger.LogDaemonCommand(string(cmd.Kind()), cmd.DLID(), zap.String("key", d.key))
	}
	return nil
}

// async runs work off the loop and posts the callback it returns back onto
// the loop
func (r *Registry) async(work func(ctx context.Context) func()) {
	ctx := r.ctx
	go func() {
		done := work(ctx)
		if !r.loop.Post(done) {
			r.deps.Logger.Debug("Dropped resolution result, controller loop stopped")
		}
	}()
}

func (r *Registry) logError(msg string, err error, d *RemoteDownloader) {
	fields := append(logger.Download(d.key, d.dlid), zap.Error(err))
	r.deps.Logger.Error(msg, fields...)
	if r.deps.MultiLogger != nil {
		r.deps.MultiLogger.LogAppError(msg, fields...)
	}
}

var windowsDrivePath = regexp.MustCompile(`^/[a-zA-Z]:`)

// fileURLPath returns the local path of a file:// URL
func fileURLPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	path := u.Path
	if windowsDrivePath.MatchString(path) {
		path = path[1:]
	}
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	return path, nil
}
