package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/pkg/logger"
)

// DownloadInfo is a point-in-time copy of a download for callers outside the
// controller loop
type DownloadInfo struct {
	Key             string                `json:"key"`
	DLID            string                `json:"dlid"`
	URL             string                `json:"url"`
	OriginalURL     string                `json:"original_url"`
	ContentType     string                `json:"content_type"`
	Type            domain.DownloadType   `json:"type"`
	ChannelName     string                `json:"channel_name,omitempty"`
	Status          domain.DownloadStatus `json:"status"`
	StartupActivity string                `json:"startup_activity"`
	Tracked         bool                  `json:"tracked"`
	DeleteFiles     bool                  `json:"delete_files"`
	Consumers       int                   `json:"consumers"`
	CreatedAt       time.Time             `json:"created_at"`
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithRestoredConsumer attaches a consumer built by fn to every download
// restored at startup
func WithRestoredConsumer(fn func(info DownloadInfo) domain.Consumer) ManagerOption {
	return func(m *Manager) { m.restoredConsumer = fn }
}

// WithRandSource overrides the random source used for download ids
func WithRandSource(r RandSource) ManagerOption {
	return func(m *Manager) { m.deps.Rand = r }
}

// WithMultiLogger records daemon traffic and errors to category log files
func WithMultiLogger(ml *logger.MultiLogger) ManagerOption {
	return func(m *Manager) { m.deps.MultiLogger = ml }
}

// Manager is the thread-safe entry point to the download controller. Every
// call is executed on the controller loop.
type Manager struct {
	config           *domain.Config
	loop             *Loop
	reg              *Registry
	daemon           domain.Daemon
	deps             RegistryDeps
	logger           *zap.Logger
	restoredConsumer func(info DownloadInfo) domain.Consumer

	mu       sync.Mutex
	started  bool
	ready    bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewManager creates a new download manager
func NewManager(
	config *domain.Config,
	repo domain.DownloadRepository,
	daemon domain.Daemon,
	prober domain.ContentTypeProber,
	resolver domain.SourceResolver,
	inspector domain.TorrentInspector,
	logger *zap.Logger,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		config: config,
		loop:   NewLoop(config.Download.LoopBuffer),
		daemon: daemon,
		logger: logger,
		deps: RegistryDeps{
			Prober:    prober,
			Resolver:  resolver,
			Inspector: inspector,
			Repo:      repo,
			Logger:    logger,
			Config:    config.Download,
		},
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	// The daemon is attached during startup, after cleanup.
	m.reg = NewRegistry(m.loop, m.deps)
	return m
}

// Start runs the controller loop and the startup routine. Requests are
// rejected until it returns successfully.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("download manager already started")
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		defer close(m.loopDone)
		if err := m.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("Controller loop exited", zap.Error(err))
		}
	}()

	err := m.loop.Do(ctx, func() error {
		return m.startup(loopCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to start download manager: %w", err)
	}

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
	return nil
}

// Request returns the download for the item's URL, creating it if needed,
// and registers item as one of its consumers
func (m *Manager) Request(ctx context.Context, item domain.Consumer) (DownloadInfo, error) {
	if err := m.checkReady(); err != nil {
		return DownloadInfo{}, err
	}
	var info DownloadInfo
	err := m.loop.Do(ctx, func() error {
		d, err := m.reg.GetOrCreate(item)
		if err != nil {
			return err
		}
		info = m.snapshot(d)
		return nil
	})
	return info, err
}

// Get returns the download with the given key or dlid
func (m *Manager) Get(ctx context.Context, id string) (DownloadInfo, error) {
	var info DownloadInfo
	err := m.withDownload(ctx, id, func(d *RemoteDownloader) {
		info = m.snapshot(d)
	})
	return info, err
}

// GetByURL returns the download requested for url
func (m *Manager) GetByURL(ctx context.Context, rawURL string) (DownloadInfo, error) {
	var info DownloadInfo
	err := m.loop.Do(ctx, func() error {
		d := m.reg.FindByURL(rawURL)
		if d == nil {
			return domain.ErrDownloadNotFound
		}
		info = m.snapshot(d)
		return nil
	})
	return info, err
}

// List returns every download, oldest first
func (m *Manager) List(ctx context.Context) ([]DownloadInfo, error) {
	var infos []DownloadInfo
	err := m.loop.Do(ctx, func() error {
		all := m.reg.All()
		infos = make([]DownloadInfo, 0, len(all))
		for _, d := range all {
			infos = append(infos, m.snapshot(d))
		}
		return nil
	})
	return infos, err
}

// Pause pauses a download
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.withDownload(ctx, id, (*RemoteDownloader).Pause)
}

// Stop stops a download, deleting its data when deleteData is set
func (m *Manager) Stop(ctx context.Context, id string, deleteData bool) error {
	return m.withDownload(ctx, id, func(d *RemoteDownloader) { d.Stop(deleteData) })
}

// Resume continues a paused, stopped or offline download, or retries a failed one
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.withDownload(ctx, id, (*RemoteDownloader).Start)
}

// Migrate moves a download's files into directory
func (m *Manager) Migrate(ctx context.Context, id, directory string) error {
	if directory == "" {
		return fmt.Errorf("directory is required")
	}
	return m.withDownload(ctx, id, func(d *RemoteDownloader) { d.Migrate(directory) })
}

// Remove stops a download and forgets it
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.withDownload(ctx, id, (*RemoteDownloader).Remove)
}

// Release detaches the consumer with consumerID from a download; the
// download is removed once its last consumer is released
func (m *Manager) Release(ctx context.Context, id, consumerID string) error {
	var found bool
	err := m.withDownload(ctx, id, func(d *RemoteDownloader) { found = d.RemoveConsumerByID(consumerID) })
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrConsumerNotFound
	}
	return nil
}

// SetDeleteFiles controls whether removing a download deletes its data
func (m *Manager) SetDeleteFiles(ctx context.Context, id string, deleteFiles bool) error {
	return m.withDownload(ctx, id, func(d *RemoteDownloader) { d.SetDeleteFiles(deleteFiles) })
}

// SetChannelName sets the channel label of a download once
func (m *Manager) SetChannelName(ctx context.Context, id, name string) error {
	return m.withDownload(ctx, id, func(d *RemoteDownloader) { d.SetChannelName(name) })
}

// FailureReasons returns the short and long failure reasons of a failed
// download
func (m *Manager) FailureReasons(ctx context.Context, id string) (short, long string, err error) {
	var queryErr error
	err = m.withDownload(ctx, id, func(d *RemoteDownloader) {
		if short, queryErr = d.ShortReasonFailed(); queryErr != nil {
			return
		}
		long, queryErr = d.ReasonFailed()
	})
	if err != nil {
		return "", "", err
	}
	return short, long, queryErr
}

// Shutdown tells the daemon to exit, closes the channel and stops the loop
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.ready = false
	m.mu.Unlock()
	if !started {
		return nil
	}

	var shutdownErr error
	err := m.loop.Do(ctx, func() error {
		if m.reg.deps.Daemon == nil {
			return nil
		}
		if err := m.reg.deps.Daemon.Send(domain.ShutdownDaemon{}); err != nil {
			m.logger.Warn("Failed to send daemon shutdown", zap.Error(err))
		} else if m.deps.MultiLogger != nil {
			m.deps.MultiLogger.LogDaemonCommand(string(domain.CommandShutdown), "")
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrLoopStopped) {
		shutdownErr = err
	}

	if m.daemon != nil {
		if err := m.daemon.Close(); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("failed to close daemon: %w", err)
		}
	}

	m.loop.Stop()
	m.cancel()
	select {
	case <-m.loopDone:
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}
	return shutdownErr
}

// Ready reports whether startup has completed and requests are accepted
func (m *Manager) Ready() bool {
	return m.checkReady() == nil
}

func (m *Manager) checkReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return domain.ErrNotStarted
	}
	return nil
}

func (m *Manager) withDownload(ctx context.Context, id string, fn func(d *RemoteDownloader)) error {
	return m.loop.Do(ctx, func() error {
		d := m.reg.FindByKey(id)
		if d == nil {
			d = m.reg.FindByID(id)
		}
		if d == nil {
			return domain.ErrDownloadNotFound
		}
		fn(d)
		return nil
	})
}

func (m *Manager) snapshot(d *RemoteDownloader) DownloadInfo {
	return DownloadInfo{
		Key:             d.Key(),
		DLID:            d.DLID(),
		URL:             d.URL(),
		OriginalURL:     d.OriginalURL(),
		ContentType:     d.ContentType(),
		Type:            d.DownloadType(),
		ChannelName:     d.ChannelName(),
		Status:          d.Status(),
		StartupActivity: d.StartupActivity(),
		Tracked:         m.reg.IsTracked(d.DLID()),
		DeleteFiles:     d.DeleteFiles(),
		Consumers:       len(d.Consumers()),
		CreatedAt:       d.createdAt,
	}
}
