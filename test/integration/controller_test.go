//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/api"
	"github.com/yourusername/remotedl-go/internal/app"
	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/internal/infrastructure"
)

// daemon is a websocket peer speaking the daemon protocol
type daemon struct {
	server   *httptest.Server
	received chan infrastructure.Envelope
	conns    chan *websocket.Conn
}

func newDaemon(t *testing.T) *daemon {
	t.Helper()
	d := &daemon{
		received: make(chan infrastructure.Envelope, 32),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.conns <- conn
		for {
			var env infrastructure.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			d.received <- env
		}
	}))
	t.Cleanup(d.server.Close)
	return d
}

func (d *daemon) url() string {
	return "ws" + strings.TrimPrefix(d.server.URL, "http")
}

func (d *daemon) expect(t *testing.T, kind domain.CommandKind) infrastructure.Envelope {
	t.Helper()
	select {
	case env := <-d.received:
		require.Equal(t, string(kind), env.Type)
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", kind)
		return infrastructure.Envelope{}
	}
}

func (d *daemon) report(t *testing.T, conn *websocket.Conn, dlid string, status domain.DownloadStatus) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(infrastructure.Envelope{
		Type:   infrastructure.MessageStatus,
		DLID:   dlid,
		Status: &status,
	}))
}

type stack struct {
	manager *app.Manager
	server  *httptest.Server
	repo    *infrastructure.SQLiteDownloadRepository
}

func startStack(t *testing.T, config *domain.Config, daemonURL string) *stack {
	t.Helper()
	log := zap.NewNop()

	repo, err := infrastructure.NewSQLiteDownloadRepository(config.Database.Path)
	require.NoError(t, err)

	config.Daemon.Transport = domain.TransportWebSocket
	config.Daemon.URL = daemonURL
	client := infrastructure.NewDaemonClient(
		infrastructure.WebSocketDialer(daemonURL, config.Resolver.UserAgent, log), config.Daemon, log)
	notifier := infrastructure.NewNotificationService(&config.Notification, log)

	manager := app.NewManager(config, repo, client,
		infrastructure.NewHTTPProber(config.Resolver, log),
		infrastructure.NewPageScraper(config.Resolver, log),
		infrastructure.NewMetainfoInspector(),
		log,
		app.WithRestoredConsumer(func(info app.DownloadInfo) domain.Consumer {
			return app.NewRequestItem(info.OriginalURL, "", info.ChannelName, notifier, log)
		}),
	)
	require.NoError(t, manager.Start(context.Background()))

	router := api.SetupRouter(api.RouterConfig{
		Downloads: manager,
		Records:   repo,
		Notifier:  notifier,
		Logger:    log,
		LogsDir:   config.Download.LogsDir(),
	})
	return &stack{manager: manager, server: httptest.NewServer(router), repo: repo}
}

func (s *stack) stop(t *testing.T) {
	t.Helper()
	s.server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.manager.Shutdown(ctx))
	assert.NoError(t, s.repo.Close())
}

func (s *stack) getDownload(t *testing.T, id string) app.DownloadInfo {
	t.Helper()
	resp, err := http.Get(s.server.URL + "/api/v1/downloads/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info app.DownloadInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	return info
}

func testConfig(t *testing.T) *domain.Config {
	config := domain.DefaultConfig()
	config.Download.MoviesDir = t.TempDir()
	config.Database.Path = filepath.Join(config.Download.MoviesDir, "downloads.db")
	config.Daemon.ShutdownTimeout = time.Second
	config.Resolver.Timeout = 5 * time.Second
	require.NoError(t, os.MkdirAll(config.Download.IncompleteDir(), 0755))
	return config
}

func TestController_DownloadSurvivesRestart(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
	}))
	defer media.Close()

	config := testConfig(t)
	first := newDaemon(t)
	s := startStack(t, config, first.url())

	payload, _ := json.Marshal(map[string]string{"url": media.URL + "/clip.mp4", "channel": "news"})
	resp, err := http.Post(s.server.URL+"/api/v1/downloads", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Download app.DownloadInfo `json:"download"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	start := first.expect(t, domain.CommandStartNew)
	assert.Equal(t, created.Download.DLID, start.DLID)
	assert.Equal(t, "video/mp4", start.ContentType)
	assert.Equal(t, "news", start.ChannelName)

	conn := <-first.conns
	status := domain.NewStatus(domain.StateDownloading)
	status.EngineType = domain.Optional("http")
	status.TotalSize = 1000
	status.CurrentSize = 250
	status.Rate = 125
	first.report(t, conn, start.DLID, status)

	key := created.Download.Key
	require.Eventually(t, func() bool {
		return s.getDownload(t, key).Status.CurrentSize == 250
	}, 5*time.Second, 20*time.Millisecond)

	s.stop(t)
	first.expect(t, domain.CommandShutdown)

	second := newDaemon(t)
	s = startStack(t, config, second.url())
	defer s.stop(t)

	restore := second.expect(t, domain.CommandRestore)
	require.NotNil(t, restore.Status)
	assert.Equal(t, start.DLID, restore.DLID)
	assert.Equal(t, int64(250), restore.Status.CurrentSize)
	assert.Zero(t, restore.Status.Rate)

	info := s.getDownload(t, key)
	assert.Equal(t, domain.StateDownloading, info.Status.State)
	assert.Equal(t, "news", info.ChannelName)
	assert.True(t, info.Tracked)
	assert.True(t, info.DeleteFiles)

	resp, err = http.Post(s.server.URL+"/api/v1/downloads/"+key+"/pause", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	second.expect(t, domain.CommandPause)
}

func TestController_RejectsUnreachableSource(t *testing.T) {
	config := testConfig(t)
	fake := newDaemon(t)
	s := startStack(t, config, fake.url())
	defer s.stop(t)

	payload, _ := json.Marshal(map[string]string{"url": "file:///does/not/exist.torrent"})
	resp, err := http.Post(s.server.URL+"/api/v1/downloads", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
