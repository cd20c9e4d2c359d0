package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/api/handlers"
	"github.com/yourusername/remotedl-go/internal/app"
	"github.com/yourusername/remotedl-go/internal/domain"
)

// fakeService keeps downloads in a map keyed by URL
type fakeService struct {
	ready     bool
	downloads map[string]*app.DownloadInfo
	consumers map[string][]string
	calls     []string
}

func newFakeService() *fakeService {
	return &fakeService{
		ready:     true,
		downloads: make(map[string]*app.DownloadInfo),
		consumers: make(map[string][]string),
	}
}

func (f *fakeService) Ready() bool { return f.ready }

func (f *fakeService) Request(ctx context.Context, item domain.Consumer) (app.DownloadInfo, error) {
	if !f.ready {
		return app.DownloadInfo{}, domain.ErrNotStarted
	}
	if item.URL() == "file:///tmp/notes.txt" {
		return app.DownloadInfo{}, &domain.UnsupportedSourceError{URL: item.URL()}
	}
	info, ok := f.downloads[item.URL()]
	if !ok {
		info = &app.DownloadInfo{
			Key:         "key-" + item.URL(),
			DLID:        "download00000001",
			OriginalURL: item.URL(),
			URL:         item.URL(),
			Status:      domain.NewStatus(domain.StateResolvingType),
		}
		f.downloads[item.URL()] = info
	}
	info.Consumers++
	f.consumers[info.Key] = append(f.consumers[info.Key], item.ID())
	return *info, nil
}

func (f *fakeService) Release(ctx context.Context, id, consumerID string) error {
	info, err := f.find(id)
	if err != nil {
		return err
	}
	ids := f.consumers[info.Key]
	for i, existing := range ids {
		if existing == consumerID {
			f.consumers[info.Key] = append(ids[:i], ids[i+1:]...)
			info.Consumers--
			if info.Consumers == 0 {
				delete(f.downloads, info.OriginalURL)
			}
			return nil
		}
	}
	return domain.ErrConsumerNotFound
}

func (f *fakeService) find(id string) (*app.DownloadInfo, error) {
	for _, info := range f.downloads {
		if info.Key == id || info.DLID == id {
			return info, nil
		}
	}
	return nil, domain.ErrDownloadNotFound
}

func (f *fakeService) Get(ctx context.Context, id string) (app.DownloadInfo, error) {
	info, err := f.find(id)
	if err != nil {
		return app.DownloadInfo{}, err
	}
	return *info, nil
}

func (f *fakeService) List(ctx context.Context) ([]app.DownloadInfo, error) {
	var out []app.DownloadInfo
	for _, info := range f.downloads {
		out = append(out, *info)
	}
	return out, nil
}

func (f *fakeService) record(call, id string) error {
	if _, err := f.find(id); err != nil {
		return err
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeService) Pause(ctx context.Context, id string) error  { return f.record("pause", id) }
func (f *fakeService) Resume(ctx context.Context, id string) error { return f.record("resume", id) }
func (f *fakeService) Remove(ctx context.Context, id string) error { return f.record("remove", id) }

func (f *fakeService) Stop(ctx context.Context, id string, deleteData bool) error {
	if deleteData {
		return f.record("stop+delete", id)
	}
	return f.record("stop", id)
}

func (f *fakeService) Migrate(ctx context.Context, id, directory string) error {
	return f.record("migrate:"+directory, id)
}

func (f *fakeService) SetDeleteFiles(ctx context.Context, id string, deleteFiles bool) error {
	info, err := f.find(id)
	if err != nil {
		return err
	}
	info.DeleteFiles = deleteFiles
	return nil
}

func (f *fakeService) SetChannelName(ctx context.Context, id, name string) error {
	info, err := f.find(id)
	if err != nil {
		return err
	}
	if info.ChannelName == "" {
		info.ChannelName = name
	}
	return nil
}

func (f *fakeService) FailureReasons(ctx context.Context, id string) (string, string, error) {
	info, err := f.find(id)
	if err != nil {
		return "", "", err
	}
	if info.Status.State != domain.StateFailed {
		return "", "", &domain.InvalidStateQueryError{Query: "ShortReasonFailed", State: info.Status.State}
	}
	return info.Status.ShortReasonFailed, info.Status.ReasonFailed, nil
}

type fakeCounter struct{ n int64 }

func (f fakeCounter) Count() (int64, error) { return f.n, nil }

func setupTestRouter(t *testing.T, svc *fakeService) (http.Handler, string) {
	t.Helper()
	logsDir := t.TempDir()
	router := SetupRouter(RouterConfig{
		Downloads: svc,
		Records:   fakeCounter{n: int64(len(svc.downloads))},
		Logger:    zap.NewNop(),
		LogsDir:   logsDir,
	})
	return router, logsDir
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndReady(t *testing.T) {
	svc := newFakeService()
	router, _ := setupTestRouter(t, svc)

	w := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Controller.Ready)

	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/ready", nil).Code)
	svc.ready = false
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, router, http.MethodGet, "/ready", nil).Code)
}

func TestAddDownload(t *testing.T) {
	svc := newFakeService()
	router, _ := setupTestRouter(t, svc)

	w := doRequest(t, router, http.MethodPost, "/api/v1/downloads", map[string]string{"url": "http://example.com/a.mp4"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp handlers.AddDownloadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "http://example.com/a.mp4", resp.Download.OriginalURL)

	// A second request for the same URL joins the download
	w = doRequest(t, router, http.MethodPost, "/api/v1/downloads", map[string]string{"url": "http://example.com/a.mp4"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, svc.downloads, 1)
}

func TestAddDownload_Errors(t *testing.T) {
	svc := newFakeService()
	router, _ := setupTestRouter(t, svc)

	w := doRequest(t, router, http.MethodPost, "/api/v1/downloads", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/v1/downloads", map[string]string{"url": "file:///tmp/notes.txt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.ready = false
	w = doRequest(t, router, http.MethodPost, "/api/v1/downloads", map[string]string{"url": "http://example.com/a.mp4"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDownloadActions(t *testing.T) {
	svc := newFakeService()
	router, _ := setupTestRouter(t, svc)
	_, err := svc.Request(context.Background(), app.NewRequestItem("http://example.com/a.mp4", "", "", nil, nil))
	require.NoError(t, err)
	key := "key-http://example.com/a.mp4"
	base := "/api/v1/downloads/download00000001"

	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodPost, base+"/pause", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodPost, base+"/stop?delete=true", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodPost, base+"/stop", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodPost, base+"/stop?delete=maybe", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodPost, base+"/start", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodPost, base+"/migrate", map[string]string{"directory": "/media"}).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodPost, base+"/migrate", map[string]string{}).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodDelete, base, nil).Code)

	assert.Equal(t, []string{"pause", "stop+delete", "stop", "resume", "migrate:/media", "remove"}, svc.calls)

	w := doRequest(t, router, http.MethodGet, "/api/v1/downloads/"+"missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodPost, "/api/v1/downloads/missing/pause", nil).Code)

	w = doRequest(t, router, http.MethodPatch, base, map[string]interface{}{"channel_name": "News", "delete_files": false})
	require.Equal(t, http.StatusOK, w.Code)
	var info app.DownloadInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, key, info.Key)
	assert.Equal(t, "News", info.ChannelName)
	assert.False(t, info.DeleteFiles)
}

func TestReleaseDownload(t *testing.T) {
	svc := newFakeService()
	router, _ := setupTestRouter(t, svc)
	add := func() handlers.AddDownloadResponse {
		w := doRequest(t, router, http.MethodPost, "/api/v1/downloads", map[string]string{"url": "http://example.com/a.mp4"})
		require.Contains(t, []int{http.StatusCreated, http.StatusOK}, w.Code)
		var resp handlers.AddDownloadResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}
	first, second := add(), add()
	require.NotEqual(t, first.RequestID, second.RequestID)
	base := "/api/v1/downloads/" + first.Download.Key

	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodPost, base+"/release", map[string]string{}).Code)
	assert.Equal(t, http.StatusNotFound,
		doRequest(t, router, http.MethodPost, base+"/release", map[string]string{"request_id": "unknown"}).Code)

	assert.Equal(t, http.StatusOK,
		doRequest(t, router, http.MethodPost, base+"/release", map[string]string{"request_id": first.RequestID}).Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, base, nil).Code)

	assert.Equal(t, http.StatusOK,
		doRequest(t, router, http.MethodPost, base+"/release", map[string]string{"request_id": second.RequestID}).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodGet, base, nil).Code)
}

func TestListDownloads_FiltersByState(t *testing.T) {
	svc := newFakeService()
	router, _ := setupTestRouter(t, svc)
	svc.downloads["a"] = &app.DownloadInfo{Key: "a", Status: domain.NewStatus(domain.StatePaused)}
	svc.downloads["b"] = &app.DownloadInfo{Key: "b", Status: domain.NewStatus(domain.StateDownloading)}

	w := doRequest(t, router, http.MethodGet, "/api/v1/downloads?state=paused", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []app.DownloadInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Key)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodGet, "/api/v1/downloads?state=sleeping", nil).Code)
}

func TestGetFailure(t *testing.T) {
	svc := newFakeService()
	router, _ := setupTestRouter(t, svc)
	svc.downloads["a"] = &app.DownloadInfo{Key: "a", Status: domain.FailedStatus("File not found", "Got 404 status code")}
	svc.downloads["b"] = &app.DownloadInfo{Key: "b", Status: domain.NewStatus(domain.StateDownloading)}

	w := doRequest(t, router, http.MethodGet, "/api/v1/downloads/a/failure", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"short_reason":"File not found","reason":"Got 404 status code"}`, w.Body.String())

	assert.Equal(t, http.StatusConflict, doRequest(t, router, http.MethodGet, "/api/v1/downloads/b/failure", nil).Code)
}

func TestLogs(t *testing.T) {
	svc := newFakeService()
	router, logsDir := setupTestRouter(t, svc)

	path := filepath.Join(logsDir, "daemon-"+time.Now().Format("20060102")+".log")
	lines := `{"level":"info","timestamp":"2024-01-01T00:00:00Z","message":"Daemon command","kind":"pause","dlid":"download1"}` + "\n" +
		`{"level":"info","timestamp":"2024-01-01T00:00:01Z","message":"Daemon status","state":"paused","dlid":"download1"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))

	w := doRequest(t, router, http.MethodGet, "/api/v1/logs/categories", nil)
	assert.JSONEq(t, `{"categories":["daemon","error"]}`, w.Body.String())

	w = doRequest(t, router, http.MethodGet, "/api/v1/logs/daemon?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodGet, "/api/v1/logs/web", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodGet, "/api/v1/logs/daemon?date=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, http.MethodGet, "/api/v1/logs/daemon/search", nil).Code)

	w = doRequest(t, router, http.MethodGet, "/api/v1/logs/daemon/search?q=status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestNoRoute(t *testing.T) {
	router, _ := setupTestRouter(t, newFakeService())
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodGet, "/nope", nil).Code)
}
