package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/app"
	"github.com/yourusername/remotedl-go/internal/domain"
	"github.com/yourusername/remotedl-go/internal/infrastructure"
)

// DownloadService is the part of the download manager the HTTP API uses
type DownloadService interface {
	Request(ctx context.Context, item domain.Consumer) (app.DownloadInfo, error)
	Get(ctx context.Context, id string) (app.DownloadInfo, error)
	List(ctx context.Context) ([]app.DownloadInfo, error)
	Pause(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, deleteData bool) error
	Resume(ctx context.Context, id string) error
	Migrate(ctx context.Context, id, directory string) error
	Remove(ctx context.Context, id string) error
	Release(ctx context.Context, id, consumerID string) error
	SetDeleteFiles(ctx context.Context, id string, deleteFiles bool) error
	SetChannelName(ctx context.Context, id, name string) error
	FailureReasons(ctx context.Context, id string) (short, long string, err error)
}

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	downloads DownloadService
	notifier  *infrastructure.NotificationService
	logger    *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(downloads DownloadService, notifier *infrastructure.NotificationService, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		notifier:  notifier,
		logger:    logger,
	}
}

// AddDownloadRequest represents a request to add a download
type AddDownloadRequest struct {
	URL           string `json:"url" binding:"required"`
	EnclosureType string `json:"enclosure_type,omitempty"`
	Channel       string `json:"channel,omitempty"`
}

// AddDownloadResponse is returned for a new or joined download
type AddDownloadResponse struct {
	RequestID string           `json:"request_id"`
	Download  app.DownloadInfo `json:"download"`
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req AddDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item := app.NewRequestItem(req.URL, req.EnclosureType, req.Channel, h.notifier, h.logger)
	info, err := h.downloads.Request(c.Request.Context(), item)
	if err != nil {
		h.writeError(c, "Failed to add download", err)
		return
	}

	status := http.StatusOK
	if info.Consumers == 1 {
		status = http.StatusCreated
		h.notifier.NotifyDownloadQueued(req.URL)
	}
	c.JSON(status, AddDownloadResponse{RequestID: item.ID(), Download: info})
}

// GetDownload handles GET /api/v1/downloads/:id
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	info, err := h.downloads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get download", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	downloads, err := h.downloads.List(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to list downloads", err)
		return
	}

	if state := domain.DownloadState(c.Query("state")); state != "" {
		if !domain.ValidateState(state) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
			return
		}
		filtered := downloads[:0]
		for _, d := range downloads {
			if d.Status.State == state {
				filtered = append(filtered, d)
			}
		}
		downloads = filtered
	}

	c.JSON(http.StatusOK, downloads)
}

// PauseDownload handles POST /api/v1/downloads/:id/pause
func (h *DownloadHandler) PauseDownload(c *gin.Context) {
	h.act(c, "paused", h.downloads.Pause)
}

// StopDownload handles POST /api/v1/downloads/:id/stop
func (h *DownloadHandler) StopDownload(c *gin.Context) {
	deleteData, err := strconv.ParseBool(c.DefaultQuery("delete", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delete flag"})
		return
	}
	h.act(c, "stopped", func(ctx context.Context, id string) error {
		return h.downloads.Stop(ctx, id, deleteData)
	})
}

// StartDownload handles POST /api/v1/downloads/:id/start
func (h *DownloadHandler) StartDownload(c *gin.Context) {
	h.act(c, "started", h.downloads.Resume)
}

// MigrateRequest represents a request to move a download's files
type MigrateRequest struct {
	Directory string `json:"directory" binding:"required"`
}

// MigrateDownload handles POST /api/v1/downloads/:id/migrate
func (h *DownloadHandler) MigrateDownload(c *gin.Context) {
	var req MigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.act(c, "migrated", func(ctx context.Context, id string) error {
		return h.downloads.Migrate(ctx, id, req.Directory)
	})
}

// UpdateRequest changes download settings. Omitted fields are left alone.
type UpdateRequest struct {
	ChannelName *string `json:"channel_name"`
	DeleteFiles *bool   `json:"delete_files"`
}

// UpdateDownload handles PATCH /api/v1/downloads/:id
func (h *DownloadHandler) UpdateDownload(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, id := c.Request.Context(), c.Param("id")
	if req.ChannelName != nil {
		if err := h.downloads.SetChannelName(ctx, id, *req.ChannelName); err != nil {
			h.writeError(c, "Failed to set channel name", err)
			return
		}
	}
	if req.DeleteFiles != nil {
		if err := h.downloads.SetDeleteFiles(ctx, id, *req.DeleteFiles); err != nil {
			h.writeError(c, "Failed to set delete files", err)
			return
		}
	}
	h.GetDownload(c)
}

// DeleteDownload handles DELETE /api/v1/downloads/:id
func (h *DownloadHandler) DeleteDownload(c *gin.Context) {
	h.act(c, "removed", h.downloads.Remove)
}

// ReleaseRequest identifies the request giving up its interest in a download
type ReleaseRequest struct {
	RequestID string `json:"request_id" binding:"required"`
}

// ReleaseDownload handles POST /api/v1/downloads/:id/release. The download
// is removed once its last request is released.
func (h *DownloadHandler) ReleaseDownload(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.act(c, "released", func(ctx context.Context, id string) error {
		return h.downloads.Release(ctx, id, req.RequestID)
	})
}

// GetFailure handles GET /api/v1/downloads/:id/failure
func (h *DownloadHandler) GetFailure(c *gin.Context) {
	short, long, err := h.downloads.FailureReasons(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get failure reasons", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"short_reason": short,
		"reason":       long,
	})
}

func (h *DownloadHandler) act(c *gin.Context, done string, fn func(ctx context.Context, id string) error) {
	id := c.Param("id")
	if err := fn(c.Request.Context(), id); err != nil {
		h.writeError(c, "Download operation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "download " + done})
}

func (h *DownloadHandler) writeError(c *gin.Context, msg string, err error) {
	var unsupported *domain.UnsupportedSourceError
	var invalidState *domain.InvalidStateQueryError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrDownloadNotFound), errors.Is(err, domain.ErrConsumerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotStarted), errors.Is(err, app.ErrLoopStopped):
		status = http.StatusServiceUnavailable
	case errors.As(err, &unsupported):
		status = http.StatusBadRequest
	case errors.As(err, &invalidState):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("id", c.Param("id")), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
