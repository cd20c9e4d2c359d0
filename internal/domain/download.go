package domain

import (
	"time"

	"github.com/google/uuid"
)

// Content types the controller treats specially
const (
	ContentTypeTorrent = "application/x-bittorrent"
	ContentTypeHTML    = "text/html"
)

// DownloadType is the daemon engine family a download will use
type DownloadType string

const (
	TypeHTTP       DownloadType = "http"
	TypeBitTorrent DownloadType = "bittorrent"
)

// DownloadTypeFor returns the engine family for a content type
func DownloadTypeFor(contentType string) DownloadType {
	if contentType == ContentTypeTorrent {
		return TypeBitTorrent
	}
	return TypeHTTP
}

// LegacyNoID is the dlid very old databases stored before ids were assigned
const LegacyNoID = "noid"

// DownloadRecord is the persisted form of a remote download
type DownloadRecord struct {
	ID          string         `json:"id" gorm:"primaryKey"`
	DLID        string         `json:"dlid" gorm:"index"`
	OriginalURL string         `json:"original_url" gorm:"not null;index"`
	URL         string         `json:"url" gorm:"not null"`
	ContentType string         `json:"content_type"`
	ChannelName *string        `json:"channel_name,omitempty"`
	DeleteFiles bool           `json:"delete_files"`
	Status      DownloadStatus `json:"status" gorm:"serializer:json;type:text"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName keeps the table name stable across struct renames
func (DownloadRecord) TableName() string {
	return "remote_downloads"
}

// NewRecordID returns a fresh stable key for a download record
func NewRecordID() string {
	return uuid.New().String()
}
