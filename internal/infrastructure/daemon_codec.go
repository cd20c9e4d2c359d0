package infrastructure

import (
	"fmt"

	"github.com/yourusername/remotedl-go/internal/domain"
)

// MessageStatus is the envelope type of inbound status reports
const MessageStatus = "status"

// Envelope is one JSON message exchanged with the daemon
type Envelope struct {
	Type        string                 `json:"type"`
	DLID        string                 `json:"dlid,omitempty"`
	URL         string                 `json:"url,omitempty"`
	ContentType string                 `json:"content_type,omitempty"`
	ChannelName string                 `json:"channel_name,omitempty"`
	Delete      bool                   `json:"delete,omitempty"`
	Directory   string                 `json:"directory,omitempty"`
	Status      *domain.DownloadStatus `json:"status,omitempty"`
}

// EncodeCommand converts a command into its wire envelope
func EncodeCommand(cmd domain.Command) (Envelope, error) {
	env := Envelope{Type: string(cmd.Kind()), DLID: cmd.DLID()}
	switch c := cmd.(type) {
	case domain.StartNewDownload:
		env.URL = c.URL
		env.ContentType = c.ContentType
		env.ChannelName = c.ChannelName
	case domain.StopDownload:
		env.Delete = c.Delete
	case domain.MigrateDownload:
		env.Directory = c.Directory
	case domain.RestoreDownload:
		status := c.Status
		env.Status = &status
	case domain.PauseDownload, domain.ResumeDownload, domain.ShutdownDaemon:
	default:
		return Envelope{}, fmt.Errorf("unknown command %T", cmd)
	}
	return env, nil
}

// DecodeStatus extracts a status report from an inbound envelope
func DecodeStatus(env Envelope) (domain.StatusReport, error) {
	if env.Type != MessageStatus {
		return domain.StatusReport{}, fmt.Errorf("unexpected message type %q", env.Type)
	}
	if env.DLID == "" {
		return domain.StatusReport{}, fmt.Errorf("status report without dlid")
	}
	if env.Status == nil {
		return domain.StatusReport{}, fmt.Errorf("status report for %s without status", env.DLID)
	}
	return domain.StatusReport{DLID: env.DLID, Status: *env.Status}, nil
}
