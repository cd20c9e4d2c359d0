package infrastructure

import (
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

// MetainfoInspector recognises .torrent files
type MetainfoInspector struct{}

// NewMetainfoInspector creates a torrent inspector
func NewMetainfoInspector() *MetainfoInspector {
	return &MetainfoInspector{}
}

// InfoHash returns the hex info-hash of the torrent file at path
func (MetainfoInspector) InfoHash(path string) (string, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return "", fmt.Errorf("not a torrent file: %w", err)
	}
	if _, err := mi.UnmarshalInfo(); err != nil {
		return "", fmt.Errorf("torrent has no valid info dictionary: %w", err)
	}
	return mi.HashInfoBytes().HexString(), nil
}

// MagnetInfoHash returns the hex info-hash of a magnet link
func (MetainfoInspector) MagnetInfoHash(uri string) (string, error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return "", fmt.Errorf("invalid magnet link: %w", err)
	}
	return m.InfoHash.HexString(), nil
}
