package infrastructure

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketDialer returns a Dialer for a daemon already listening at url.
// A *websocket.Conn already satisfies Transport.
func WebSocketDialer(url, userAgent string, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		header := http.Header{}
		if userAgent != "" {
			header.Set("User-Agent", userAgent)
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("failed to dial daemon at %s (status %d): %w", url, resp.StatusCode, err)
			}
			return nil, fmt.Errorf("failed to dial daemon at %s: %w", url, err)
		}
		logger.Info("Connected to daemon socket", zap.String("url", url))
		return conn, nil
	}
}
