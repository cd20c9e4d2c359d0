package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/remotedl-go/internal/domain"
)

// Transport carries JSON messages to and from the daemon. The writer and
// the reader side are each used by a single goroutine.
type Transport interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer opens a transport to the daemon
type Dialer func(ctx context.Context) (Transport, error)

// DaemonClient implements domain.Daemon over a Transport. Commands are
// queued and written by one goroutine; reports are read by another and
// delivered in arrival order.
type DaemonClient struct {
	dial            Dialer
	logger          *zap.Logger
	shutdownTimeout time.Duration

	queue      chan Envelope
	mu         sync.Mutex
	started    bool
	closed     bool
	lost       atomic.Bool
	closing    atomic.Bool
	transport  Transport
	cancel     context.CancelFunc
	writerDone chan struct{}
	done       chan struct{}
}

// NewDaemonClient creates a client that connects with dial on Start
func NewDaemonClient(dial Dialer, config domain.DaemonConfig, logger *zap.Logger) *DaemonClient {
	buffer := config.CommandBuffer
	if buffer < 1 {
		buffer = 1
	}
	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DaemonClient{
		dial:            dial,
		logger:          logger,
		shutdownTimeout: timeout,
		queue:           make(chan Envelope, buffer),
		writerDone:      make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start connects to the daemon and starts the writer and reader goroutines
func (c *DaemonClient) Start(ctx context.Context, onStatus func(domain.StatusReport)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("daemon client already started")
	}
	if c.closed {
		return domain.ErrDaemonClosed
	}

	transport, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	c.transport = transport
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer close(c.writerDone)
		return c.writeLoop(gctx, transport)
	})
	g.Go(func() error {
		return c.readLoop(transport, onStatus)
	})
	g.Go(func() error {
		// Unblocks the reader when the writer fails or the context ends.
		<-gctx.Done()
		transport.Close()
		return nil
	})

	go func() {
		defer close(c.done)
		err := g.Wait()
		c.lost.Store(true)
		if err != nil && !c.closing.Load() && !errors.Is(err, context.Canceled) {
			c.logger.Error("Daemon channel lost", zap.Error(err))
		}
	}()

	c.logger.Info("Connected to download daemon")
	return nil
}

// Send queues cmd for the writer goroutine. It never blocks.
func (c *DaemonClient) Send(cmd domain.Command) error {
	env, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.lost.Load() {
		return domain.ErrDaemonClosed
	}

	select {
	case c.queue <- env:
		return nil
	default:
		return domain.ErrCommandQueueFull
	}
}

// Close flushes queued commands, waiting at most the shutdown timeout, and
// tears the channel down
func (c *DaemonClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closing.Store(true)
	close(c.queue)
	started := c.started
	c.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-c.writerDone:
	case <-time.After(c.shutdownTimeout):
		c.logger.Warn("Timed out flushing daemon commands")
	}

	wasLost := c.lost.Load()
	err := c.transport.Close()
	c.cancel()
	<-c.done
	if wasLost {
		// The transport was already torn down when the channel was lost.
		return nil
	}
	return err
}

func (c *DaemonClient) writeLoop(ctx context.Context, t Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-c.queue:
			if !ok {
				return nil
			}
			if err := t.WriteJSON(env); err != nil {
				return fmt.Errorf("failed to write %s command: %w", env.Type, err)
			}
		}
	}
}

func (c *DaemonClient) readLoop(t Transport, onStatus func(domain.StatusReport)) error {
	for {
		var env Envelope
		if err := t.ReadJSON(&env); err != nil {
			if c.closing.Load() {
				return nil
			}
			return fmt.Errorf("failed to read daemon message: %w", err)
		}

		if env.Type != MessageStatus {
			c.logger.Debug("Ignoring daemon message", zap.String("type", env.Type))
			continue
		}
		report, err := DecodeStatus(env)
		if err != nil {
			c.logger.Warn("Malformed status report", zap.Error(err))
			continue
		}
		onStatus(report)
	}
}
