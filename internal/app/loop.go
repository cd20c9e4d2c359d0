package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrLoopStopped is returned when work is submitted to a loop that is not running
var ErrLoopStopped = errors.New("controller loop stopped")

type onLoopKey struct{}

// Loop is the controller thread. It runs queued tasks one at a time, in
// submission order, on a single goroutine. Registry and controller state is
// only touched from inside a task.
type Loop struct {
	tasks   chan func()
	inTask  atomic.Bool
	owner   atomic.Uint64 // goroutine running Run, 0 when not running
	mu      sync.RWMutex
	running bool
	stopped bool
	done    chan struct{}
	stop    chan struct{}
}

// NewLoop creates a loop with room for buffer pending tasks
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled or Stop is called
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return fmt.Errorf("controller loop already started")
	}
	l.running = true
	l.mu.Unlock()

	l.owner.Store(goroutineID())
	defer close(l.done)
	defer func() {
		l.owner.Store(0)
		l.mu.Lock()
		l.running = false
		l.stopped = true
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case task := <-l.tasks:
			l.inTask.Store(true)
			task()
			l.inTask.Store(false)
		}
	}
}

// Stop ends Run after the current task and waits for it to return
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	wasRunning := l.running
	l.stopped = true
	close(l.stop)
	l.mu.Unlock()

	if wasRunning {
		<-l.done
	}
}

// Post queues fn from any goroutine without waiting for it to run. It
// returns false when the loop has stopped and fn was dropped.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	stopped := l.stopped
	l.mu.RUnlock()
	if stopped {
		return false
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Do runs fn on the loop and waits for its result. Calls made from inside
// a task run fn inline.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	if onLoop, _ := ctx.Value(onLoopKey{}).(bool); onLoop {
		return fn()
	}

	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrLoopStopped
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The task may still have run just before the loop exited.
		select {
		case err := <-result:
			return err
		default:
			return ErrLoopStopped
		}
	}
}

// OnLoop marks ctx as belonging to a running task so nested Do calls do
// not deadlock
func OnLoop(ctx context.Context) context.Context {
	return context.WithValue(ctx, onLoopKey{}, true)
}

// assertOnLoop panics when controller state is touched outside a task or
// from any goroutine other than the one running the loop
func (l *Loop) assertOnLoop() {
	if !l.inTask.Load() {
		panic("controller state accessed outside the controller loop")
	}
	if owner := l.owner.Load(); owner != goroutineID() {
		panic("controller state accessed from a goroutine other than the controller loop")
	}
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's id from its stack header,
// the way x/net/http2 tracks its serve goroutine
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("cannot parse goroutine id from %q", b))
	}
	return id
}
