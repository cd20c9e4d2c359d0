package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
)

// fakeDaemon records every command and lets tests push status reports
type fakeDaemon struct {
	mu       sync.Mutex
	cmds     []domain.Command
	onStatus func(domain.StatusReport)
	startErr error
	sendErr  error
	closed   bool
}

func (f *fakeDaemon) Start(ctx context.Context, onStatus func(domain.StatusReport)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.onStatus = onStatus
	return nil
}

func (f *fakeDaemon) Send(cmd domain.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeDaemon) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDaemon) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeDaemon) commands() []domain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Command(nil), f.cmds...)
}

func (f *fakeDaemon) commandsOf(kind domain.CommandKind) []domain.Command {
	var out []domain.Command
	for _, c := range f.commands() {
		if c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDaemon) push(report domain.StatusReport) {
	f.mu.Lock()
	onStatus := f.onStatus
	f.mu.Unlock()
	onStatus(report)
}

func (f *fakeDaemon) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeProber answers from a table. Unknown URLs are video/mp4. A non-nil
// gate holds every probe until it is closed.
type fakeProber struct {
	mu      sync.Mutex
	results map[string]domain.ProbeResult
	errs    map[string]error
	calls   []string
	gate    chan struct{}
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		results: make(map[string]domain.ProbeResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeProber) ResolveContentType(ctx context.Context, rawURL string) (domain.ProbeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	gate := f.gate
	res, ok := f.results[rawURL]
	err := f.errs[rawURL]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.ProbeResult{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.ProbeResult{}, err
	}
	if !ok {
		res = domain.ProbeResult{URL: rawURL, ContentType: "video/mp4"}
	}
	return res, nil
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeResolver passes every URL through unless told otherwise
type fakeResolver struct {
	mu       sync.Mutex
	notFound map[string]bool
	errs     map[string]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{notFound: make(map[string]bool), errs: make(map[string]error)}
}

func (f *fakeResolver) ResolveSource(ctx context.Context, rawURL, contentType string) (domain.Source, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[rawURL]; err != nil {
		return domain.Source{}, false, err
	}
	if f.notFound[rawURL] {
		return domain.Source{}, false, nil
	}
	return domain.Source{URL: rawURL}, true, nil
}

// fakeInspector accepts paths ending in .torrent and any magnet with xt
type fakeInspector struct{}

func (fakeInspector) InfoHash(path string) (string, error) {
	if len(path) > 8 && path[len(path)-8:] == ".torrent" {
		return "c12fe1c06bba254a9dc9f519b335aa7c1367a88a", nil
	}
	return "", errors.New("not a torrent file")
}

func (fakeInspector) MagnetInfoHash(uri string) (string, error) {
	for i := 0; i+3 <= len(uri); i++ {
		if uri[i:i+3] == "xt=" {
			return "c12fe1c06bba254a9dc9f519b335aa7c1367a88a", nil
		}
	}
	return "", errors.New("invalid magnet link")
}

// memoryRepo is an in-memory DownloadRepository
type memoryRepo struct {
	mu      sync.Mutex
	records map[string]domain.DownloadRecord
	saveErr error
}

func newMemoryRepo(records ...*domain.DownloadRecord) *memoryRepo {
	r := &memoryRepo{records: make(map[string]domain.DownloadRecord)}
	for _, rec := range records {
		r.records[rec.ID] = *rec
	}
	return r
}

func (r *memoryRepo) Save(record *domain.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.records[record.ID] = *record
	return nil
}

func (r *memoryRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *memoryRepo) FindByID(id string) (*domain.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrDownloadNotFound
	}
	return &rec, nil
}

func (r *memoryRepo) FindAll() ([]*domain.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.DownloadRecord, 0, len(r.records))
	for _, rec := range r.records {
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// recordingConsumer records every callback it receives
type recordingConsumer struct {
	id            string
	url           string
	enclosureType string
	channel       string

	mu       sync.Mutex
	changed  []domain.DownloadStatus
	finished []domain.DownloadStatus
	migrated []string
}

func newConsumer(url string) *recordingConsumer {
	return &recordingConsumer{id: uuid.New().String(), url: url}
}

func (c *recordingConsumer) ID() string { return c.id }

func (c *recordingConsumer) URL() string           { return c.url }
func (c *recordingConsumer) EnclosureType() string { return c.enclosureType }
func (c *recordingConsumer) ChannelName() string   { return c.channel }

func (c *recordingConsumer) OnDownloadChanged(status domain.DownloadStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changed = append(c.changed, status)
}

func (c *recordingConsumer) OnDownloadFinished(status domain.DownloadStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, status)
}

func (c *recordingConsumer) MigrateChildren(directory string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.migrated = append(c.migrated, directory)
}

func (c *recordingConsumer) counts() (changed, finished int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changed), len(c.finished)
}

// scriptedRand returns its values in order, then repeats the last one
type scriptedRand struct {
	mu     sync.Mutex
	values []int
}

func (s *scriptedRand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v % n
}

// testEnv is a registry running on its own loop with fake collaborators
type testEnv struct {
	loop     *Loop
	reg      *Registry
	daemon   *fakeDaemon
	prober   *fakeProber
	resolver *fakeResolver
	repo     *memoryRepo
}

func newTestEnv(t *testing.T, configure ...func(*RegistryDeps)) *testEnv {
	t.Helper()
	env := &testEnv{
		loop:     NewLoop(64),
		daemon:   &fakeDaemon{},
		prober:   newFakeProber(),
		resolver: newFakeResolver(),
		repo:     newMemoryRepo(),
	}
	deps := RegistryDeps{
		Daemon:    env.daemon,
		Prober:    env.prober,
		Resolver:  env.resolver,
		Inspector: fakeInspector{},
		Repo:      env.repo,
		Logger:    zap.NewNop(),
		Config:    domain.DownloadConfig{MaxFilenameLength: 100},
	}
	for _, fn := range configure {
		fn(&deps)
	}
	env.reg = NewRegistry(env.loop, deps)

	go env.loop.Run(context.Background())
	t.Cleanup(env.loop.Stop)
	return env
}

// do runs fn on the loop
func (e *testEnv) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, e.loop.Do(context.Background(), func() error {
		fn()
		return nil
	}))
}

// request creates or joins the download for c
func (e *testEnv) request(t *testing.T, c domain.Consumer) *RemoteDownloader {
	t.Helper()
	var d *RemoteDownloader
	var err error
	e.do(t, func() { d, err = e.reg.GetOrCreate(c) })
	require.NoError(t, err)
	return d
}

func (e *testEnv) state(t *testing.T, d *RemoteDownloader) domain.DownloadState {
	t.Helper()
	return e.stateOf(d)
}

// stateOf reads d's state; safe to call from Eventually conditions
func (e *testEnv) stateOf(d *RemoteDownloader) domain.DownloadState {
	var s domain.DownloadState
	e.loop.Do(context.Background(), func() error {
		s = d.State()
		return nil
	})
	return s
}

// waitState waits until d reaches want
func (e *testEnv) waitState(t *testing.T, d *RemoteDownloader, want domain.DownloadState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.stateOf(d) == want
	}, 5*time.Second, 5*time.Millisecond, "download never reached %s", want)
}

// waitCommands waits until the daemon has received n commands of kind
func (e *testEnv) waitCommands(t *testing.T, kind domain.CommandKind, n int) []domain.Command {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(e.daemon.commandsOf(kind)) >= n
	}, 5*time.Second, 5*time.Millisecond, "expected %d %s commands", n, kind)
	return e.daemon.commandsOf(kind)
}

// dispatched requests c and waits for its start command
func (e *testEnv) dispatched(t *testing.T, c domain.Consumer) *RemoteDownloader {
	t.Helper()
	before := len(e.daemon.commandsOf(domain.CommandStartNew))
	d := e.request(t, c)
	e.waitCommands(t, domain.CommandStartNew, before+1)
	return d
}
