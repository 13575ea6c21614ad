package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dm-outreach-engine/internal/pace"
	"dm-outreach-engine/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockTabs hands back the url as the tab id.
type MockTabs struct {
	mu     sync.Mutex
	opened []string
	fail   map[string]error
}

func (m *MockTabs) Open(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, url)
	if err := m.fail[url]; err != nil {
		return "", err
	}
	return url, nil
}

type MockAgent struct {
	mu       sync.Mutex
	results  map[string]protocol.Result
	pingErrs int // first n pings fail
	pings    int
	texts    []string

	// when release is set, ExecuteDM signals entered and blocks until release
	// is closed
	entered chan struct{}
	release chan struct{}
}

func (m *MockAgent) Ping(ctx context.Context, tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	if m.pings <= m.pingErrs {
		return errors.New("no receiver")
	}
	return nil
}

func (m *MockAgent) ExecuteDM(ctx context.Context, tabID, text string) (protocol.Result, error) {
	if m.release != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	if res, ok := m.results[tabID]; ok {
		return res, nil
	}
	return protocol.Succeeded(), nil
}

type MockFlags struct {
	mu      sync.Mutex
	running bool
	writes  []bool
	onSet   func(running bool) // runs before the write lands
}

func (m *MockFlags) SetRunning(ctx context.Context, running bool) error {
	if m.onSet != nil {
		m.onSet(running)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = running
	m.writes = append(m.writes, running)
	return nil
}

func (m *MockFlags) Running(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, nil
}

type event struct {
	kind  string
	level protocol.Level
	text  string
}

type MockEvents struct {
	mu     sync.Mutex
	events []event
}

func (m *MockEvents) Log(_ string, level protocol.Level, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{kind: "log", level: level, text: text})
}

func (m *MockEvents) Progress(current, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{kind: "progress", text: fmt.Sprintf("%d/%d", current, total)})
}

func (m *MockEvents) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{kind: "complete"})
}

func (m *MockEvents) all() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event(nil), m.events...)
}

func (m *MockEvents) count(kind string) int {
	n := 0
	for _, e := range m.all() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (m *MockEvents) logs(level protocol.Level) []string {
	var out []string
	for _, e := range m.all() {
		if e.kind == "log" && e.level == level {
			out = append(out, e.text)
		}
	}
	return out
}

// recordingSleep returns at once and remembers what it was asked to wait.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

type fixture struct {
	tabs   *MockTabs
	agent  *MockAgent
	flags  *MockFlags
	events *MockEvents
	sleep  *recordingSleep
	runner *Runner
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		tabs:   &MockTabs{fail: map[string]error{}},
		agent:  &MockAgent{results: map[string]protocol.Result{}},
		flags:  &MockFlags{},
		events: &MockEvents{},
		sleep:  &recordingSleep{},
	}
	if opts.Sleep == nil {
		opts.Sleep = f.sleep.Sleep
	}
	if opts.Rand == nil {
		opts.Rand = pace.NewRand(1)
	}
	f.runner = New(f.tabs, f.agent, f.flags, f.events, opts)
	return f
}

func links(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://www.instagram.com/user%d/", i)
	}
	return out
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestRunner_AllTargetsInOrder(t *testing.T) {
	for k := 1; k <= DefaultMaxTargets; k++ {
		t.Run(fmt.Sprintf("%d targets", k), func(t *testing.T) {
			f := newFixture(Options{})
			cfg := Config{Targets: links(k), Message: "{Hi|Hello} there", DelayMin: time.Second, DelayMax: 2 * time.Second}

			require.NoError(t, f.runner.Start(context.Background(), cfg))
			waitIdle(t, f.runner)

			snap := f.runner.Status()
			assert.False(t, snap.Running)
			assert.Equal(t, k, snap.Total)
			assert.Equal(t, k, snap.Succeeded)
			require.Len(t, snap.Outcomes, k)
			for i, o := range snap.Outcomes {
				assert.Equal(t, cfg.Targets[i], o.Target)
				assert.True(t, o.Success)
			}
			assert.Equal(t, cfg.Targets, f.tabs.opened)
			for _, text := range f.agent.texts {
				assert.Contains(t, []string{"Hi there", "Hello there"}, text)
			}

			// one wait between each pair of targets, inside the bounds
			assert.Len(t, f.sleep.waits, k-1)
			for _, w := range f.sleep.waits {
				assert.GreaterOrEqual(t, w, time.Second)
				assert.LessOrEqual(t, w, 2*time.Second)
			}

			assert.Equal(t, 1, f.events.count("complete"))
			assert.Equal(t, []bool{true, false}, f.flags.writes)
			assert.False(t, f.runner.Running())
		})
	}
}

func TestRunner_FailureDoesNotStopRun(t *testing.T) {
	f := newFixture(Options{})
	cfg := Config{Targets: links(2), Message: "hi"}
	f.agent.results[cfg.Targets[0]] = protocol.Failed(`"Message" button not found`)

	require.NoError(t, f.runner.Start(context.Background(), cfg))
	waitIdle(t, f.runner)

	snap := f.runner.Status()
	require.Len(t, snap.Outcomes, 2)
	assert.Equal(t, Outcome{Target: cfg.Targets[0], Error: `"Message" button not found`}, snap.Outcomes[0])
	assert.True(t, snap.Outcomes[1].Success)
	assert.Equal(t, 1, snap.Succeeded)

	assert.Contains(t, f.events.logs(protocol.Error), `Failed: @user0: "Message" button not found`)
	assert.Contains(t, f.events.logs(protocol.Success), "Sent: @user1")
	assert.Contains(t, f.events.logs(protocol.Success), "Campaign complete: 1/2 sent")
}

func TestRunner_DeliveryErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture, ref string)
		wantErr string
	}{
		{
			name:    "page open fails",
			setup:   func(f *fixture, ref string) { f.tabs.fail[ref] = errors.New("page load timeout") },
			wantErr: "open page: page load timeout",
		},
		{
			name:    "agent never answers",
			setup:   func(f *fixture, ref string) { f.agent.pingErrs = 3 },
			wantErr: "page agent not ready: no receiver",
		},
		{
			name:    "empty result",
			setup:   func(f *fixture, ref string) { f.agent.results[ref] = protocol.Result{} },
			wantErr: "no result from page agent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{PingInterval: time.Millisecond})
			cfg := Config{Targets: links(1), Message: "hi"}
			tt.setup(f, cfg.Targets[0])

			require.NoError(t, f.runner.Start(context.Background(), cfg))
			waitIdle(t, f.runner)

			snap := f.runner.Status()
			require.Len(t, snap.Outcomes, 1)
			assert.False(t, snap.Outcomes[0].Success)
			assert.Equal(t, tt.wantErr, snap.Outcomes[0].Error)
			assert.Equal(t, 1, f.events.count("complete"))
		})
	}
}

func TestRunner_PingRetries(t *testing.T) {
	f := newFixture(Options{PingInterval: 500 * time.Millisecond})
	f.agent.pingErrs = 2

	require.NoError(t, f.runner.Start(context.Background(), Config{Targets: links(1), Message: "hi"}))
	waitIdle(t, f.runner)

	assert.True(t, f.runner.Status().Outcomes[0].Success)
	assert.Equal(t, 3, f.agent.pings)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, f.sleep.waits)
}

func TestRunner_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no targets", Config{Message: "hi"}, ErrNoTargets},
		{"too many", Config{Targets: links(6), Message: "hi"}, ErrTooManyTargets},
		{"empty message", Config{Targets: links(1), Message: "  "}, ErrEmptyMessage},
		{"min above max", Config{Targets: links(1), Message: "hi", DelayMin: 2 * time.Second, DelayMax: time.Second}, ErrInvalidDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{})
			err := f.runner.Start(context.Background(), tt.cfg)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			assert.False(t, f.runner.Running())
			assert.Empty(t, f.flags.writes)
			assert.Empty(t, f.tabs.opened)
			assert.Len(t, f.events.logs(protocol.Error), 1)
			assert.Equal(t, Snapshot{Outcomes: []Outcome{}}, f.runner.Status())
		})
	}
}

func TestRunner_StopDuringPacing(t *testing.T) {
	waiting := make(chan struct{}, 1)
	blockingSleep := func(ctx context.Context, d time.Duration) error {
		waiting <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	f := newFixture(Options{Sleep: blockingSleep})
	cfg := Config{Targets: links(3), Message: "hi", DelayMin: time.Hour, DelayMax: time.Hour}

	require.NoError(t, f.runner.Start(context.Background(), cfg))
	<-waiting
	f.runner.Stop(context.Background())
	waitIdle(t, f.runner)

	snap := f.runner.Status()
	assert.False(t, snap.Running)
	assert.Len(t, snap.Outcomes, 1, "nothing processed after stop")
	assert.Equal(t, []string{cfg.Targets[0]}, f.tabs.opened)
	assert.Equal(t, 0, f.events.count("complete"))
	assert.Contains(t, f.events.logs(protocol.Warning), "Campaign stopped")
	assert.Equal(t, []bool{true, false}, f.flags.writes)
	assert.False(t, f.runner.Running())
}

func TestRunner_StopDuringDelivery(t *testing.T) {
	f := newFixture(Options{})
	f.agent.entered = make(chan struct{}, 1)
	f.agent.release = make(chan struct{})
	cfg := Config{Targets: links(3), Message: "hi"}

	require.NoError(t, f.runner.Start(context.Background(), cfg))
	<-f.agent.entered
	f.runner.Stop(context.Background())
	assert.False(t, f.runner.Running())
	close(f.agent.release)
	waitIdle(t, f.runner)

	snap := f.runner.Status()
	require.Len(t, snap.Outcomes, 1, "the in-flight delivery is still recorded")
	assert.Equal(t, Outcome{Target: cfg.Targets[0], Success: true}, snap.Outcomes[0])
	assert.Equal(t, []string{cfg.Targets[0]}, f.tabs.opened)
	assert.Contains(t, f.events.logs(protocol.Success), "Sent: @user0")
	assert.Equal(t, 0, f.events.count("complete"))
	assert.Empty(t, f.sleep.waits, "no pacing after stop")
}

func TestRunner_StopRacingStartClearsFlag(t *testing.T) {
	f := newFixture(Options{})
	stopped := make(chan struct{})
	var once sync.Once
	f.flags.onSet = func(running bool) {
		if !running {
			return
		}
		once.Do(func() {
			go func() {
				f.runner.Stop(context.Background())
				close(stopped)
			}()
			// let Stop land before the "running" write does
			time.Sleep(20 * time.Millisecond)
		})
	}

	require.NoError(t, f.runner.Start(context.Background(), Config{Targets: links(2), Message: "hi"}))
	<-stopped
	waitIdle(t, f.runner)

	running, _ := f.flags.Running(context.Background())
	assert.False(t, running, "flag must not stay set while idle")
	assert.False(t, f.runner.Running())
}

func TestRunner_ForeignTargetsRefused(t *testing.T) {
	tests := []struct {
		name    string
		targets []string
	}{
		{"no host", []string{"not-a-matching-url"}},
		{"other host", []string{"https://www.instagram.com/a/", "https://evil.example/x"}},
		{"partial host", []string{"https://instagram.co/a/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{})
			cfg := FromTask(protocol.TaskConfig{Links: tt.targets, Message: "hi"})

			err := f.runner.Start(context.Background(), cfg)
			require.ErrorIs(t, err, ErrForeignTarget)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			assert.False(t, f.runner.Running())
			assert.Empty(t, f.tabs.opened)
			assert.Empty(t, f.flags.writes)
			assert.Len(t, f.events.logs(protocol.Error), 1)
		})
	}
}

func TestRunner_StartWhileRunningIsNoop(t *testing.T) {
	waiting := make(chan struct{}, 1)
	blockingSleep := func(ctx context.Context, d time.Duration) error {
		waiting <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	f := newFixture(Options{Sleep: blockingSleep})
	first := Config{Targets: links(2), Message: "first", DelayMin: time.Hour, DelayMax: time.Hour}

	require.NoError(t, f.runner.Start(context.Background(), first))
	<-waiting
	id := f.runner.Status().RunID

	require.NoError(t, f.runner.Start(context.Background(), Config{Targets: links(1), Message: "second"}))
	assert.Equal(t, id, f.runner.Status().RunID)
	assert.Equal(t, 2, f.runner.Status().Total)

	f.runner.Stop(context.Background())
	waitIdle(t, f.runner)
}

func TestRunner_RestartAfterStop(t *testing.T) {
	f := newFixture(Options{})
	require.NoError(t, f.runner.Start(context.Background(), Config{Targets: links(2), Message: "a"}))
	f.runner.Stop(context.Background())
	require.NoError(t, f.runner.Start(context.Background(), Config{Targets: links(1), Message: "b"}))
	waitIdle(t, f.runner)

	snap := f.runner.Status()
	assert.False(t, snap.Running)
	assert.Equal(t, 1, snap.Total)
	assert.Len(t, snap.Outcomes, 1)
	assert.Equal(t, "b", f.agent.texts[len(f.agent.texts)-1])
}

func TestRunner_StopWhenIdle(t *testing.T) {
	f := newFixture(Options{})
	f.flags.running = true

	f.runner.Stop(context.Background())

	running, _ := f.flags.Running(context.Background())
	assert.False(t, running)
	assert.Empty(t, f.events.all())
	require.NoError(t, f.runner.Wait(context.Background()))
}

func TestRunner_EqualDelayBounds(t *testing.T) {
	f := newFixture(Options{})
	cfg := Config{Targets: links(3), Message: "hi", DelayMin: 30 * time.Second, DelayMax: 30 * time.Second}

	require.NoError(t, f.runner.Start(context.Background(), cfg))
	waitIdle(t, f.runner)

	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, f.sleep.waits)
	assert.Contains(t, f.events.logs(protocol.Info), "Waiting 30s before continuing...")
}

func TestRunner_TerminalEventOrder(t *testing.T) {
	f := newFixture(Options{})
	require.NoError(t, f.runner.Start(context.Background(), Config{Targets: links(2), Message: "hi"}))
	waitIdle(t, f.runner)

	evs := f.events.all()
	require.GreaterOrEqual(t, len(evs), 3)
	tail := evs[len(evs)-3:]
	assert.Equal(t, "log", tail[0].kind)
	assert.True(t, strings.HasPrefix(tail[0].text, "Campaign complete"))
	assert.Equal(t, event{kind: "progress", text: "2/2"}, tail[1])
	assert.Equal(t, "complete", tail[2].kind)
}

func TestRunner_ProcessingLogUsesHandle(t *testing.T) {
	f := newFixture(Options{})
	require.NoError(t, f.runner.Start(context.Background(), Config{Targets: []string{"https://www.instagram.com/jane.doe/?hl=en"}, Message: "hi"}))
	waitIdle(t, f.runner)

	assert.Contains(t, f.events.logs(protocol.Info), "Processing (1/1): @jane.doe")
}

func TestRunner_ClearStale(t *testing.T) {
	f := newFixture(Options{})
	f.flags.running = true

	require.NoError(t, f.runner.ClearStale(context.Background()))
	running, _ := f.flags.Running(context.Background())
	assert.False(t, running)
	assert.Len(t, f.events.logs(protocol.Warning), 1)

	// nothing to clear the second time
	require.NoError(t, f.runner.ClearStale(context.Background()))
	assert.Len(t, f.events.logs(protocol.Warning), 1)
}
