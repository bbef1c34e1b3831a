package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policykit/logging"
)

// fakeServer 记录生命周期调用顺序；block 为 true 时 Run 等待 ctx 取消
type fakeServer struct {
	mu    sync.Mutex
	steps []string

	loadConfigErr error
	setupErr      error
	runErr        error
	shutdownErr   error
	block         bool

	bgDone chan struct{}
}

func (s *fakeServer) record(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *fakeServer) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

func (s *fakeServer) Name() string { return "fake" }

func (s *fakeServer) LoadConfig() error {
	s.record("LoadConfig")
	return s.loadConfigErr
}

func (s *fakeServer) SetupDependencies(ctx context.Context) error {
	s.record("SetupDependencies")
	return s.setupErr
}

func (s *fakeServer) StartBackgroundTasks(ctx context.Context) error {
	s.record("StartBackgroundTasks")
	s.bgDone = make(chan struct{})
	go func() {
		<-ctx.Done()
		close(s.bgDone)
	}()
	return nil
}

func (s *fakeServer) Run(ctx context.Context) error {
	s.record("Run")
	if s.block {
		<-ctx.Done()
	}
	return s.runErr
}

func (s *fakeServer) Shutdown(ctx context.Context) error {
	s.record("Shutdown")
	return s.shutdownErr
}

func newTestEngine(s IServer, opts ...Option) *Engine {
	opts = append([]Option{WithLogger(logging.NewNoopLogger()), WithShutdownTimeout(100 * time.Millisecond)}, opts...)
	return NewEngine(s, opts...)
}

var fullLifecycle = []string{"LoadConfig", "SetupDependencies", "StartBackgroundTasks", "Run", "Shutdown"}

func TestEngine_LifecycleOrder(t *testing.T) {
	s := &fakeServer{}
	e := newTestEngine(s)
	assert.Equal(t, StatePending, e.State())

	require.NoError(t, e.StartContext(context.Background()))
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, fullLifecycle, s.snapshot())
}

func TestEngine_RunErrorPropagates(t *testing.T) {
	runErr := errors.New("run failed")
	s := &fakeServer{runErr: runErr}
	e := newTestEngine(s)

	err := e.StartContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, runErr)
	assert.Contains(t, err.Error(), "server execution error")
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, fullLifecycle, s.snapshot())
}

func TestEngine_LoadConfigErrorStopsEarly(t *testing.T) {
	cfgErr := errors.New("config failed")
	s := &fakeServer{loadConfigErr: cfgErr}
	e := newTestEngine(s)

	err := e.StartContext(context.Background())
	require.ErrorIs(t, err, cfgErr)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, []string{"LoadConfig"}, s.snapshot())
}

func TestEngine_SetupErrorStopsEarly(t *testing.T) {
	setupErr := errors.New("store unreachable")
	s := &fakeServer{setupErr: setupErr}
	e := newTestEngine(s)

	err := e.StartContext(context.Background())
	require.ErrorIs(t, err, setupErr)
	assert.Equal(t, []string{"LoadConfig", "SetupDependencies"}, s.snapshot())
}

func TestEngine_ParentCancelTriggersShutdown(t *testing.T) {
	s := &fakeServer{block: true}
	e := newTestEngine(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.StartContext(ctx) }()

	require.Eventually(t, func() bool { return e.State() == StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after parent cancellation")
	}
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, fullLifecycle, s.snapshot())
}

func TestEngine_CancelsBackgroundTasks(t *testing.T) {
	s := &fakeServer{}
	e := newTestEngine(s)
	require.NoError(t, e.StartContext(context.Background()))

	select {
	case <-s.bgDone:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("background task context was not cancelled")
	}
}

func TestEngine_ShutdownError(t *testing.T) {
	shutdownErr := errors.New("flush failed")
	s := &fakeServer{shutdownErr: shutdownErr}
	e := newTestEngine(s)

	require.ErrorIs(t, e.StartContext(context.Background()), shutdownErr)
	assert.Equal(t, StateError, e.State())
}

func TestEngine_Hooks(t *testing.T) {
	var order []string
	hook := func(name string, err error) Hook {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	s := &fakeServer{}
	e := newTestEngine(s,
		WithBeforeInit(hook("before-init", nil)),
		WithBeforeStart(hook("before-start", nil)),
		WithBeforeStop(hook("before-stop", errors.New("ignored"))),
		WithAfterStop(hook("after-stop", nil)),
	)

	require.NoError(t, e.StartContext(context.Background()))
	assert.Equal(t, []string{"before-init", "before-start", "before-stop", "after-stop"}, order)
}

func TestEngine_FatalHookAborts(t *testing.T) {
	s := &fakeServer{}
	e := newTestEngine(s, WithBeforeInit(func(context.Context) error { return errors.New("nope") }))

	err := e.StartContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OnBeforeInit")
	assert.Empty(t, s.snapshot())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Unknown", State(99).String())
}
