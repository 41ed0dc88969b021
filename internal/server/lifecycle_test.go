package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// orderLog records start/stop events across services.
type orderLog struct {
	mu     sync.Mutex
	events []string
}

func (o *orderLog) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *orderLog) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type mockService struct {
	name    string
	log     *orderLog
	started atomic.Bool
	stopped chan struct{}
	once    sync.Once
	startFn func() error
}

func newMockService(name string, log *orderLog) *mockService {
	return &mockService{name: name, log: log, stopped: make(chan struct{})}
}

func (m *mockService) Start() error {
	m.started.Store(true)
	if m.startFn != nil {
		return m.startFn()
	}
	<-m.stopped
	return nil
}

func (m *mockService) Stop() {
	m.once.Do(func() {
		if m.log != nil {
			m.log.add("stop " + m.name)
		}
		close(m.stopped)
	})
}

func waitStarted(t *testing.T, svcs ...*mockService) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range svcs {
			if !s.started.Load() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLifecycle_StopsInReverseOrderThenRunsHooks(t *testing.T) {
	log := &orderLog{}
	lc := NewLifecycle(zaptest.NewLogger(t))
	svc1 := newMockService("svc1", log)
	svc2 := newMockService("svc2", log)
	lc.Add("svc1", svc1)
	lc.Add("svc2", svc2)
	lc.OnShutdown("registry", func(context.Context) error {
		log.add("hook")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	waitStarted(t, svc1, svc2)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	assert.Equal(t, []string{"stop svc2", "stop svc1", "hook"}, log.get())
}

func TestLifecycle_ServiceFailureShutsDownAndIsReturned(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))
	healthy := newMockService("healthy", nil)
	broken := newMockService("broken", nil)
	broken.startFn = func() error { return errors.New("bind failed") }
	lc.Add("healthy", healthy)
	lc.Add("broken", broken)

	err := lc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service broken: bind failed")

	select {
	case <-healthy.stopped:
	default:
		t.Fatal("healthy service was not stopped")
	}
}

func TestLifecycle_HookErrorsAreJoined(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))
	ran := 0
	lc.OnShutdown("first", func(context.Context) error { ran++; return errors.New("first failed") })
	lc.OnShutdown("second", func(ctx context.Context) error {
		ran++
		_, ok := ctx.Deadline()
		assert.True(t, ok, "hooks run under a deadline")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := lc.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown first: first failed")
	assert.Equal(t, 2, ran)
}

func TestFuncService(t *testing.T) {
	started := false
	stopped := false

	svc := &FuncService{
		StartFn: func() error {
			started = true
			return nil
		},
		StopFn: func() {
			stopped = true
		},
	}

	err := svc.Start()
	assert.NoError(t, err)
	assert.True(t, started)

	svc.Stop()
	assert.True(t, stopped)
}
