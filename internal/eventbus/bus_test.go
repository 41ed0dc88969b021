package eventbus_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gamehost/internal/eventbus"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) cb(name string) eventbus.Callback {
	return func(context.Context, any) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return nil
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestEmit_SubscriptionOrder(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	rec := &recorder{}
	bus.Subscribe(eventbus.EventSecond, rec.cb("a"))
	bus.Subscribe(eventbus.EventSecond, rec.cb("b"))
	bus.Subscribe(eventbus.EventMinute, rec.cb("minute"))
	bus.Subscribe(eventbus.EventSecond, rec.cb("c"))

	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"a", "b", "c"}, rec.got())
}

func TestEmit_PassesPayload(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	var got any
	bus.Subscribe(eventbus.EventSecond, func(_ context.Context, p any) error {
		got = p
		return nil
	})
	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, 42))
	assert.Equal(t, 42, got)
}

func TestEmit_NoSubscribers(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	assert.NoError(t, bus.Emit(context.Background(), eventbus.EventMinute, nil))
}

func TestEmit_ErrorDoesNotAbortDelivery(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := eventbus.New(zap.New(core))
	rec := &recorder{}

	bus.Subscribe(eventbus.EventSecond, rec.cb("a"))
	bus.Subscribe(eventbus.EventSecond, func(context.Context, any) error { return errors.New("boom") })
	bus.Subscribe(eventbus.EventSecond, func(context.Context, any) error { panic("kaboom") })
	bus.Subscribe(eventbus.EventSecond, rec.cb("d"))

	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"a", "d"}, rec.got())
	assert.Equal(t, 2, logs.FilterMessage("eventbus: callback failed").Len())
}

func TestEmit_UnsubscribeSelfDuringEmission(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	rec := &recorder{}

	var self eventbus.Handle
	self = bus.Subscribe(eventbus.EventSecond, func(ctx context.Context, p any) error {
		bus.Unsubscribe(self)
		return rec.cb("self")(ctx, p)
	})
	bus.Subscribe(eventbus.EventSecond, rec.cb("other"))

	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"self", "other"}, rec.got())

	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"self", "other", "other"}, rec.got())
}

func TestEmit_UnsubscribeOtherDuringEmission_AffectsNextRoundOnly(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	rec := &recorder{}

	var later eventbus.Handle
	bus.Subscribe(eventbus.EventSecond, func(ctx context.Context, p any) error {
		bus.Unsubscribe(later)
		return rec.cb("first")(ctx, p)
	})
	later = bus.Subscribe(eventbus.EventSecond, rec.cb("later"))

	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"first", "later"}, rec.got())

	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"first", "later", "first"}, rec.got())
}

func TestEmit_SubscribeDuringEmissionNotDeliveredThisRound(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	rec := &recorder{}
	once := sync.Once{}
	bus.Subscribe(eventbus.EventSecond, func(ctx context.Context, p any) error {
		once.Do(func() { bus.Subscribe(eventbus.EventSecond, rec.cb("new")) })
		return rec.cb("old")(ctx, p)
	})

	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"old"}, rec.got())
	require.NoError(t, bus.Emit(context.Background(), eventbus.EventSecond, nil))
	assert.Equal(t, []string{"old", "old", "new"}, rec.got())
}

func TestEmit_CancelledContextStops(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	bus.Subscribe(eventbus.EventSecond, func(c context.Context, p any) error {
		cancel()
		return rec.cb("a")(c, p)
	})
	bus.Subscribe(eventbus.EventSecond, rec.cb("b"))

	err := bus.Emit(ctx, eventbus.EventSecond, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, rec.got())
}

func TestUnsubscribe_Unknown(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	h := bus.Subscribe(eventbus.EventSecond, func(context.Context, any) error { return nil })
	assert.True(t, bus.Unsubscribe(h))
	assert.False(t, bus.Unsubscribe(h))
	assert.Equal(t, 0, bus.Len(eventbus.EventSecond))
}

func TestSubscribe_NilPanics(t *testing.T) {
	bus := eventbus.New(zaptest.NewLogger(t))
	assert.Panics(t, func() { bus.Subscribe(eventbus.EventSecond, nil) })
}

func TestProperty_DeliveryMatchesLiveSubscriptions(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		bus := eventbus.New(zap.NewNop())
		rec := &recorder{}
		type live struct {
			name string
			h    eventbus.Handle
		}
		var subs []live

		n := rapid.IntRange(1, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			name := string(rune('a' + i))
			subs = append(subs, live{name: name, h: bus.Subscribe(eventbus.EventSecond, rec.cb(name))})
		}
		drops := rapid.IntRange(0, n).Draw(rt, "drops")
		for i := 0; i < drops && len(subs) > 0; i++ {
			idx := rapid.IntRange(0, len(subs)-1).Draw(rt, "idx")
			bus.Unsubscribe(subs[idx].h)
			subs = append(subs[:idx], subs[idx+1:]...)
		}

		if err := bus.Emit(context.Background(), eventbus.EventSecond, nil); err != nil {
			rt.Fatalf("emit: %v", err)
		}
		want := make([]string, 0, len(subs))
		for _, s := range subs {
			want = append(want, s.name)
		}
		got := rec.got()
		if len(got) != len(want) {
			rt.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("got %v, want %v", got, want)
			}
		}
	})
}
