package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_Shutdown(t *testing.T) {
	t.Run("runs steps in registration order", func(t *testing.T) {
		manager := NewShutdownManager(nil, nil, time.Second)
		var order []string
		for _, name := range []string{"engines", "registry", "otel"} {
			manager.Register(name, func(ctx context.Context) error {
				order = append(order, name)
				return nil
			})
		}

		assert.NoError(t, manager.Shutdown())
		assert.Equal(t, []string{"engines", "registry", "otel"}, order)
	})

	t.Run("runs only once", func(t *testing.T) {
		manager := NewShutdownManager(nil, nil, time.Second)
		var calls atomic.Int32
		manager.Register("count", func(ctx context.Context) error {
			calls.Add(1)
			return nil
		})

		assert.NoError(t, manager.Shutdown())
		assert.NoError(t, manager.Shutdown())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("continues past failing steps", func(t *testing.T) {
		manager := NewShutdownManager(nil, nil, time.Second)
		var ran atomic.Bool
		manager.Register("broken", func(ctx context.Context) error { return errors.New("boom") })
		manager.Register("panics", func(ctx context.Context) error { panic("kaboom") })
		manager.Register("after", func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})

		err := manager.Shutdown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken: boom")
		assert.Contains(t, err.Error(), "panics: panic: kaboom")
		assert.True(t, ran.Load())
	})

	t.Run("times out on slow steps", func(t *testing.T) {
		manager := NewShutdownManager(nil, nil, 20*time.Millisecond)
		var skipped atomic.Bool
		manager.Register("slow", func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})
		manager.Register("skipped", func(ctx context.Context) error {
			skipped.Store(true)
			return nil
		})

		assert.ErrorIs(t, manager.Shutdown(), ErrShutdownTimeout)
		assert.False(t, skipped.Load())
	})
}

func TestShutdownManager_WaitForShutdownContext(t *testing.T) {
	manager := NewShutdownManager(nil, nil, time.Second)
	var called atomic.Bool
	manager.Register("step", func(ctx context.Context) error {
		called.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, manager.WaitForShutdown(ctx))
	assert.True(t, called.Load())
}

func TestRecoverPanic(t *testing.T) {
	var recovered interface{}
	func() {
		defer RecoverPanicWithCallback(nil, "test", func(r interface{}) { recovered = r })
		panic("kaboom")
	}()
	assert.Equal(t, "kaboom", recovered)

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("x"), "panic: x")
}
