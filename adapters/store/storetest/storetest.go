// Package storetest holds the behaviour every ports.Store backend must share.
package storetest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

// Common runs the shared store suite against s.
func Common(t *testing.T, s ports.Store) {
	t.Helper()

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s ports.Store)
	}{
		{
			name: "set get",
			doer: func(t *testing.T, s ports.Store) {
				_, err := s.Get(t.Context(), t.Name())
				require.ErrorIs(t, err, core.ErrNotFound)

				require.NoError(t, s.Set(t.Context(), t.Name(), "value", 5*time.Minute))

				got, err := s.Get(t.Context(), t.Name())
				require.NoError(t, err)
				assert.Equal(t, "value", got)
			},
		},
		{
			name: "consume once",
			doer: func(t *testing.T, s ports.Store) {
				require.NoError(t, s.Set(t.Context(), t.Name(), "1", 5*time.Minute))

				ok, err := s.Consume(t.Context(), t.Name())
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.Consume(t.Context(), t.Name())
				require.NoError(t, err)
				assert.False(t, ok)

				_, err = s.Get(t.Context(), t.Name())
				assert.ErrorIs(t, err, core.ErrNotFound)
			},
		},
		{
			name: "concurrent consume has one winner",
			doer: func(t *testing.T, s ports.Store) {
				require.NoError(t, s.Set(t.Context(), t.Name(), "1", 5*time.Minute))

				var (
					wg   sync.WaitGroup
					mu   sync.Mutex
					wins int
				)
				for range 8 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := s.Consume(t.Context(), t.Name())
						assert.NoError(t, err)
						if ok {
							mu.Lock()
							wins++
							mu.Unlock()
						}
					}()
				}
				wg.Wait()

				assert.Equal(t, 1, wins)
			},
		},
		{
			name: "incr counts from zero",
			doer: func(t *testing.T, s ports.Store) {
				for want := int64(1); want <= 3; want++ {
					got, err := s.Incr(t.Context(), t.Name(), 0)
					require.NoError(t, err)
					assert.Equal(t, want, got)
				}
			},
		},
		{
			name: "incr by float accumulates",
			doer: func(t *testing.T, s ports.Store) {
				got, err := s.IncrByFloat(t.Context(), t.Name(), 0.00001, 0)
				require.NoError(t, err)
				assert.InDelta(t, 0.00001, got, 1e-12)

				got, err = s.IncrByFloat(t.Context(), t.Name(), 0.00002, 0)
				require.NoError(t, err)
				assert.InDelta(t, 0.00003, got, 1e-12)
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s ports.Store) {
				require.NoError(t, s.Set(t.Context(), t.Name(), "value", 150*time.Millisecond))

				time.Sleep(200 * time.Millisecond)

				_, err := s.Get(t.Context(), t.Name())
				assert.ErrorIs(t, err, core.ErrNotFound)

				ok, err := s.Consume(t.Context(), t.Name())
				require.NoError(t, err)
				assert.False(t, ok)
			},
		},
		{
			name: "counter window keeps first expiry",
			doer: func(t *testing.T, s ports.Store) {
				_, err := s.Incr(t.Context(), t.Name(), 150*time.Millisecond)
				require.NoError(t, err)
				_, err = s.Incr(t.Context(), t.Name(), time.Hour)
				require.NoError(t, err)

				time.Sleep(200 * time.Millisecond)

				got, err := s.Incr(t.Context(), t.Name(), 150*time.Millisecond)
				require.NoError(t, err)
				assert.Equal(t, int64(1), got)
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.doer(t, s)
		})
	}
}
