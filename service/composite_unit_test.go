/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockUnit struct {
	name          string
	running       *atomic.Int32
	startErr      error
	stopErr       bool
	stop          chan struct{}
	stopCalls     atomic.Int32
	gracefulCalls atomic.Int32
	registered    atomic.Int32
}

func newMockUnit(name string, running *atomic.Int32) *mockUnit {
	return &mockUnit{name: name, running: running, stop: make(chan struct{}, 1)}
}

func (u *mockUnit) Start(fatalErr chan<- error) {
	if u.startErr != nil {
		fatalErr <- u.startErr
		return
	}
	u.running.Add(1)
	<-u.stop
	u.running.Add(-1)
}

func (u *mockUnit) Stop(gracefully bool) error {
	u.stopCalls.Add(1)
	if gracefully {
		u.gracefulCalls.Add(1)
	}
	select {
	case u.stop <- struct{}{}:
	default:
	}
	if u.stopErr {
		return fmt.Errorf("%s: stop failed", u.name)
	}
	return nil
}

func (u *mockUnit) MustRegisterMetrics() { u.registered.Add(1) }

func (u *mockUnit) UnregisterMetrics() { u.registered.Add(-1) }

func TestCompositeUnit(t *testing.T) {
	t.Run("start and stop gracefully", func(t *testing.T) {
		var running atomic.Int32
		units := []*mockUnit{newMockUnit("http", &running), newMockUnit("purge", &running)}
		cu := NewCompositeUnit(units[0], units[1])

		fatalErr := make(chan error, 1)
		go cu.Start(fatalErr)
		require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 10*time.Millisecond)

		require.NoError(t, cu.Stop(true))
		require.Eventually(t, func() bool { return running.Load() == 0 }, time.Second, 10*time.Millisecond)
		for _, u := range units {
			require.Equal(t, int32(1), u.gracefulCalls.Load())
		}
		require.Empty(t, fatalErr)
	})

	t.Run("one unit fails to start", func(t *testing.T) {
		var running atomic.Int32
		ok := newMockUnit("http", &running)
		failed := newMockUnit("store", &running)
		failed.startErr = errors.New("store: connection refused")
		failed.stopErr = true
		cu := NewCompositeUnit(ok, failed)

		fatalErr := make(chan error, 1)
		cu.Start(fatalErr)

		err := <-fatalErr
		var cuErr *CompositeUnitError
		require.ErrorAs(t, err, &cuErr)
		require.Len(t, cuErr.UnitErrors, 2)
		require.EqualError(t, err, "store: connection refused; store: stop failed")
		require.Equal(t, int32(1), ok.stopCalls.Load())
		require.Equal(t, int32(0), ok.gracefulCalls.Load())
	})

	t.Run("metrics registration", func(t *testing.T) {
		var running atomic.Int32
		u1, u2 := newMockUnit("a", &running), newMockUnit("b", &running)
		cu := NewCompositeUnit(u1, u2)
		cu.MustRegisterMetrics()
		require.Equal(t, int32(1), u1.registered.Load())
		require.Equal(t, int32(1), u2.registered.Load())
		cu.UnregisterMetrics()
		require.Equal(t, int32(0), u1.registered.Load())
	})
}
