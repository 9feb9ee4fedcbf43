/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/log/logtest"
)

func TestPeriodicWorker_Run(t *testing.T) {
	t.Run("stop by context", func(t *testing.T) {
		var calls atomic.Int32
		pw := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}), 20*time.Millisecond, log.NewDisabledLogger(), PeriodicWorkerOpts{})

		ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
		defer cancel()
		require.NoError(t, pw.Run(ctx))
		require.GreaterOrEqual(t, calls.Load(), int32(3))
	})

	t.Run("stop by ErrPeriodicWorkerStop", func(t *testing.T) {
		var calls atomic.Int32
		pw := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			if calls.Add(1) == 2 {
				return ErrPeriodicWorkerStop
			}
			return nil
		}), time.Millisecond, log.NewDisabledLogger(), PeriodicWorkerOpts{})
		require.NoError(t, pw.Run(context.Background()))
		require.Equal(t, int32(2), calls.Load())
	})

	t.Run("iteration errors are logged", func(t *testing.T) {
		logger := logtest.NewRecorder()
		var calls atomic.Int32
		pw := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			if calls.Add(1) == 1 {
				return errors.New("purge failed")
			}
			return ErrPeriodicWorkerStop
		}), time.Millisecond, logger, PeriodicWorkerOpts{Name: "purge"})
		require.NoError(t, pw.Run(context.Background()))

		entry, found := logger.FindEntry("periodically running worker finished with error")
		require.True(t, found)
		field, found := entry.FindField("worker")
		require.True(t, found)
		require.Equal(t, "purge", string(field.Bytes))
	})

	t.Run("initial delay", func(t *testing.T) {
		var calls atomic.Int32
		pw := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}), time.Hour, log.NewDisabledLogger(), PeriodicWorkerOpts{InitialDelay: time.Hour})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		require.NoError(t, pw.Run(ctx))
		require.Equal(t, int32(0), calls.Load())
	})
}

func TestWorkerUnit(t *testing.T) {
	t.Run("graceful stop", func(t *testing.T) {
		stopped := make(chan struct{})
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}), WorkerUnitOpts{})

		fatalErr := make(chan error, 1)
		go unit.Start(fatalErr)
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, unit.Stop(true))
		<-stopped
		require.Empty(t, fatalErr)
	})

	t.Run("stop timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-release
			return nil
		}), WorkerUnitOpts{GracefulStopTimeout: 20 * time.Millisecond})
		go unit.Start(make(chan error, 1))
		require.Eventually(t, unit.started.Load, time.Second, time.Millisecond)
		require.ErrorIs(t, unit.Stop(true), ErrWorkerUnitStopTimeoutExceeded)
	})

	t.Run("worker error is fatal", func(t *testing.T) {
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			return errors.New("boom")
		}), WorkerUnitOpts{})
		fatalErr := make(chan error, 1)
		unit.Start(fatalErr)
		require.EqualError(t, <-fatalErr, "boom")
	})

	t.Run("stop before start", func(t *testing.T) {
		unit := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error { return nil }), WorkerUnitOpts{})
		require.NoError(t, unit.Stop(true))
	})
}
