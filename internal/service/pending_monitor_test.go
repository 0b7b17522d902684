package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestPendingMonitor_CheckBacklog(t *testing.T) {
	counter := &mockStaleCounter{}
	monitor := NewPendingMonitor(counter, time.Minute, 5*time.Minute, testLogger())

	ctx := context.Background()

	counter.On("CountStalePending", ctx, 5*time.Minute).Return(3, nil).Once()

	monitor.checkBacklog(ctx)

	counter.AssertExpectations(t)
}

func TestPendingMonitor_CheckBacklogError(t *testing.T) {
	counter := &mockStaleCounter{}
	monitor := NewPendingMonitor(counter, time.Minute, 5*time.Minute, testLogger())

	ctx := context.Background()

	counter.On("CountStalePending", ctx, 5*time.Minute).Return(0, assert.AnError).Once()

	monitor.checkBacklog(ctx)

	counter.AssertExpectations(t)
}

func TestPendingMonitor_StartStop(t *testing.T) {
	counter := &mockStaleCounter{}
	monitor := NewPendingMonitor(counter, 10*time.Millisecond, 5*time.Minute, testLogger())

	counter.On("CountStalePending", mock.Anything, 5*time.Minute).Return(0, nil).Maybe()

	done := make(chan struct{})
	go func() {
		monitor.Start(context.Background())
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	monitor.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not stop within timeout")
	}
}

func TestPendingMonitor_ContextCancel(t *testing.T) {
	counter := &mockStaleCounter{}
	monitor := NewPendingMonitor(counter, 10*time.Millisecond, 5*time.Minute, testLogger())

	counter.On("CountStalePending", mock.Anything, 5*time.Minute).Return(0, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		monitor.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not stop on context cancellation")
	}
}
