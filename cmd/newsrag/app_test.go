package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
)

func TestExitCode(t *testing.T) {
	cases := map[int]error{
		2: errs.Validation("query must not be empty"),
		3: errs.SessionExpired("abc"),
		4: errs.RetrievalUnavailable("index not loaded", nil),
		5: errs.GenerationRejected("policy", nil),
		1: errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, exitCode(err), err.Error())
	}
	assert.Equal(t, 4, exitCode(errs.GenerationUnavailable("timeout", nil)))
}

func TestOfflineCompleterIsRetryableUnavailable(t *testing.T) {
	_, err := offlineCompleter{err: errors.New("llm.api_key not set")}.Complete(context.Background(), "p", "i")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindGenerationUnavailable))
	assert.Contains(t, err.Error(), "not configured")
}

func TestComponentFailureStopsTheOthers(t *testing.T) {
	g := newComponents(context.Background(), zap.NewNop())
	stopped := make(chan struct{})
	g.run("blocking", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	g.run("failing", func(context.Context) error { return errors.New("broker gone") })

	done := make(chan error, 1)
	go func() { done <- g.wait() }()
	select {
	case err := <-done:
		require.EqualError(t, err, "broker gone")
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after a component failed")
	}
	select {
	case <-stopped:
	default:
		t.Fatal("blocking component was not cancelled")
	}
}

func TestComponentsStopWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := newComponents(ctx, zap.NewNop())
	g.run("blocking", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	assert.NoError(t, g.wait())
}
