package groutine

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesContext(t *testing.T) {
	got := make(chan string, 1)
	gid := make(chan uint64, 1)
	Go(nil, "worker-42", func(ctx context.Context) {
		got <- GetName(ctx)
		gid <- GetGID()
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-42", name)
		assert.NotZero(t, <-gid)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck
}

func TestGroup_StopWaitsForMembers(t *testing.T) {
	g := NewGroup(t.Context())
	var finished atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		g.Go(name, func(ctx context.Context) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
		})
	}

	g.Stop()
	assert.Equal(t, int32(3), finished.Load(), "Stop MUST return only after every member")
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	done := make(chan struct{})
	Go(t.Context(), "ecu-sim", func(ctx context.Context) {
		defer close(done)
		WithLogger(ctx, logger).Info("tick")
	})
	<-done

	require.Contains(t, buf.String(), "goroutine=ecu-sim")
	assert.Equal(t, logger, WithLogger(context.Background(), logger))
}
