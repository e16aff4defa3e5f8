package canbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, id uint32, data ...byte) Frame {
	t.Helper()
	f, err := NewFrame(id, data)
	require.NoError(t, err)
	return f
}

func TestLoopback_SendReceive(t *testing.T) {
	a, b := NewLoopback(4, nil)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	sent := []Frame{
		mustFrame(t, 0x7DF, 0x02, 0x01, 0x10),
		mustFrame(t, 0x7DF, 0x02, 0x01, 0x06),
	}
	for _, f := range sent {
		require.NoError(t, a.Send(ctx, f))
	}
	for _, want := range sent {
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got, "frames MUST arrive in order")
	}

	reply := mustFrame(t, 0x7E8, 0x03, 0x41, 0x10, 0x01)
	require.NoError(t, b.Send(ctx, reply))
	got, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestLoopback_ReceiveWaitsForSend(t *testing.T) {
	a, b := NewLoopback(4, nil)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	done := make(chan Frame, 1)
	go func() {
		f, err := b.Receive(ctx)
		if err == nil {
			done <- f
		}
	}()

	time.Sleep(20 * time.Millisecond)
	want := mustFrame(t, 0x7DF, 0x01, 0x03)
	require.NoError(t, a.Send(ctx, want))

	select {
	case got := <-done:
		assert.Equal(t, want, got)
	case <-ctx.Done():
		t.Fatal("receiver MUST wake up when a frame arrives")
	}
}

func TestLoopback_Filters(t *testing.T) {
	a, b := NewLoopback(8, nil)
	defer a.Close()
	defer b.Close()
	a.SetFilters(ResponseFilter)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	require.NoError(t, b.Send(ctx, mustFrame(t, 0x3E8, 0xFF)))
	require.NoError(t, b.Send(ctx, mustFrame(t, 0x7DF, 0x01, 0x03)))
	want := mustFrame(t, 0x7E8, 0x02, 0x43, 0x00)
	require.NoError(t, b.Send(ctx, want))

	got, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got, "frames outside the filter MUST be skipped")
}

func TestLoopback_BufferFull(t *testing.T) {
	a, b := NewLoopback(2, nil)
	defer a.Close()
	defer b.Close()

	ctx := t.Context()
	f := mustFrame(t, 0x7DF, 0x02, 0x01, 0x0C)
	require.NoError(t, a.Send(ctx, f))
	require.NoError(t, a.Send(ctx, f))
	assert.ErrorIs(t, a.Send(ctx, f), ErrBufferFull)

	_, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.NoError(t, a.Send(ctx, f), "draining MUST free room for the next frame")
}

func TestLoopback_Close(t *testing.T) {
	a, b := NewLoopback(2, nil)
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	errs := make(chan error, 1)
	go func() {
		_, err := b.Receive(ctx)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-ctx.Done():
		t.Fatal("Close MUST wake pending receivers")
	}

	assert.ErrorIs(t, a.Send(ctx, mustFrame(t, 0x7DF)), ErrClosed)
	assert.NoError(t, b.Close(), "Close MUST be idempotent")
}

func TestLoopback_ContextCancelled(t *testing.T) {
	a, b := NewLoopback(2, nil)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
