package promise

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_Resolves(t *testing.T) {
	release := make(chan struct{})
	p := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 42, nil
	})

	v, ok := p.Poll()
	assert.False(t, ok, "pending promise must not report ready")
	assert.Zero(t, v)
	assert.NoError(t, p.Err())

	close(release)

	v, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, ok = p.Poll()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestGo_ProducerError(t *testing.T) {
	boom := errors.New("boom")
	p := Go(context.Background(), func(ctx context.Context) (string, error) {
		return "partial", boom
	})

	<-p.Done()

	_, ok := p.Poll()
	assert.False(t, ok)
	assert.ErrorIs(t, p.Err(), boom)

	_, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCancel_StopsProducer(t *testing.T) {
	stopped := make(chan struct{})
	p := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(stopped)
		return 7, nil
	})

	p.Cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer did not observe cancellation")
	}

	_, ok := p.Poll()
	assert.False(t, ok)
	assert.ErrorIs(t, p.Err(), ErrCanceled)
}

func TestCancel_AfterResolveIsNoop(t *testing.T) {
	p := Resolved("ready")
	p.Cancel()

	v, ok := p.Poll()
	assert.True(t, ok)
	assert.Equal(t, "ready", v)
	assert.NoError(t, p.Err())
}

func TestGo_ParentContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Go(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 1, nil
	})

	cancel()
	<-p.Done()
	assert.ErrorIs(t, p.Err(), ErrCanceled)
}

func TestWait_ContextDeadline(t *testing.T) {
	p := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	t.Cleanup(p.Cancel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
