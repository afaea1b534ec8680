package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-correlation/internal/utils"
)

func TestTimeoutManager_DefaultTimeoutConfig(t *testing.T) {
	config := DefaultTimeoutConfig()

	assert.Equal(t, 10*time.Second, config.File)
	assert.Equal(t, 2*time.Second, config.Redis)
	assert.Equal(t, 5*time.Second, config.Postgres)
	assert.Equal(t, 10*time.Second, config.Default)
}

func TestTimeoutManager_TimeoutFor(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{Redis: time.Second, Default: 3 * time.Second}, silentLogger())

	assert.Equal(t, time.Second, tm.TimeoutFor("redis"))
	assert.Equal(t, 3*time.Second, tm.TimeoutFor("postgres"))
	assert.Equal(t, 3*time.Second, tm.TimeoutFor("s3"))

	bare := NewTimeoutManager(&TimeoutConfig{}, nil)
	assert.Equal(t, 10*time.Second, bare.TimeoutFor("file"))
}

func TestTimeoutManager_ExecuteWithTimeout(t *testing.T) {
	tm := NewTimeoutManager(nil, silentLogger())

	err := tm.ExecuteWithTimeout(context.Background(), "file", "c-1", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, tm.GetActiveOperationCount())

	boom := errors.New("disk full")
	err = tm.ExecuteWithTimeout(context.Background(), "file", "c-2", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestTimeoutManager_Timeout(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{Redis: 20 * time.Millisecond}, silentLogger())

	err := tm.ExecuteWithTimeout(context.Background(), "redis", "c-1", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, utils.ErrTransient)
	assert.Contains(t, err.Error(), "redis timed out")
	assert.Zero(t, tm.GetActiveOperationCount())
}

func TestTimeoutManager_ParentCancelled(t *testing.T) {
	tm := NewTimeoutManager(nil, silentLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tm.ExecuteWithTimeout(ctx, "postgres", "c-1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeoutManager_CancelAllOperations(t *testing.T) {
	tm := NewTimeoutManager(nil, silentLogger())
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	var err error
	go func() {
		defer wg.Done()
		err = tm.ExecuteWithTimeout(context.Background(), "postgres", "c-1", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	assert.Equal(t, 1, tm.GetActiveOperationCount())
	tm.CancelAllOperations()
	wg.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tm.GetActiveOperationCount())
}
