package surface

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StartWithCancelledContext(t *testing.T) {
	m := NewManager(Config{Headless: true}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, m.Start(ctx), context.Canceled)
	assert.False(t, m.IsConnected())
	assert.Nil(t, m.cancel)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ShutdownIsRepeatable(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	called := 0
	m.cancel = func() { called++ }

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, called)
	assert.Nil(t, m.cancel)
}
