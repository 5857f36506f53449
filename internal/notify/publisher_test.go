package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl-sub007/internal/config"
)

func TestNewPublisherDisabled(t *testing.T) {
	p, err := NewPublisher(context.Background(), config.NotifyConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, p.queue)

	// Publish on a disabled publisher must not error.
	assert.NoError(t, p.Publish(context.Background(), Outcome{ExecutionID: "exec-1", Status: "completed"}))
	assert.NoError(t, p.Close())
}

func TestNewPublisherUnsupportedType(t *testing.T) {
	_, err := NewPublisher(context.Background(), config.NotifyConfig{Enabled: true, Type: "carrier-pigeon"})
	assert.Error(t, err)
}
