package speechmesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechmesh/config"
	"github.com/hupe1980/speechmesh/memory"
	"github.com/hupe1980/speechmesh/model"
)

func TestNew_BuildsOnlyConfiguredPipelines(t *testing.T) {
	m := New()
	assert.Nil(t, m.ASR())
	assert.Nil(t, m.TTS())
	assert.Nil(t, m.LLM())

	m = New(func(o *Options) {
		o.Model = model.NewMockModel("mock", "test")
	})
	assert.Nil(t, m.ASR())
	assert.Nil(t, m.TTS())
	assert.NotNil(t, m.LLM())
}

func TestCompleteSync(t *testing.T) {
	mock := model.NewMockModel("mock", "test")
	mock.AddResponse("ping", "pong")

	m := New(func(o *Options) {
		o.Model = mock
	})

	text, err := m.CompleteSync(context.Background(), "req-1", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", text)

	msgs := m.LLM().Memory().Get()
	require.Len(t, msgs, 2)
	assert.Equal(t, memory.RoleUser, msgs[0].Role)
	assert.Equal(t, memory.RoleAssistant, msgs[1].Role)
}

func TestNew_SettingsPlumbedIntoPipelines(t *testing.T) {
	settings := config.Default()
	settings.EventBufferSize = 7

	m := New(func(o *Options) {
		o.Settings = settings
		o.Model = model.NewMockModel("mock", "test")
	})

	out, err := m.LLM().Submit(context.Background(), "req-1", "ping")
	require.NoError(t, err)
	assert.Equal(t, 7, cap(out))

	for range out {
	}
}

func TestCompleteSync_NoModelConfigured(t *testing.T) {
	m := New()

	_, err := m.CompleteSync(context.Background(), "req-1", "ping")
	assert.Error(t, err)
}
