package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/config"
)

func TestNoopClient_AlwaysFails(t *testing.T) {
	c := NoopClient{}

	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	_, err = c.CompleteStructured(context.Background(), nil, StructuredOutputConfig{})
	require.Error(t, err)

	assert.Equal(t, "none", c.ModelName())
	assert.NoError(t, c.Close())
}

func TestNewFromConfig_NilOrEmptyType_ReturnsNoop(t *testing.T) {
	c, err := NewFromConfig(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, NoopClient{}, c)
}

func TestNewFromConfig_UnsupportedType_Errors(t *testing.T) {
	_, err := NewFromConfig(context.Background(), &config.LLMProviderConfig{Type: "not-a-real-provider"})
	require.Error(t, err)
}
