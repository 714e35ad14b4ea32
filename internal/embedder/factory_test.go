package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		jinaKey   string
		openaiKey string
		want      string
	}{
		{name: "explicit jina", provider: "jina", want: ProviderJina},
		{name: "explicit upper case", provider: "OPENAI", want: ProviderOpenAI},
		{name: "explicit local beats keys", provider: "local", openaiKey: "k", want: ProviderLocal},
		{name: "openai key", openaiKey: "k", want: ProviderOpenAI},
		{name: "jina key", jinaKey: "k", want: ProviderJina},
		{name: "openai preferred over jina", jinaKey: "k", openaiKey: "k", want: ProviderOpenAI},
		{name: "nothing set", want: ProviderLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvJinaAPIKey, tt.jinaKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openaiKey)
			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Run("falls back to local", func(t *testing.T) {
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvJinaAPIKey, "")
		t.Setenv(EnvOpenAIAPIKey, "")
		emb, err := NewFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, emb.Provider())
		assert.Equal(t, LocalDimension, emb.Dimension())
	})

	t.Run("openai without key fails", func(t *testing.T) {
		t.Setenv(EnvProvider, "openai")
		t.Setenv(EnvOpenAIAPIKey, "")
		_, err := NewFromEnv()
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv(EnvProvider, "bogus")
		_, err := NewFromEnv()
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})
}

func TestNew(t *testing.T) {
	emb, err := New(Config{Provider: "openai", APIKey: "k", Endpoint: "http://localhost:1"})
	require.NoError(t, err)
	assert.Equal(t, OpenAIDimension, emb.Dimension())

	emb, err = New(Config{Provider: "local", Dimension: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, emb.Dimension())
}
