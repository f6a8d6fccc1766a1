package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    llmConfig
		wantErr bool
	}{
		{
			name: "ollama",
			yaml: `
port: "3000"
systemPrompt: be brief
llm:
  provider: ollama
  model: llama3
  host: http://localhost:11434
`,
			want: &ollamaConfig{
				BaseLLMConfig: BaseLLMConfig{Provider: "ollama", Model: "llama3"},
				Host:          "http://localhost:11434",
			},
		},
		{
			name: "anthropic",
			yaml: `
llm:
  provider: anthropic
  model: claude
  maxTokens: 1000
`,
			want: &anthropicConfig{
				BaseLLMConfig: BaseLLMConfig{Provider: "anthropic", Model: "claude"},
				MaxTokens:     1000,
			},
		},
		{
			name: "openrouter",
			yaml: `
llm:
  provider: openrouter
  model: some/model
  apiKey: key
`,
			want: &openRouterConfig{
				BaseLLMConfig: BaseLLMConfig{Provider: "openrouter", Model: "some/model"},
				APIKey:        "key",
			},
		},
		{
			name:    "missing provider",
			yaml:    "llm:\n  model: x\n",
			wantErr: true,
		},
		{
			name:    "unknown provider",
			yaml:    "llm:\n  provider: nope\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg.LLM)
		})
	}
}

func TestOpenAIConfigParameters(t *testing.T) {
	var cfg config
	require.NoError(t, yaml.Unmarshal([]byte(`
llm:
  provider: openai
  model: gpt-4o-mini
  baseURL: http://localhost:8000/v1
  parameters:
    temperature: 0.2
    maxTokens: 256
`), &cfg))

	oc, ok := cfg.LLM.(*openAIConfig)
	require.True(t, ok)
	require.Equal(t, "http://localhost:8000/v1", oc.BaseURL)
	require.NotNil(t, oc.Parameters.Temperature)
	require.InDelta(t, 0.2, *oc.Parameters.Temperature, 1e-6)
	require.Equal(t, 256, *oc.Parameters.MaxTokens)

	llm, err := oc.llm("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NotNil(t, llm)
}

func TestLLMRequiresModel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, c := range []llmConfig{ollamaConfig{}, openAIConfig{}, anthropicConfig{}, openRouterConfig{}} {
		_, err := c.llm("", logger)
		require.Error(t, err)
	}
}
