package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/memex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(body), 0o644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	require.NoError(t, err)

	assert.True(t, cfg.Embeddings)
	assert.True(t, cfg.AutoIndexOnSearch)
	assert.Equal(t, 2*time.Minute, cfg.SyncTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout.Duration)
	assert.Equal(t, 64, cfg.EmbeddingBatchSize)
	assert.Equal(t, 0.5, cfg.HybridLexicalWeight)
	assert.Equal(t, filepath.Join(root, IndexDir), cfg.IndexPath())
	require.Len(t, cfg.Sources, 2)
	assert.True(t, filepath.IsAbs(cfg.Sources[0].Path), "home is expanded")
	assert.Equal(t, "claude", cfg.Sources[0].Format)
}

func TestLoad_File(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
embeddings = false
auto_index_on_search = false
sync_timeout = "10s"
embedding_model = "nomic-embed-text"
hybrid_lexical_weight = 0.7
hybrid_semantic_weight = 0.3

[[sources]]
path = "/var/logs/codex"
format = "Codex"
`)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.False(t, cfg.Embeddings)
	assert.False(t, cfg.AutoIndexOnSearch)
	assert.Equal(t, 10*time.Second, cfg.SyncTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout.Duration, "unset keys keep defaults")
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, 0.7, cfg.HybridLexicalWeight)
	assert.Equal(t, []Source{{Path: "/var/logs/codex", Format: "codex"}}, cfg.Sources)
}

func TestLoad_OptionsOverrideFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "embeddings = true\n")

	cfg, err := Load(root, WithEmbeddings(false), WithSources(Source{Path: "/tmp/x", Format: "claude"}))
	require.NoError(t, err)
	assert.False(t, cfg.Embeddings)
	assert.Equal(t, "/tmp/x", cfg.Sources[0].Path)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "embeddings = = true"},
		{"unknown key", "embedings = true"},
		{"bad duration", `sync_timeout = "soon"`},
		{"bad format", "[[sources]]\npath = \"/x\"\nformat = \"gemini\"\n"},
		{"negative weight", "hybrid_semantic_weight = -1"},
		{"zero batch", "embedding_batch_size = 0"},
		{"zero timeout", `lock_timeout = "0s"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, tt.body)
			_, err := Load(root)
			assert.ErrorIs(t, err, core.ErrConfig)
		})
	}
}

func TestLoad_EmbeddingsNeedModel(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "embedding_model = \"\"\n")
	_, err := Load(root)
	assert.ErrorIs(t, err, core.ErrConfig)

	writeConfig(t, root, "embeddings = false\nembedding_model = \"\"\n")
	_, err = Load(root)
	assert.NoError(t, err)
}

func TestResolveRoot(t *testing.T) {
	dir := t.TempDir()

	root, err := ResolveRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, root)

	t.Setenv(EnvRoot, filepath.Join(dir, "env"))
	root, err = ResolveRoot("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "env"), root)

	t.Setenv(EnvRoot, "")
	t.Setenv("HOME", dir)
	root, err = ResolveRoot("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".memex"), root)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
