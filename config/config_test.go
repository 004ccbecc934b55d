package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EncoderPVC, cfg.ReviewEncoderName)
	assert.Equal(t, EncoderFS, cfg.QueryEncoderName)
	assert.Equal(t, 128, cfg.CacheSliceSize)
}

func TestParseYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := ParseYAML([]byte("embedding_size: 16\nheads: 4\nfix_emb: true\n"))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.EmbeddingSize)
	assert.Equal(t, 4, cfg.Heads)
	assert.True(t, cfg.FixEmb)
	assert.Equal(t, Default().FFSize, cfg.FFSize)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("review_encoder_name: avg\n"), 0o644))

	cfg, err := LoadFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, EncoderAVG, cfg.ReviewEncoderName)

	_, err = LoadFromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown review encoder", func(c *Config) { c.ReviewEncoderName = "bert" }},
		{"pv as query encoder", func(c *Config) { c.QueryEncoderName = EncoderPV }},
		{"heads do not divide", func(c *Config) { c.EmbeddingSize = 10; c.Heads = 4 }},
		{"zero ff size", func(c *Config) { c.FFSize = 0 }},
		{"dropout one", func(c *Config) { c.Dropout = 1 }},
		{"corrupt rate one", func(c *Config) { c.CorruptRate = 1 }},
		{"negative scale", func(c *Config) { c.CorruptScale = -1 }},
		{"negative neg per pos", func(c *Config) { c.NegPerPos = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEffectiveReviewEncoder(t *testing.T) {
	cfg := Default()
	assert.Equal(t, EncoderPVC, cfg.EffectiveReviewEncoder())
	cfg.FixEmb = true
	assert.Equal(t, EncoderPV, cfg.EffectiveReviewEncoder())
	cfg.ReviewEncoderName = EncoderFS
	assert.Equal(t, EncoderFS, cfg.EffectiveReviewEncoder())
}

func TestEffectiveCorruptScale(t *testing.T) {
	cfg := Default()
	cfg.CorruptRate = 0.75
	assert.InDelta(t, 4.0, cfg.EffectiveCorruptScale(), 1e-12)
	cfg.CorruptScale = 2
	assert.Equal(t, 2.0, cfg.EffectiveCorruptScale())
}

func TestSnapshotAndApplyModelFlags(t *testing.T) {
	saved := Default()
	saved.EmbeddingSize = 32
	saved.Heads = 4
	saved.ReviewEncoderName = EncoderAVG
	saved.LR = 0.5
	opt, err := saved.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, EncoderAVG, opt["review_encoder_name"])

	cfg := Default()
	changed := cfg.ApplyModelFlags(opt)
	assert.ElementsMatch(t, []string{"embedding_size", "heads", "review_encoder_name"}, changed)
	assert.Equal(t, 32, cfg.EmbeddingSize)
	assert.Equal(t, EncoderAVG, cfg.ReviewEncoderName)
	// 不在白名单中的字段保持调用方的值
	assert.Equal(t, Default().LR, cfg.LR)

	assert.Empty(t, cfg.ApplyModelFlags(opt))
}

func TestClone(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	cp.EmbeddingSize = 1
	assert.Equal(t, 128, cfg.EmbeddingSize)
}
