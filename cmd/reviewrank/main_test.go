package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
review_encoder_name: avg
query_encoder_name: fs
embedding_size: 8
ff_size: 16
heads: 2
inter_layers: 1
rank_cutoff: 2
cache_slice_size: 2
cache_workers: 2
`

const testRequestJSON = `{
  "vocab_size": 10,
  "review_count": 5,
  "review_words": [[0, 1, 2], [3, 4, 9], [5, 6, 7], [8, 2, 9]],
  "queries": [
    {"id": "q1", "words": [1, 2, 3], "candidates": [
      {"id": "p1", "reviews": [0, 1], "meta": {"brand": "acme"}},
      {"id": "p2", "reviews": [2, 4]},
      {"id": "p3", "reviews": [3, 4], "segments": [0, 2, 3], "meta": {"brand": "acme"}}
    ]},
    {"id": "q2", "words": [4, 5], "candidates": [
      {"id": "p4", "reviews": [1]}
    ]}
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func fixture(t *testing.T) (dir, cfg, req string) {
	dir = t.TempDir()
	return dir, writeFile(t, dir, "model.yaml", testConfigYAML), writeFile(t, dir, "req.json", testRequestJSON)
}

func TestConfigCmd(t *testing.T) {
	_, cfg, _ := fixture(t)
	out, err := run(t, "config", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "embedding_size: 8")
	assert.Contains(t, out, "review_encoder_name: avg")
	// 文件未给出的字段保持默认值
	assert.Contains(t, out, "neg_per_pos: 5")
}

func TestConfigCmdInvalid(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "bad.yaml", "embedding_size: 7\nheads: 2\n")
	_, err := run(t, "config", "--config", cfg)
	assert.Error(t, err)
}

func TestExportAndScoreFromFile(t *testing.T) {
	dir, cfg, req := fixture(t)
	ckpt := filepath.Join(dir, "init.ckpt")

	_, err := run(t, "export", "--config", cfg, "--request", req, "--out", ckpt, "--epoch", "2")
	require.NoError(t, err)
	require.FileExists(t, ckpt)

	out, err := run(t, "score", "--config", cfg, "--request", req, "--checkpoint-file", ckpt, "--run", "test")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// rank_cutoff 为 2：q1 保留两项，q2 只有一项
	require.Len(t, lines, 3)
	for _, line := range lines {
		fields := strings.Fields(line)
		require.Len(t, fields, 6)
		assert.Equal(t, "Q0", fields[1])
		assert.Equal(t, "test", fields[5])
	}
	assert.True(t, strings.HasPrefix(lines[0], "q1 Q0 "))
	assert.True(t, strings.HasPrefix(lines[2], "q2 Q0 p4 1 "))
}

func TestScoreCutoffAndFilter(t *testing.T) {
	_, cfg, req := fixture(t)

	out, err := run(t, "score", "--config", cfg, "--request", req, "--cutoff", "0")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 4)

	out, err = run(t, "score", "--config", cfg, "--request", req, "--cutoff", "0", "--filter", `query_id == "q2"`)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "q2 Q0 p4 1 ")

	out, err = run(t, "score", "--config", cfg, "--request", req, "--cutoff", "0",
		"--filter", `"brand" in meta && meta.brand == "acme"`)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.NotContains(t, out, " p2 ")
	assert.NotContains(t, out, " p4 ")

	_, err = run(t, "score", "--config", cfg, "--request", req, "--filter", "score +")
	assert.Error(t, err)
}

func TestScoreFromRedis(t *testing.T) {
	dir, cfg, req := fixture(t)
	mr := miniredis.RunT(t)
	ckpt := filepath.Join(dir, "init.ckpt")

	_, err := run(t, "export", "--config", cfg, "--request", req, "--out", ckpt,
		"--checkpoint-redis", mr.Addr(), "--checkpoint-key", "ckpt:init")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ckpt:init"))
	assert.True(t, mr.Exists("ckpt:init/model"))

	fromRedis, err := run(t, "score", "--config", cfg, "--request", req,
		"--checkpoint-redis", "redis://"+mr.Addr()+"/0", "--checkpoint-key", "ckpt:init")
	require.NoError(t, err)
	fromFile, err := run(t, "score", "--config", cfg, "--request", req, "--checkpoint-file", ckpt)
	require.NoError(t, err)
	assert.Equal(t, fromFile, fromRedis)

	_, err = run(t, "score", "--config", cfg, "--request", req,
		"--checkpoint-redis", mr.Addr(), "--checkpoint-key", "missing")
	assert.Error(t, err)
}

func TestScoreRequiresRequest(t *testing.T) {
	_, err := run(t, "score")
	assert.Error(t, err)
}

func TestDefaultSegments(t *testing.T) {
	assert.Equal(t, []int{0, 2, 3, 3}, defaultSegments([]int{1, 4, 4}, 4))
}
