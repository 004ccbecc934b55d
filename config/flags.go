package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/reviewrank/pkg/conv"
)

// ModelFlags 是从 checkpoint 恢复时以 checkpoint 为准的结构参数。
// 这些参数决定参数张量的形状，运行时传入的值会被静默覆盖。
var ModelFlags = []string{
	"embedding_size",
	"ff_size",
	"heads",
	"inter_layers",
	"review_encoder_name",
	"query_encoder_name",
}

// Snapshot 把配置展开为 map（key 与 YAML 字段名一致），写入 checkpoint 的 opt。
func (c *Config) Snapshot() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return out, nil
}

// ApplyModelFlags 用 checkpoint 中的 opt 覆盖 ModelFlags 列出的字段，返回实际被修改的 key。
// 不在白名单中的 key 被忽略。
func (c *Config) ApplyModelFlags(opt map[string]any) []string {
	var changed []string
	setInt := func(key string, dst *int) {
		v, ok := conv.ToInt(opt[key])
		if !ok || v == *dst {
			return
		}
		*dst = v
		changed = append(changed, key)
	}
	setString := func(key string, dst *string) {
		v := conv.ConfigGet[string](opt, key, "")
		if v == "" || v == *dst {
			return
		}
		*dst = v
		changed = append(changed, key)
	}

	for _, key := range ModelFlags {
		switch key {
		case "embedding_size":
			setInt(key, &c.EmbeddingSize)
		case "ff_size":
			setInt(key, &c.FFSize)
		case "heads":
			setInt(key, &c.Heads)
		case "inter_layers":
			setInt(key, &c.InterLayers)
		case "review_encoder_name":
			setString(key, &c.ReviewEncoderName)
		case "query_encoder_name":
			setString(key, &c.QueryEncoderName)
		}
	}
	return changed
}
