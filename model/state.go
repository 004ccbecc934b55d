package model

import (
	"fmt"
	"sort"

	"github.com/rushteam/reviewrank/pkg/nn"
)

// StateDict 返回全部参数的深拷贝快照，key 为参数名。
func (r *ProductRanker) StateDict() map[string]nn.Tensor {
	params := r.Parameters()
	out := make(map[string]nn.Tensor, len(params))
	for _, p := range params {
		out[p.Name] = p.Tensor()
	}
	return out
}

// LoadStateDict 从快照恢复参数。
// strict 为 true 时缺失或多余的 key 都是错误；为 false 时只恢复能对上的参数。
// 形状不一致总是错误。所有 key 与形状先全部校验，校验失败时参数与缓存都不变；
// 成功加载后缓存被无条件清空。
func (r *ProductRanker) LoadStateDict(sd map[string]nn.Tensor, strict bool) error {
	params := r.Parameters()
	known := make(map[string]struct{}, len(params))
	var missing []string
	for _, p := range params {
		known[p.Name] = struct{}{}
		t, ok := sd[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		if err := p.Check(t); err != nil {
			return fmt.Errorf("%w: %v", ErrStateDictMismatch, err)
		}
	}
	if strict {
		var unexpected []string
		for name := range sd {
			if _, ok := known[name]; !ok {
				unexpected = append(unexpected, name)
			}
		}
		if len(missing) > 0 || len(unexpected) > 0 {
			sort.Strings(unexpected)
			return fmt.Errorf("%w: missing keys %v, unexpected keys %v", ErrStateDictMismatch, missing, unexpected)
		}
	}

	defer r.cache.Reset()
	for _, p := range params {
		if t, ok := sd[p.Name]; ok {
			p.SetValues(t.Data)
		}
	}
	if len(missing) > 0 {
		r.log.Info("state dict loaded without some parameters", "missing", len(missing))
	}
	return nil
}
