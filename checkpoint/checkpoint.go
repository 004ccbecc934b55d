// Package checkpoint 负责模型快照的编码、存取与恢复。
//
// 快照内容：全部参数（model）、不透明的优化器状态（optim）、完整配置（opt）与 epoch。
// 编码为 gob，再用 zstd 压缩。文件导出是单个 blob；经 core.Store 保存时拆成
// 头部、参数、优化器状态三个 key，一次 BatchSet 写入、一次 BatchGet 读回。
package checkpoint

import (
	"bytes"
	"context"
	"encoding"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/core"
	"github.com/rushteam/reviewrank/model"
	"github.com/rushteam/reviewrank/pkg/nn"
)

var (
	// ErrNotFound 表示存储中没有该 checkpoint
	ErrNotFound = core.NewDomainError(core.ModuleCheckpoint, core.ErrorCodeNotFound, "checkpoint: not found")
	// ErrCorrupt 表示数据无法解码
	ErrCorrupt = core.NewDomainError(core.ModuleCheckpoint, core.ErrorCodeInvalidInput, "checkpoint: corrupt data")
	// ErrOptimizerMismatch 表示快照中的优化器与调用方提供的不是同一种
	ErrOptimizerMismatch = core.NewDomainError(core.ModuleCheckpoint, core.ErrorCodeInvalidState, "checkpoint: optimizer mismatch")
)

// 存储中参数与优化器状态的 key 后缀，头部直接使用 checkpoint key。
const (
	ModelSuffix = "/model"
	OptimSuffix = "/optim"
)

func init() {
	// opt 中的嵌套值
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Checkpoint 是一次训练状态的快照。
type Checkpoint struct {
	Model map[string]nn.Tensor
	// Optim 是优化器自行序列化的状态，可以为空
	Optim          []byte
	OptimMethod    string
	OptimStateSize int
	// Opt 是保存时的完整配置（key 与 YAML 字段名一致）
	Opt   map[string]any
	Epoch int
}

// New 从模型与（可选的）优化器构建快照。
// optimState 为 nil 且优化器实现了 encoding.BinaryMarshaler（如 nn.Adam）时，由优化器自行序列化。
func New(r *model.ProductRanker, opt model.Optimizer, optimState []byte, epoch int) (*Checkpoint, error) {
	snapshot, err := r.Config().Snapshot()
	if err != nil {
		return nil, err
	}
	if m, ok := opt.(encoding.BinaryMarshaler); ok && optimState == nil {
		if optimState, err = m.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshal %s state: %w", opt.Method(), err)
		}
	}
	cp := &Checkpoint{
		Model: r.StateDict(),
		Optim: optimState,
		Opt:   snapshot,
		Epoch: epoch,
	}
	if opt != nil {
		cp.OptimMethod = opt.Method()
		cp.OptimStateSize = opt.StateSize()
	}
	return cp, nil
}

// Encode 把快照编码为 zstd 压缩的 gob。
func Encode(cp *Checkpoint) ([]byte, error) {
	data, err := pack(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Decode 是 Encode 的逆过程。
func Decode(data []byte) (*Checkpoint, error) {
	cp := &Checkpoint{}
	if err := unpack(data, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func pack(v any) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(v); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

func unpack(data []byte, v any) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// Save 把快照拆成头部、参数与优化器状态，一次批量写入存储。
// 优化器状态为空时也会写入（空值），覆盖同一 key 上旧的状态。
func Save(ctx context.Context, st core.Store, key string, cp *Checkpoint) error {
	header := *cp
	header.Model = nil
	header.Optim = nil
	head, err := Encode(&header)
	if err != nil {
		return err
	}
	params, err := pack(cp.Model)
	if err != nil {
		return fmt.Errorf("encode checkpoint parameters: %w", err)
	}
	kvs := map[string][]byte{
		key:               head,
		key + ModelSuffix: params,
		key + OptimSuffix: append([]byte{}, cp.Optim...),
	}
	if err := st.BatchSet(ctx, kvs); err != nil {
		return fmt.Errorf("save checkpoint %s to %s: %w", key, st.Name(), err)
	}
	return nil
}

// Load 批量读取三个部分并组装快照。头部缺失返回 ErrNotFound，参数缺失返回 ErrCorrupt。
func Load(ctx context.Context, st core.Store, key string) (*Checkpoint, error) {
	parts, err := st.BatchGet(ctx, []string{key, key + ModelSuffix, key + OptimSuffix})
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s from %s: %w", key, st.Name(), err)
	}
	head, ok := parts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	cp, err := Decode(head)
	if err != nil {
		return nil, err
	}
	params, ok := parts[key+ModelSuffix]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no parameters", ErrCorrupt, key)
	}
	if err := unpack(params, &cp.Model); err != nil {
		return nil, err
	}
	if optim := parts[key+OptimSuffix]; len(optim) > 0 {
		cp.Optim = optim
	}
	return cp, nil
}

// ApplyTo 把快照的结构参数（config.ModelFlags）与 epoch 覆盖到 cfg，返回被修改的结构参数。
func (cp *Checkpoint) ApplyTo(cfg *config.Config) []string {
	changed := cfg.ApplyModelFlags(cp.Opt)
	cfg.StartEpoch = cp.Epoch
	return changed
}
