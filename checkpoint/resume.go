package checkpoint

import (
	"context"
	"encoding"
	"fmt"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/core"
	"github.com/rushteam/reviewrank/model"
	"github.com/rushteam/reviewrank/pkg/logger"
)

// ResumeOptions 控制恢复过程。
type ResumeOptions struct {
	// Relaxed 为 true 时允许参数快照与模型结构部分不一致
	Relaxed bool
	Logger  *logger.Logger
}

// Resumed 是恢复结果。
type Resumed struct {
	Checkpoint *Checkpoint
	Config     *config.Config
	Ranker     *model.ProductRanker
}

// Resume 从存储恢复模型：
//  1. 读取快照
//  2. 结构参数以快照为准（静默覆盖调用方的值，记录日志），epoch 写入 StartEpoch
//  3. 按恢复后的配置构建模型并载入参数
//
// cfg 不会被修改。
func Resume(ctx context.Context, st core.Store, key string, cfg *config.Config, opts model.Options, ro ResumeOptions) (*Resumed, error) {
	log := logger.OrNoop(ro.Logger).WithComponent("checkpoint")
	log.Info("loading checkpoint", "store", st.Name(), "key", key)

	cp, err := Load(ctx, st, key)
	if err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	if changed := cp.ApplyTo(cfg); len(changed) > 0 {
		log.Info("model flags restored from checkpoint", "flags", changed)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = ro.Logger
	}
	r, err := model.NewProductRanker(cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := r.LoadStateDict(cp.Model, !ro.Relaxed); err != nil {
		return nil, err
	}
	log.Info("checkpoint restored", "epoch", cp.Epoch, "params", len(cp.Model))
	return &Resumed{Checkpoint: cp, Config: cfg, Ranker: r}, nil
}

// CheckOptimizer 校验外部优化器在载入快照状态后的完整性。
func (r *Resumed) CheckOptimizer(opt model.Optimizer) error {
	return model.CheckOptimizerState(opt, true)
}

// RestoreOptimizer 把快照中的优化器状态载入 opt（需实现 encoding.BinaryUnmarshaler），
// 然后做与 CheckOptimizer 相同的校验。
func (r *Resumed) RestoreOptimizer(opt model.Optimizer) error {
	if opt == nil {
		return model.ErrNoOptimizer
	}
	if r.Checkpoint != nil && r.Checkpoint.OptimMethod != "" && r.Checkpoint.OptimMethod != opt.Method() {
		return fmt.Errorf("%w: checkpoint optimizer %s, got %s", ErrOptimizerMismatch, r.Checkpoint.OptimMethod, opt.Method())
	}
	if u, ok := opt.(encoding.BinaryUnmarshaler); ok && r.Checkpoint != nil && len(r.Checkpoint.Optim) > 0 {
		if err := u.UnmarshalBinary(r.Checkpoint.Optim); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return r.CheckOptimizer(opt)
}
