package model

import (
	"context"
	"fmt"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/nn"
)

// 优化器名称；adam 需要内部状态（一阶、二阶矩）。
const (
	OptimSGD  = "sgd"
	OptimAdam = "adam"
)

// Optimizer 用参数上已经求好的梯度（Param.Grad）更新参数。
// loss 只用于记录，不参与更新。
type Optimizer interface {
	Method() string
	// StateSize 返回内部状态条目数（adam 为有矩估计的参数数）
	StateSize() int
	Step(ctx context.Context, params []*nn.Param, loss float64) error
}

// NewOptimizer 按 cfg.Optim 构建内置优化器。
func NewOptimizer(cfg *config.Config) (Optimizer, error) {
	switch cfg.Optim {
	case OptimSGD:
		return nn.NewSGD(cfg.LR), nil
	case OptimAdam:
		return nn.NewAdam(cfg.LR, cfg.Beta1, cfg.Beta2), nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", ErrNoOptimizer, cfg.Optim)
	}
}

// CheckOptimizerState 检查从 checkpoint 恢复的优化器：adam 恢复后状态为空属于致命错误，
// 不能在冷启动的优化器上假装继续训练。
func CheckOptimizerState(opt Optimizer, resumed bool) error {
	if opt == nil {
		return ErrNoOptimizer
	}
	if resumed && opt.Method() == OptimAdam && opt.StateSize() < 1 {
		return ErrOptimizerStateEmpty
	}
	return nil
}

// Step 是一个训练步：前向 → 反向传播 → 优化器更新 → padding 行清零 → 缓存失效。
// 构造时绑定模型与优化器，保证每次参数更新后都会调用 ReviewCache.Invalidate。
type Step struct {
	ranker *ProductRanker
	opt    Optimizer
	rt     *nn.Runtime

	// TrainPV 控制是否计算段落向量损失，默认 true
	TrainPV bool
	// MaxGradNorm > 0 时裁剪梯度的全局 L2 范数
	MaxGradNorm float64
	// L2Lambda 是加到梯度上的权重衰减系数
	L2Lambda float64
}

func NewStep(r *ProductRanker, opt Optimizer) (*Step, error) {
	if opt == nil {
		return nil, ErrNoOptimizer
	}
	return &Step{
		ranker:  r,
		opt:     opt,
		rt:          nn.NewRuntime(true, uint64(r.cfg.Seed)),
		TrainPV:     true,
		MaxGradNorm: r.cfg.MaxGradNorm,
		L2Lambda:    r.cfg.L2Lambda,
	}, nil
}

// Runtime 返回训练步使用的运行环境（训练模式）。
func (s *Step) Runtime() *nn.Runtime { return s.rt }

// Run 在训练模式下计算 batches 的平均损失，反向传播后交给优化器，返回更新前的损失。
func (s *Step) Run(ctx context.Context, batches []*Batch) (float64, error) {
	node, err := s.ranker.forward(ctx, s.rt, batches, s.TrainPV)
	if err != nil {
		return 0, err
	}
	loss := nn.Scalar(node)
	params := s.ranker.TrainableParameters()
	nn.Backward(node, params)
	if s.L2Lambda > 0 {
		for _, p := range params {
			if p.Grad == nil {
				continue
			}
			for i, v := range p.Values() {
				p.Grad[i] += s.L2Lambda * v
			}
		}
	}
	if s.MaxGradNorm > 0 {
		nn.ClipGradNorm(params, s.MaxGradNorm)
	}

	// 优化器可能已部分更新参数，无论是否出错都要失效缓存
	defer s.ranker.cache.Invalidate()
	err = s.opt.Step(ctx, params, loss)
	s.ranker.zeroPads()
	if err != nil {
		return loss, err
	}
	return loss, nil
}
