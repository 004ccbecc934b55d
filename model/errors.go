package model

import "github.com/rushteam/reviewrank/core"

var (
	// ErrInvalidBatch 表示 batch 的形状或 id 范围无法安全索引
	ErrInvalidBatch = core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "model: invalid batch")

	// ErrOptimizerStateEmpty 表示从 checkpoint 恢复的 adam 优化器没有内部状态
	ErrOptimizerStateEmpty = core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidState,
		"model: loaded adam optimizer from existing model but optimizer state is empty")

	// ErrNoOptimizer 表示训练步没有可用的优化器
	ErrNoOptimizer = core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "model: optimizer is required")

	// ErrStateDictMismatch 表示参数快照与模型结构不一致
	ErrStateDictMismatch = core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "model: state dict mismatch")

	// ErrCacheNotBuilt 表示在缓存缺失时读取评论向量
	ErrCacheNotBuilt = core.NewDomainError(core.ModuleCache, core.ErrorCodeInvalidState, "cache: review embeddings not built")
)
