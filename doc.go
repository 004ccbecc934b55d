// Package reviewrank 基于评论的商品排序（Review-based Product Ranking）。
//
// 设计要点：
// - 查询与候选商品的评论向量拼成序列，经 Transformer 打分（model.ProductRanker）
// - 评论编码器可插拔：pv / pvc / fs / avg，冻结嵌入时评论向量走并发构建的缓存
// - 前向计算构建 anydiff 图，Step 反向传播出梯度后交给 Optimizer；checkpoint 经 core.Store 持久化
package reviewrank

import (
	"github.com/rushteam/reviewrank/checkpoint"
	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/model"
	"github.com/rushteam/reviewrank/rank"
)

// 轻量 facade：便于用户直接 import "reviewrank" 使用核心抽象。
type (
	Config        = config.Config
	ProductRanker = model.ProductRanker
	Options       = model.Options
	Batch         = model.Batch
	TestBatch     = model.TestBatch
	Optimizer     = model.Optimizer
	Checkpoint    = checkpoint.Checkpoint
	Ranklist      = rank.Ranklist
)

const (
	EncoderPV  = config.EncoderPV
	EncoderPVC = config.EncoderPVC
	EncoderFS  = config.EncoderFS
	EncoderAVG = config.EncoderAVG
)

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config { return config.Default() }

// NewProductRanker 构建并初始化排序模型。
func NewProductRanker(cfg *Config, opts Options) (*ProductRanker, error) {
	return model.NewProductRanker(cfg, opts)
}
