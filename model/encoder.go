package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/nn"
)

// ReviewInput 是一组评论：评论 id 以及对应的词 id / 词 mask（N × W）。
// 不同编码器读取不同字段：pv 只读 IDs，pvc 只读 WordIDs，fs/avg 读 WordIDs 与 WordMask。
type ReviewInput struct {
	IDs      []int
	WordIDs  [][]int
	WordMask [][]bool
}

// ReviewEncoder 把评论映射为定长向量。
type ReviewEncoder interface {
	nn.Module
	Name() string
	// EncodeReviews 返回 N 个评论向量节点，不产生损失。
	EncodeReviews(rt *nn.Runtime, in ReviewInput) []nn.Vec
	ResetParameters(rng *rand.Rand)
}

// ParagraphEncoder 是无监督的段落向量编码器（pv、pvc），额外提供负采样训练步。
type ParagraphEncoder interface {
	ReviewEncoder
	// TrainStep 返回评论向量与每条评论的负采样损失节点（长度 1）。
	// in.WordIDs / in.WordMask 是上下文词；corrupted 为 pvc 使用的第二份词视图。
	TrainStep(rt *nn.Runtime, in ReviewInput, corrupted [][]int, negPerPos int) ([]nn.Vec, []nn.Vec)
}

// TextEncoder 把词向量序列编码为一个向量（fs、avg），同时用作查询编码器。
type TextEncoder interface {
	nn.Module
	Encode(rt *nn.Runtime, wordEmb [][]nn.Vec, mask [][]bool) []nn.Vec
	Reset(rng *rand.Rand)
}

// textReviewEncoder 让 TextEncoder 以词向量为输入充当评论编码器。
type textReviewEncoder struct {
	name  string
	words *EmbeddingTable
	TextEncoder
}

func (e *textReviewEncoder) Name() string { return e.name }

func (e *textReviewEncoder) EncodeReviews(rt *nn.Runtime, in ReviewInput) []nn.Vec {
	mask := in.WordMask
	if mask == nil {
		mask = e.words.WordMask(in.WordIDs)
	}
	return e.Encode(rt, e.words.LookupWords(in.WordIDs), mask)
}

func (e *textReviewEncoder) ResetParameters(rng *rand.Rand) { e.Reset(rng) }

func newTextEncoder(kind, prefix string, dim, ffSize, heads int, dropout float64) (TextEncoder, error) {
	switch kind {
	case config.EncoderFS:
		return NewFSEncoder(prefix, dim, ffSize, heads, dropout)
	case config.EncoderAVG:
		return NewAVGEncoder(dim, dropout), nil
	default:
		return nil, fmt.Errorf("unknown text encoder %q", kind)
	}
}

// encoderDeps 是构建评论编码器所需的共享资源。
type encoderDeps struct {
	table       *EmbeddingTable
	noise       *NoiseDistribution
	reviewCount int
}

// newReviewEncoder 按名称构建评论编码器，变体只在这里解析一次。
func newReviewEncoder(cfg *config.Config, name string, deps encoderDeps) (ReviewEncoder, error) {
	switch name {
	case config.EncoderPV:
		return NewParagraphVector(deps.table, deps.noise, deps.reviewCount, cfg.FixEmb), nil
	case config.EncoderPVC:
		return NewParagraphVectorCorruption(deps.table, deps.noise, cfg.CorruptRate, cfg.EffectiveCorruptScale(), cfg.MaxPVCWordCount), nil
	case config.EncoderFS, config.EncoderAVG:
		text, err := newTextEncoder(name, "review_encoder", cfg.EmbeddingSize, cfg.FFSize, cfg.Heads, cfg.Dropout)
		if err != nil {
			return nil, err
		}
		return &textReviewEncoder{name: name, words: deps.table, TextEncoder: text}, nil
	default:
		return nil, fmt.Errorf("unknown review encoder %q", name)
	}
}
