package model

import "github.com/rushteam/reviewrank/pkg/nn"

// RankingLoss 把排序当成 k+1 个独立的二分类：正样本标签 1，负样本标签 0。
//
//	loss = mean_b( BCE(pos_b, 1) + Σ_k valid_bk · BCE(neg_bk, 0) )
//
// valid 为 nil 时所有负样本都有效；无效（全 padding）的负样本贡献恰好为 0。
func RankingLoss(pos []float64, neg [][]float64, valid [][]bool) float64 {
	negVecs := make([][]nn.Vec, len(neg))
	for b, row := range neg {
		negVecs[b] = scalarConsts(row)
	}
	return nn.Scalar(rankingLoss(scalarConsts(pos), negVecs, valid))
}

// rankingLoss 是 RankingLoss 的计算图版本，pos / neg 为长度 1 的 logit 节点。
func rankingLoss(pos []nn.Vec, neg [][]nn.Vec, valid [][]bool) nn.Vec {
	if len(pos) == 0 {
		return nn.ZeroVec(1)
	}
	logits := make([]nn.Vec, 0, len(pos))
	var targets []float64
	for b, p := range pos {
		logits = append(logits, p)
		targets = append(targets, 1)
		if b >= len(neg) {
			continue
		}
		for k, n := range neg[b] {
			if valid != nil && !valid[b][k] {
				continue
			}
			logits = append(logits, n)
			targets = append(targets, 0)
		}
	}
	return nn.ScaleVec(nn.BCE(nn.Concat(logits...), targets), 1/float64(len(pos)))
}

// MaskedMean 返回 sum / max(count, 1)。
func MaskedMean(sum float64, count int) float64 {
	return sum / float64(max(count, 1))
}

func scalarConsts(xs []float64) []nn.Vec {
	out := make([]nn.Vec, len(xs))
	for i, x := range xs {
		out[i] = nn.Const([]float64{x})
	}
	return out
}
