package model

import "github.com/rushteam/reviewrank/pkg/nn"

// negativeSamplingLoss 计算每条评论的负采样损失。
//
// 对评论 i 的每个有效上下文词 w：
//
//	BCE(e_w·v_i, 1) + Σ_{k<negPerPos} BCE(e_noise·v_i, 0)
//
// 评论损失为有效位置上的平均（分母至少为 1），全 padding 的评论损失为 0。
func negativeSamplingLoss(rt *nn.Runtime, table *EmbeddingTable, noise *NoiseDistribution,
	reviews []nn.Vec, in ReviewInput, negPerPos int) []nn.Vec {
	mask := in.WordMask
	if mask == nil {
		mask = table.WordMask(in.WordIDs)
	}
	rng := rt.RNG()
	losses := make([]nn.Vec, len(reviews))
	for i, v := range reviews {
		var logits []nn.Vec
		var targets []float64
		count := 0
		for j, w := range in.WordIDs[i] {
			if !mask[i][j] {
				continue
			}
			logits = append(logits, nn.DotVec(table.Words.Forward(w), v))
			targets = append(targets, 1)
			if noise != nil {
				for k := 0; k < negPerPos; k++ {
					logits = append(logits, nn.DotVec(table.Words.Forward(noise.Sample(rng)), v))
					targets = append(targets, 0)
				}
			}
			count++
		}
		if count == 0 {
			losses[i] = nn.ZeroVec(1)
			continue
		}
		losses[i] = nn.ScaleVec(nn.BCE(nn.Concat(logits...), targets), 1/float64(count))
	}
	return losses
}
