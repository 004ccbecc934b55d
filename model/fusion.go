package model

import "github.com/rushteam/reviewrank/pkg/nn"

// Fuse 构建一条 [query] ++ reviews 的融合序列及其 attention mask。
//
//   - 位置 0 是查询向量，mask 恒为 true
//   - 位置 j+1 是第 j 条评论，rid == reviewPad 时 mask 为 false
//   - 每个位置加上 segIdxs 对应的段向量
//
// 返回的序列是新节点，不会修改 query 与 reviews。
func Fuse(seg *nn.Embedding, reviewPad int, query nn.Vec, reviews []nn.Vec, ridxs, segIdxs []int) ([]nn.Vec, []bool) {
	seq := make([]nn.Vec, len(ridxs)+1)
	mask := make([]bool, len(ridxs)+1)
	seq[0] = nn.Add(query, seg.Forward(segIdxs[0]))
	mask[0] = true
	for j, rid := range ridxs {
		seq[j+1] = nn.Add(reviews[j], seg.Forward(segIdxs[j+1]))
		mask[j+1] = rid != reviewPad
	}
	return seq, mask
}

// candidateValid 表示候选商品至少有一条非 padding 评论。
func candidateValid(ridxs []int, reviewPad int) bool {
	for _, rid := range ridxs {
		if rid != reviewPad {
			return true
		}
	}
	return false
}
