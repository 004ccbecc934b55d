package model

import "fmt"

// 段类型 id
const (
	SegQuery   = 0 // 查询位置
	SegUser    = 1 // 用户历史评论
	SegProduct = 2 // 商品评论
	SegPad     = 3 // padding
	segCount   = 4
)

// Batch 是一个训练 batch，由外部数据管线生成。
//
// 维度约定（B=batch，K=负样本商品数，R=评论数上限，W=评论词数上限）：
//   - QueryWordIdxs：B × Lq
//   - PosProdRidxs：B × Rpos，PosSegIdxs：B × (Rpos+1)
//   - PosProdRwordIdxs / PosProdRwordMasks：B × Rpos × W
//   - NegProdRidxs：B × K × Rneg，NegSegIdxs：B × K × (Rneg+1)
//   - NegProdRwordIdxs / NegProdRwordMasks：B × K × Rneg × W
//   - PosProdRwordIdxsPVC / NegProdRwordIdxsPVC：corruption 编码器使用的第二份词视图
//
// 词 mask 为 nil 时按 id != 词 padding id 推导。
type Batch struct {
	QueryWordIdxs [][]int

	PosProdRidxs      [][]int
	PosSegIdxs        [][]int
	PosProdRwordIdxs  [][][]int
	PosProdRwordMasks [][][]bool

	NegProdRidxs      [][][]int
	NegSegIdxs        [][][]int
	NegProdRwordIdxs  [][][][]int
	NegProdRwordMasks [][][][]bool

	PosProdRwordIdxsPVC [][][]int
	NegProdRwordIdxsPVC [][][][]int
}

// TestBatch 是评估/解码 batch：每个查询对 K 个候选商品打分。
//   - CandiProdRidxs：B × K × R
//   - CandiSegIdxs：B × K × (R+1)
type TestBatch struct {
	QueryWordIdxs  [][]int
	CandiProdRidxs [][][]int
	CandiSegIdxs   [][][]int
}

// Size 返回 batch 大小。
func (b *Batch) Size() int { return len(b.QueryWordIdxs) }

// NegCount 返回第一个样本的负样本数（仅用于日志）。
func (b *Batch) NegCount() int {
	if len(b.NegProdRidxs) == 0 {
		return 0
	}
	return len(b.NegProdRidxs[0])
}

func batchErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidBatch}, args...)...)
}

// Validate 检查索引所需的形状一致性与 id 范围；不检查数据本身是否合理。
func (b *Batch) Validate(vocabSize, reviewCount int) error {
	n := len(b.QueryWordIdxs)
	if n == 0 {
		return batchErr("empty batch")
	}
	if len(b.PosProdRidxs) != n || len(b.PosSegIdxs) != n || len(b.PosProdRwordIdxs) != n ||
		len(b.NegProdRidxs) != n || len(b.NegSegIdxs) != n {
		return batchErr("batch dimension mismatch, want %d", n)
	}
	if b.PosProdRwordMasks != nil && len(b.PosProdRwordMasks) != n {
		return batchErr("pos word masks batch dimension %d, want %d", len(b.PosProdRwordMasks), n)
	}
	if b.NegProdRwordIdxs != nil && len(b.NegProdRwordIdxs) != n {
		return batchErr("neg word ids batch dimension %d, want %d", len(b.NegProdRwordIdxs), n)
	}
	if b.NegProdRwordMasks != nil && len(b.NegProdRwordMasks) != n {
		return batchErr("neg word masks batch dimension %d, want %d", len(b.NegProdRwordMasks), n)
	}
	if b.PosProdRwordIdxsPVC != nil && len(b.PosProdRwordIdxsPVC) != n {
		return batchErr("pos pvc word ids batch dimension %d, want %d", len(b.PosProdRwordIdxsPVC), n)
	}
	if b.NegProdRwordIdxsPVC != nil && len(b.NegProdRwordIdxsPVC) != n {
		return batchErr("neg pvc word ids batch dimension %d, want %d", len(b.NegProdRwordIdxsPVC), n)
	}

	for i := 0; i < n; i++ {
		if err := checkIDs(b.QueryWordIdxs[i], vocabSize, "query word"); err != nil {
			return err
		}
		if err := checkSequence(b.PosProdRidxs[i], b.PosSegIdxs[i], reviewCount); err != nil {
			return fmt.Errorf("example %d positive: %w", i, err)
		}
		var posMasks [][]bool
		if b.PosProdRwordMasks != nil {
			posMasks = b.PosProdRwordMasks[i]
		}
		if err := checkWords(b.PosProdRwordIdxs[i], posMasks, len(b.PosProdRidxs[i]), vocabSize); err != nil {
			return fmt.Errorf("example %d positive: %w", i, err)
		}
		if b.PosProdRwordIdxsPVC != nil {
			if err := checkWords(b.PosProdRwordIdxsPVC[i], nil, len(b.PosProdRidxs[i]), vocabSize); err != nil {
				return fmt.Errorf("example %d positive pvc: %w", i, err)
			}
		}

		k := len(b.NegProdRidxs[i])
		if len(b.NegSegIdxs[i]) != k {
			return batchErr("example %d: %d negative segment rows, want %d", i, len(b.NegSegIdxs[i]), k)
		}
		for j := 0; j < k; j++ {
			if err := checkSequence(b.NegProdRidxs[i][j], b.NegSegIdxs[i][j], reviewCount); err != nil {
				return fmt.Errorf("example %d negative %d: %w", i, j, err)
			}
			rcount := len(b.NegProdRidxs[i][j])
			if b.NegProdRwordIdxs != nil {
				if len(b.NegProdRwordIdxs[i]) != k {
					return batchErr("example %d: %d negative word rows, want %d", i, len(b.NegProdRwordIdxs[i]), k)
				}
				var masks [][]bool
				if b.NegProdRwordMasks != nil {
					if len(b.NegProdRwordMasks[i]) != k {
						return batchErr("example %d: %d negative mask rows, want %d", i, len(b.NegProdRwordMasks[i]), k)
					}
					masks = b.NegProdRwordMasks[i][j]
				}
				if err := checkWords(b.NegProdRwordIdxs[i][j], masks, rcount, vocabSize); err != nil {
					return fmt.Errorf("example %d negative %d: %w", i, j, err)
				}
			}
			if b.NegProdRwordIdxsPVC != nil {
				if len(b.NegProdRwordIdxsPVC[i]) != k {
					return batchErr("example %d: %d negative pvc rows, want %d", i, len(b.NegProdRwordIdxsPVC[i]), k)
				}
				if err := checkWords(b.NegProdRwordIdxsPVC[i][j], nil, rcount, vocabSize); err != nil {
					return fmt.Errorf("example %d negative %d pvc: %w", i, j, err)
				}
			}
		}
	}
	return nil
}

// Validate 检查评估 batch 的形状与 id 范围。
func (b *TestBatch) Validate(vocabSize, reviewCount int) error {
	n := len(b.QueryWordIdxs)
	if n == 0 {
		return batchErr("empty batch")
	}
	if len(b.CandiProdRidxs) != n || len(b.CandiSegIdxs) != n {
		return batchErr("batch dimension mismatch, want %d", n)
	}
	for i := 0; i < n; i++ {
		if err := checkIDs(b.QueryWordIdxs[i], vocabSize, "query word"); err != nil {
			return err
		}
		if len(b.CandiSegIdxs[i]) != len(b.CandiProdRidxs[i]) {
			return batchErr("example %d: %d candidate segment rows, want %d", i, len(b.CandiSegIdxs[i]), len(b.CandiProdRidxs[i]))
		}
		for j := range b.CandiProdRidxs[i] {
			if err := checkSequence(b.CandiProdRidxs[i][j], b.CandiSegIdxs[i][j], reviewCount); err != nil {
				return fmt.Errorf("example %d candidate %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func checkIDs(ids []int, limit int, what string) error {
	for _, id := range ids {
		if id < 0 || id >= limit {
			return batchErr("%s id %d out of range [0,%d)", what, id, limit)
		}
	}
	return nil
}

// checkSequence 校验一条评论序列与其段 id（段 id 比评论多一个查询位置）。
func checkSequence(ridxs, segs []int, reviewCount int) error {
	if len(segs) != len(ridxs)+1 {
		return batchErr("%d segment ids for %d reviews", len(segs), len(ridxs))
	}
	if err := checkIDs(ridxs, reviewCount, "review"); err != nil {
		return err
	}
	return checkIDs(segs, segCount, "segment")
}

func checkWords(words [][]int, masks [][]bool, rcount, vocabSize int) error {
	if len(words) != rcount {
		return batchErr("%d review word rows for %d reviews", len(words), rcount)
	}
	if masks != nil && len(masks) != rcount {
		return batchErr("%d review mask rows for %d reviews", len(masks), rcount)
	}
	for r, row := range words {
		if masks != nil && len(masks[r]) != len(row) {
			return batchErr("review %d: mask length %d, want %d", r, len(masks[r]), len(row))
		}
		if err := checkIDs(row, vocabSize, "review word"); err != nil {
			return err
		}
	}
	return nil
}
