package rank

import (
	"bufio"
	"fmt"
	"io"
)

// DefaultRunName 是 TREC 输出最后一列的默认值。
const DefaultRunName = "ReviewTransformer"

// WriteTREC 按 TREC 格式输出排序列表，每行：
//
//	<qid> Q0 <product> <rank> <score> <run>
func WriteTREC(w io.Writer, lists []Ranklist, run string) error {
	if run == "" {
		run = DefaultRunName
	}
	bw := bufio.NewWriter(w)
	for _, l := range lists {
		for _, e := range l.Entries {
			if _, err := fmt.Fprintf(bw, "%s Q0 %s %d %.6f %s\n", l.QueryID, e.ProductID, e.Rank, e.Score, run); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
