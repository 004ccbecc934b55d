// reviewrank 命令行：查看配置、导出初始 checkpoint、对候选商品打分并输出 TREC 排序。
package main

import (
	"os"
)

// version 构建时通过 ldflags 注入
var version = "dev"

func main() {
	root := newRootCmd()
	root.Version = version
	if err := root.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
