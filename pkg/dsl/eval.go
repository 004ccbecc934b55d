// Package dsl 提供基于 CEL 的排序结果过滤表达式。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 定义过滤表达式可用的变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("rank", cel.IntType),
		cel.Variable("product_id", cel.StringType),
		cel.Variable("query_id", cel.StringType),
		cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Entry 是表达式的输入：排序列表中的一项。
type Entry struct {
	QueryID   string
	ProductID string
	Rank      int // 从 1 开始
	Score     float64
	Meta      map[string]any
}

// Eval 是编译好的过滤表达式，可并发调用。
//
// 表达式语法（CEL 标准语法）：
//   - 数值：score > 0.5 / rank <= 10
//   - 字符串：product_id.startsWith("B0") / query_id == "q1"
//   - 逻辑：score > 0 && rank <= 20
//   - 附加信息：meta.brand == "acme"（访问不存在的 key 会报错，先用 "brand" in meta 判断）
type Eval struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式；空表达式恒为 true。
func Compile(expr string) (*Eval, error) {
	e := &Eval{expr: expr}
	if expr == "" {
		return e, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %v", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	e.prg = prg
	return e, nil
}

// String 返回原始表达式。
func (e *Eval) String() string { return e.expr }

// Evaluate 对一项求值。
func (e *Eval) Evaluate(entry Entry) (bool, error) {
	if e == nil || e.prg == nil {
		return true, nil
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	out, _, err := e.prg.Eval(map[string]any{
		"score":      entry.Score,
		"rank":       int64(entry.Rank),
		"product_id": entry.ProductID,
		"query_id":   entry.QueryID,
		"meta":       meta,
	})
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}
