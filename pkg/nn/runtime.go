package nn

import "math/rand/v2"

// Runtime 描述一次前向计算的执行环境：是否训练模式，以及随机源。
// 随机性（dropout、负采样、corruption）全部来自 Rand，便于测试复现。
type Runtime struct {
	Train bool
	Rand  *rand.Rand
}

// NewRuntime 创建一个以 seed 初始化随机源的 Runtime。
func NewRuntime(train bool, seed uint64) *Runtime {
	return &Runtime{
		Train: train,
		Rand:  NewRand(seed),
	}
}

// NewRand 创建确定性的随机源。
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Training 对 nil Runtime 返回 false。
func (rt *Runtime) Training() bool {
	return rt != nil && rt.Train
}

// Eval 返回共享随机源的推理模式副本。
func (rt *Runtime) Eval() *Runtime {
	if rt == nil {
		return &Runtime{Rand: NewRand(0)}
	}
	return &Runtime{Rand: rt.Rand}
}

// RNG 返回随机源；Runtime 未设置时返回固定种子的随机源。
func (rt *Runtime) RNG() *rand.Rand {
	if rt == nil || rt.Rand == nil {
		return NewRand(0)
	}
	return rt.Rand
}
