package nn

import "math"

// 以下是 []float64 上的辅助运算，用于读出结果、统计与测试断言。

// Zeros 返回长度为 n 的零向量。
func Zeros(n int) []float64 {
	return make([]float64, n)
}

// ZerosMatrix 返回 rows × cols 的零矩阵。
func ZerosMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func Clone(x []float64) []float64 {
	return append([]float64(nil), x...)
}

func Dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// AddInPlace 计算 dst += src。
func AddInPlace(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// ScaleInPlace 计算 x *= s。
func ScaleInPlace(x []float64, s float64) {
	for i := range x {
		x[i] *= s
	}
}

func Norm(x []float64) float64 {
	return math.Sqrt(Dot(x, x))
}

// IsFinite 检查向量中没有 NaN/Inf。
func IsFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// BCEWithLogits 是数值稳定的二分类交叉熵：max(x,0) - x*y + log(1+exp(-|x|))。
func BCEWithLogits(logit, target float64) float64 {
	return math.Max(logit, 0) - logit*target + math.Log1p(math.Exp(-math.Abs(logit)))
}
