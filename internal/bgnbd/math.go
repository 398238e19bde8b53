package bgnbd

import "math"

// logAddExp computes log(exp(x) + exp(y)) without overflow.
func logAddExp(x, y float64) float64 {
	if math.IsInf(x, -1) {
		return y
	}
	if math.IsInf(y, -1) {
		return x
	}
	m := math.Max(x, y)
	return m + math.Log(math.Exp(x-m)+math.Exp(y-m))
}

// hyp2f1 evaluates the Gaussian hypergeometric function 2F1(a, b; c; z) by
// power series. Converges for |z| < 1, which holds for every argument this
// model produces (z = t / (alpha + T + t)).
func hyp2f1(a, b, c, z float64) float64 {
	sum := 1.0
	term := 1.0
	for k := 0; k < 1000; k++ {
		fk := float64(k)
		term *= (a + fk) * (b + fk) / ((c + fk) * (fk + 1)) * z
		sum += term
		if math.Abs(term) < 1e-12*math.Abs(sum) {
			break
		}
	}
	return sum
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
