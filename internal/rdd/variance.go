package rdd

// nnVariance estimates the conditional variance of y at each observation from
// its j nearest neighbours along x (sorted ascending). Neighbours tied in
// distance with the last match are all included.
func nnVariance(x, y []float64, j int) []float64 {
	n := len(x)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		lo, hi := i-1, i+1
		var sum, last float64
		count := 0
		for count < j && (lo >= 0 || hi < n) {
			if hi >= n || (lo >= 0 && x[i]-x[lo] <= x[hi]-x[i]) {
				last = x[i] - x[lo]
				sum += y[lo]
				lo--
			} else {
				last = x[hi] - x[i]
				sum += y[hi]
				hi++
			}
			count++
		}
		if count == 0 {
			continue
		}
		for lo >= 0 && x[i]-x[lo] == last {
			sum += y[lo]
			count++
			lo--
		}
		for hi < n && x[hi]-x[i] == last {
			sum += y[hi]
			count++
			hi++
		}
		c := float64(count)
		d := y[i] - sum/c
		out[i] = c / (c + 1) * d * d
	}
	return out
}

// hc1Variance squares the residuals of f and applies the n/(n-k)
// small-sample correction, where n counts observations inside the kernel
// support and k the polynomial coefficients.
func hc1Variance(f *lpFit, y []float64) []float64 {
	res := f.residuals(y)
	scale := 1.0
	if k := f.p + 1; f.n > k {
		scale = float64(f.n) / float64(f.n-k)
	}
	for i, e := range res {
		res[i] = scale * e * e
	}
	return res
}

func weightedVariance(l, sigma2 []float64) float64 {
	var v float64
	for i, li := range l {
		v += li * li * sigma2[i]
	}
	return v
}
