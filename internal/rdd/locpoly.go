package rdd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type kernelFunc func(u float64) float64

func triangular(u float64) float64 {
	a := math.Abs(u)
	if a >= 1 {
		return 0
	}
	return 1 - a
}

func uniform(u float64) float64 {
	if math.Abs(u) > 1 {
		return 0
	}
	return 1
}

// lpFit is a weighted polynomial fit of order p on u = x/h. It keeps S^{-1}
// so linear weights for any coefficient can be derived without refitting.
type lpFit struct {
	x    []float64
	h    float64
	p    int
	w    []float64
	n    int // observations with positive weight
	sinv *mat.Dense
}

func newLPFit(x []float64, h float64, p int, k kernelFunc) (*lpFit, error) {
	if !(h > 0) || math.IsInf(h, 0) {
		return nil, fmt.Errorf("%w: invalid bandwidth %v", ErrInsufficientData, h)
	}
	f := &lpFit{x: x, h: h, p: p, w: make([]float64, len(x))}
	s := mat.NewSymDense(p+1, nil)
	seen := make(map[float64]struct{}, p+1)
	for i, xi := range x {
		u := xi / h
		wi := k(u)
		if wi <= 0 {
			continue
		}
		f.w[i] = wi
		f.n++
		if len(seen) <= p {
			seen[xi] = struct{}{}
		}
		r := powers(u, p)
		for a := 0; a <= p; a++ {
			for b := a; b <= p; b++ {
				s.SetSym(a, b, s.At(a, b)+wi*r[a]*r[b])
			}
		}
	}
	if len(seen) < p+1 {
		return nil, fmt.Errorf("%w: %d weighted observations at %d distinct values for an order-%d fit at bandwidth %.4g",
			ErrInsufficientData, f.n, len(seen), p, h)
	}
	var inv mat.Dense
	if err := inv.Inverse(s); err != nil {
		return nil, fmt.Errorf("%w: singular order-%d design at bandwidth %.4g: %v", ErrInsufficientData, p, h, err)
	}
	f.sinv = &inv
	return f, nil
}

func powers(u float64, p int) []float64 {
	r := make([]float64, p+1)
	r[0] = 1
	for j := 1; j <= p; j++ {
		r[j] = r[j-1] * u
	}
	return r
}

// weights returns l with l·y equal to coefficient j of the fit (in u units).
// Observations outside the kernel support get zero weight.
func (f *lpFit) weights(j int) []float64 {
	l := make([]float64, len(f.x))
	for i, xi := range f.x {
		if f.w[i] == 0 {
			continue
		}
		r := powers(xi/f.h, f.p)
		var v float64
		for a := 0; a <= f.p; a++ {
			v += f.sinv.At(j, a) * r[a]
		}
		l[i] = v * f.w[i]
	}
	return l
}

// coefs returns the fitted coefficients in u units.
func (f *lpFit) coefs(y []float64) []float64 {
	out := make([]float64, f.p+1)
	for j := range out {
		out[j] = dot(f.weights(j), y)
	}
	return out
}

// rawCoef returns coefficient j in x units, i.e. the j-th derivative over j!.
func (f *lpFit) rawCoef(j int, y []float64) float64 {
	return dot(f.weights(j), y) / math.Pow(f.h, float64(j))
}

// biasConst returns e_j' S^{-1} sum(w r u^(p+1)), the leading bias factor of
// coefficient j from an omitted term of order p+1.
func (f *lpFit) biasConst(j int) float64 {
	lambda := make([]float64, f.p+1)
	for i, xi := range f.x {
		if f.w[i] == 0 {
			continue
		}
		u := xi / f.h
		r := powers(u, f.p)
		tail := math.Pow(u, float64(f.p+1))
		for a := range lambda {
			lambda[a] += f.w[i] * r[a] * tail
		}
	}
	var v float64
	for a := range lambda {
		v += f.sinv.At(j, a) * lambda[a]
	}
	return v
}

// residuals evaluates y - fitted polynomial at every observation, including
// those outside the kernel support.
func (f *lpFit) residuals(y []float64) []float64 {
	g := f.coefs(y)
	out := make([]float64, len(y))
	for i, xi := range f.x {
		r := powers(xi/f.h, f.p)
		var fit float64
		for a := range g {
			fit += g[a] * r[a]
		}
		out[i] = y[i] - fit
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// covariateCoefficients estimates additive covariate effects from a pooled
// triangular-kernel regression of y on [1, T, u, T*u, Z] at bandwidth h.
// Collinear or unsupported covariate columns get zero-norm solutions from
// the pseudo-inverse instead of failing.
func covariateCoefficients(left, right *side, h float64) ([]float64, error) {
	k := 0
	switch {
	case len(left.z) > 0:
		k = len(left.z[0])
	case len(right.z) > 0:
		k = len(right.z[0])
	}
	var rows [][]float64
	var rhs []float64
	for _, s := range []*side{left, right} {
		for i, xi := range s.x {
			w := triangular(xi / h)
			if w <= 0 {
				continue
			}
			u := xi / h
			t := 0.0
			if xi >= 0 {
				t = 1
			}
			sw := math.Sqrt(w)
			row := make([]float64, 4+k)
			row[0], row[1], row[2], row[3] = sw, sw*t, sw*u, sw*t*u
			for j, v := range s.z[i] {
				row[4+j] = sw * v
			}
			rows = append(rows, row)
			rhs = append(rhs, sw*s.y[i])
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no observations inside bandwidth %.4g", ErrInsufficientData, h)
	}
	a := mat.NewDense(len(rows), 4+k, nil)
	for i, r := range rows {
		a.SetRow(i, r)
	}
	beta, err := pinvSolve(a, rhs)
	if err != nil {
		return nil, err
	}
	return beta[4:], nil
}

// pinvSolve returns the minimum-norm least-squares solution of a·x = b.
func pinvSolve(a *mat.Dense, b []float64) ([]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("covariate regression: SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	tol := 0.0
	if len(sv) > 0 {
		r, c := a.Dims()
		tol = sv[0] * float64(max(r, c)) * 1e-12
	}
	_, cols := a.Dims()
	x := make([]float64, cols)
	bv := mat.NewVecDense(len(b), b)
	for k, s := range sv {
		if s <= tol {
			continue
		}
		coef := mat.Dot(u.ColView(k), bv) / s
		for j := 0; j < cols; j++ {
			x[j] += coef * v.At(j, k)
		}
	}
	return x, nil
}

// residualized returns a copy of s with the covariate contribution removed
// from y.
func (s *side) residualized(gamma []float64) *side {
	out := &side{x: s.x, z: s.z, y: make([]float64, len(s.y))}
	for i := range s.y {
		adj := 0.0
		for j, g := range gamma {
			adj += g * s.z[i][j]
		}
		out.y[i] = s.y[i] - adj
	}
	return out
}
