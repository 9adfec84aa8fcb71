package basis

// chebyshev returns T_n(u) and dT_n/du.
func chebyshev(n int, u float64) (float64, float64) {
	if n == 0 {
		return 1, 0
	}
	// T_{k+1} = 2u T_k - T_{k-1}, U_{k+1} = 2u U_k - U_{k-1}, T'_n = n U_{n-1}
	tPrev, t := 1.0, u
	uPrev, uCur := 1.0, 2*u // U_0, U_1
	for k := 1; k < n; k++ {
		tPrev, t = t, 2*u*t-tPrev
		if k < n-1 {
			uPrev, uCur = uCur, 2*u*uCur-uPrev
		}
	}
	if n == 1 {
		return t, 1
	}
	return t, float64(n) * uCur
}

// innerRadial is the many-body radial function R_k, vanishing smoothly at both
// rIn and rCut. Returns R_k(r) and dR_k/dr.
func innerRadial(k int, r, rIn, rCut float64) (float64, float64) {
	w := rCut - rIn
	x := (r - rIn) / w
	if x <= 0 || x >= 1 {
		return 0, 0
	}
	env := x * x * (1 - x) * (1 - x)
	denv := 2 * x * (1 - x) * (1 - 2*x)
	t, dt := chebyshev(k-1, 2*x-1)
	return t * env, (2*dt*env + t*denv) / w
}

// pairRadial is the pair radial function P_k, vanishing smoothly at rCut.
func pairRadial(k int, r, rCut float64) (float64, float64) {
	x := r / rCut
	if x >= 1 {
		return 0, 0
	}
	env := (1 - x) * (1 - x)
	denv := -2 * (1 - x)
	t, dt := chebyshev(k-1, 2*x-1)
	return t * env, (2*dt*env + t*denv) / rCut
}
