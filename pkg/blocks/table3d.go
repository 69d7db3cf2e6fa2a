package blocks

// MaxTable3DAxis bounds a Table3D per spec §4.B ("Up to 8x8").
const MaxTable3DAxis = 8

// Table3DConfig is an immutable bilinear-interpolated surface. Rows
// are indexed by X, columns by Y; Z[i][j] is the value at
// (X[i], Y[j]). A table with one row or one column degrades to a 2D
// lookup along the remaining axis, per spec §4.B.
type Table3DConfig struct {
	X  [MaxTable3DAxis]int32
	Y  [MaxTable3DAxis]int32
	Z  [MaxTable3DAxis][MaxTable3DAxis]int32
	NX int
	NY int
}

// findBracket returns the indices (lo,hi) such that axis[lo] <= v <=
// axis[hi] after clamping v to the axis range, plus hi==lo when v is
// exactly on or beyond an endpoint.
func findBracket(axis []int32, n int, v int32) (lo, hi int) {
	if n <= 1 {
		return 0, 0
	}
	if v <= axis[0] {
		return 0, 0
	}
	if v >= axis[n-1] {
		return n - 1, n - 1
	}
	for i := 1; i < n; i++ {
		if v <= axis[i] {
			return i - 1, i
		}
	}
	return n - 1, n - 1
}

func interp1(a, b, v0, v1, v int32) int32 {
	if b == a {
		return v0
	}
	return int32(int64(v0) + (int64(v1)-int64(v0))*(int64(v)-int64(a))/(int64(b)-int64(a)))
}

// LookupTable3D bilinearly interpolates cfg at (x,y). Degenerate rows
// (NX==1) or columns (NY==1) fall back to 1D interpolation along the
// remaining axis, matching spec §4.B's degrade-to-2D rule.
func LookupTable3D(cfg *Table3DConfig, x, y int32) int32 {
	if cfg.NX <= 0 || cfg.NY <= 0 {
		return 0
	}
	xlo, xhi := findBracket(cfg.X[:cfg.NX], cfg.NX, x)
	ylo, yhi := findBracket(cfg.Y[:cfg.NY], cfg.NY, y)

	if xlo == xhi && ylo == yhi {
		return cfg.Z[xlo][ylo]
	}
	if xlo == xhi {
		return interp1(cfg.Y[ylo], cfg.Y[yhi], cfg.Z[xlo][ylo], cfg.Z[xlo][yhi], y)
	}
	if ylo == yhi {
		return interp1(cfg.X[xlo], cfg.X[xhi], cfg.Z[xlo][ylo], cfg.Z[xhi][ylo], x)
	}
	// Full bilinear: interpolate along X at both Y rows, then along Y.
	topX := interp1(cfg.X[xlo], cfg.X[xhi], cfg.Z[xlo][ylo], cfg.Z[xhi][ylo], x)
	botX := interp1(cfg.X[xlo], cfg.X[xhi], cfg.Z[xlo][yhi], cfg.Z[xhi][yhi], x)
	return interp1(cfg.Y[ylo], cfg.Y[yhi], topX, botX, y)
}
