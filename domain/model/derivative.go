package model

// DerivativePoint is the first derivative of a smooth at one grid value.
type DerivativePoint struct {
	X           float64 `json:"x"`
	Estimate    float64 `json:"estimate"`
	StdError    float64 `json:"std_error"`
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Significant bool    `json:"significant"`
}

// Interval is a closed range of grid values.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// DerivativeCurve holds derivative estimates over an ordered grid.
// Intervals are normal approximations, estimate ± Multiplier·SE.
type DerivativeCurve struct {
	Var        string            `json:"var"`
	Multiplier float64           `json:"multiplier"`
	Points     []DerivativePoint `json:"points"`
}

// Len returns the grid size
func (c *DerivativeCurve) Len() int { return len(c.Points) }

// Masked returns the derivative where significant and zero elsewhere.
func (c *DerivativeCurve) Masked() []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		if p.Significant {
			out[i] = p.Estimate
		}
	}
	return out
}

// SignificantIntervals returns the [first, last] grid values of each
// maximal run of significant points, in grid order. A curve with no
// significant point yields an empty slice.
func (c *DerivativeCurve) SignificantIntervals() []Interval {
	var out []Interval
	inRun := false
	for _, p := range c.Points {
		switch {
		case p.Significant && !inRun:
			out = append(out, Interval{Start: p.X, End: p.X})
			inRun = true
		case p.Significant:
			out[len(out)-1].End = p.X
		default:
			inRun = false
		}
	}
	if out == nil {
		return []Interval{}
	}
	return out
}

// AnySignificant reports whether any grid point is flagged.
func (c *DerivativeCurve) AnySignificant() bool {
	for _, p := range c.Points {
		if p.Significant {
			return true
		}
	}
	return false
}
