package model

// Concurvity holds pairwise concurvity between smooth terms, with the
// parametric part pooled as one "para" term. Entry [i][j] measures how well
// term j is explained by term i; values are in [0,1].
type Concurvity struct {
	Terms    []string    `json:"terms"`
	Worst    [][]float64 `json:"worst"`
	Observed [][]float64 `json:"observed"`
}

// Pair returns the worst-case value for two labelled terms.
func (c *Concurvity) Pair(a, b string) (float64, bool) {
	i, j := c.index(a), c.index(b)
	if i < 0 || j < 0 {
		return 0, false
	}
	return c.Worst[i][j], true
}

// MaxOffDiagonal returns the largest worst-case value between different terms.
func (c *Concurvity) MaxOffDiagonal() float64 {
	m := 0.0
	for i := range c.Worst {
		for j, v := range c.Worst[i] {
			if i != j && v > m {
				m = v
			}
		}
	}
	return m
}

func (c *Concurvity) index(term string) int {
	for i, t := range c.Terms {
		if t == term {
			return i
		}
	}
	return -1
}
