package mot

import "math"

// forbidden marks a cost entry the solver must never pick.
const forbidden = 1e6

// assign solves the rectangular assignment problem for an n×m cost matrix
// with the Kuhn-Munkres algorithm (Jonker-Volgenant potentials). Entries
// above gate are never picked; their rows and columns are reported
// unmatched instead.
func assign(cost [][]float64, m int, gate float64) (matches [][2]int, unmatchedRows, unmatchedCols []int) {
	n := len(cost)
	if n == 0 || m == 0 {
		for i := 0; i < n; i++ {
			unmatchedRows = append(unmatchedRows, i)
		}
		for j := 0; j < m; j++ {
			unmatchedCols = append(unmatchedCols, j)
		}
		return nil, unmatchedRows, unmatchedCols
	}

	dim := max(n, m)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			switch {
			case i >= n || j >= m:
				c[i][j] = forbidden
			case cost[i][j] > gate:
				c[i][j] = forbidden
			default:
				c[i][j] = cost[i][j]
			}
		}
	}

	const inf = math.MaxFloat64 / 2

	// One-indexed; column 0 is virtual.
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowOf := make([]int, m)
	for j := range rowOf {
		rowOf[j] = -1
	}
	colOf := make([]int, n)
	for i := range colOf {
		colOf[i] = -1
	}
	for j := 1; j <= dim; j++ {
		i := p[j] - 1
		if i < 0 || i >= n || j-1 >= m || c[i][j-1] >= forbidden {
			continue
		}
		colOf[i] = j - 1
		rowOf[j-1] = i
	}

	for i, j := range colOf {
		if j < 0 {
			unmatchedRows = append(unmatchedRows, i)
			continue
		}
		matches = append(matches, [2]int{i, j})
	}
	for j, i := range rowOf {
		if i < 0 {
			unmatchedCols = append(unmatchedCols, j)
		}
	}
	return matches, unmatchedRows, unmatchedCols
}
