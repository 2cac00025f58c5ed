package assign

import (
	"fmt"
	"math"

	"github.com/soundprediction/kpset/pkg/tensor"
	"gonum.org/v1/gonum/mat"
)

// Solver computes a one-to-one assignment on a score matrix whose rows are
// decoder slots and whose columns are working targets. It returns, for every
// row, the assigned column or -1, together with the total score of the
// assignment. Implementations require cols <= rows and assign every column.
type Solver interface {
	Solve(score *mat.Dense) ([]int, float64, error)
}

// Hungarian maximises the total score with the Kuhn-Munkres algorithm.
// When the identity assignment already attains the optimum it is returned
// unchanged, so an already-aligned order is stable.
type Hungarian struct{}

// Solve implements Solver.
func (Hungarian) Solve(score *mat.Dense) ([]int, float64, error) {
	rows, cols, err := checkScore(score)
	if err != nil {
		return nil, 0, err
	}
	assignment := make([]int, rows)
	for i := range assignment {
		assignment[i] = -1
	}
	if cols == 0 {
		return assignment, 0, nil
	}

	// Targets are matched into slots: i runs over columns of score, j over rows.
	n, m := cols, rows
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)
	minv := make([]float64, m+1)
	used := make([]bool, m+1)
	cost := func(i, j int) float64 { return -score.At(j-1, i-1) }

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0, delta, j1 := p[j0], math.Inf(1), 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				if cur := cost(i0, j) - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
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
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			assignment[j-1] = p[j] - 1
		}
	}
	best := totalScore(score, assignment)

	identity := make([]int, rows)
	for i := range identity {
		identity[i] = -1
		if i < cols {
			identity[i] = i
		}
	}
	if id := totalScore(score, identity); id >= best-1e-9*(1+math.Abs(best)) {
		return identity, id, nil
	}
	return assignment, best, nil
}

func checkScore(score *mat.Dense) (int, int, error) {
	if score == nil {
		return 0, 0, fmt.Errorf("nil score matrix: %w", tensor.ErrShape)
	}
	if score.IsEmpty() {
		return 0, 0, nil
	}
	rows, cols := score.Dims()
	if cols > rows {
		return 0, 0, fmt.Errorf("%d targets cannot be assigned to %d slots: %w", cols, rows, tensor.ErrShape)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := score.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, 0, fmt.Errorf("non-finite score %v at (%d, %d)", v, i, j)
			}
		}
	}
	return rows, cols, nil
}

func totalScore(score *mat.Dense, assignment []int) float64 {
	total := 0.0
	for i, j := range assignment {
		if j >= 0 {
			total += score.At(i, j)
		}
	}
	return total
}
